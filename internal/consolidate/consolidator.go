// Package consolidate merges per-source records into a single profile under
// a fixed precedence order, recording per-field provenance as it goes.
package consolidate

import (
	"sort"
	"time"

	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/models"
)

// SourceQuery is the synthetic provenance source for the field seeded from
// the query itself.
const SourceQuery = "query"

// LookupResult pairs one source's outcome. Record == nil with Err == nil
// means the source answered cleanly but holds no data; a non-nil Err means
// the lookup failed and is attributed in the breakdown as field "error".
type LookupResult struct {
	Record *models.SourceRecord
	Err    error
}

// listCountFields maps list-valued fields to the derived count field written
// alongside them. The count carries the same provenance as the list.
var listCountFields = map[string]string{
	"medications": "medicationCount",
	"allergies":   "allergyCount",
}

// planDisplayNames maps internal plan identifiers to customer-facing names.
// Unknown identifiers pass through unchanged.
var planDisplayNames = map[string]string{
	"plan_basic_m": "basic-monthly",
	"plan_basic_y": "basic-yearly",
	"plan_pro_m":   "pro-monthly",
	"plan_pro_y":   "pro-yearly",
	"plan_ent_m":   "enterprise-monthly",
	"plan_ent_y":   "enterprise-yearly",
}

// Consolidator applies first-wins merging: a field set by an earlier
// precedence source is never overwritten by a later one.
type Consolidator struct {
	precedence []string
	logger     logger.Logger
}

func New(precedence []string, log logger.Logger) *Consolidator {
	return &Consolidator{
		precedence: precedence,
		logger:     log.WithFields(map[string]interface{}{"component": "consolidator"}),
	}
}

// Consolidate builds the profile for one query from the fan-out results.
// Output is deterministic for identical inputs: sources are walked in
// precedence order and each source's fields in sorted name order. When no
// source contributed data the result is a NO_DATA_FOUND error, even if some
// sources failed.
func (c *Consolidator) Consolidate(results map[string]LookupResult, query string, queryType models.QueryType) (*models.UserProfile, error) {
	profile := &models.UserProfile{
		Query:           query,
		QueryType:       queryType,
		Fields:          make(map[string]interface{}),
		SourceBreakdown: make([]models.SourceAttribution, 0, 8),
		RetrievedAt:     time.Now().UTC(),
	}

	seed := queryType.SeedField()
	profile.Fields[seed] = query
	profile.SourceBreakdown = append(profile.SourceBreakdown, models.SourceAttribution{
		Field:  seed,
		Value:  query,
		Source: SourceQuery,
	})

	anyData := false
	for _, source := range c.precedence {
		result, ok := results[source]
		if !ok {
			continue
		}

		if result.Err != nil {
			profile.SourceBreakdown = append(profile.SourceBreakdown, models.SourceAttribution{
				Field:  "error",
				Value:  result.Err.Error(),
				Source: source,
			})
			continue
		}
		if result.Record.Empty() || !hasNonEmptyField(result.Record) {
			continue
		}

		anyData = true
		c.mergeRecord(profile, source, result.Record)
	}

	if !anyData {
		return nil, gwerrors.NewNoDataFoundError(query)
	}

	c.logger.Debug("profile consolidated", map[string]interface{}{
		"query_type":  string(queryType),
		"field_count": len(profile.Fields),
		"attribution": len(profile.SourceBreakdown),
	})
	return profile, nil
}

func (c *Consolidator) mergeRecord(profile *models.UserProfile, source string, record *models.SourceRecord) {
	names := make([]string, 0, len(record.Fields))
	for name := range record.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, taken := profile.Fields[name]; taken {
			continue
		}

		value := record.Fields[name]
		if emptyValue(value) {
			// An empty value never claims a field; a later source may
			// still hold the real one.
			continue
		}
		if name == "plan" {
			if id, ok := value.(string); ok {
				value = displayPlan(id)
			}
		}

		profile.Fields[name] = value
		profile.SourceBreakdown = append(profile.SourceBreakdown, models.SourceAttribution{
			Field:  name,
			Value:  value,
			Source: source,
		})

		countField, isList := listCountFields[name]
		if !isList {
			continue
		}
		if _, taken := profile.Fields[countField]; taken {
			continue
		}
		if n, ok := listLen(value); ok {
			profile.Fields[countField] = n
			profile.SourceBreakdown = append(profile.SourceBreakdown, models.SourceAttribution{
				Field:  countField,
				Value:  n,
				Source: source,
			})
		}
	}
}

// hasNonEmptyField reports whether the record holds at least one value that
// would survive the empty-value skip.
func hasNonEmptyField(record *models.SourceRecord) bool {
	for _, value := range record.Fields {
		if !emptyValue(value) {
			return true
		}
	}
	return false
}

// emptyValue reports whether a source field value counts as absent for
// precedence purposes: nil, an empty string, or an empty list.
func emptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	}
	return false
}

func displayPlan(id string) string {
	if name, ok := planDisplayNames[id]; ok {
		return name
	}
	return id
}

func listLen(value interface{}) (int, bool) {
	switch v := value.(type) {
	case []string:
		return len(v), true
	case []interface{}:
		return len(v), true
	}
	return 0, false
}
