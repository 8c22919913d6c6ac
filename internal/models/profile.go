// internal/models/profile.go
package models

import "time"

// SourceRecord is the raw field set one upstream source returned for a single
// query. A nil record means the source reported no match.
type SourceRecord struct {
	Source string                 `json:"source"`
	Fields map[string]interface{} `json:"fields"`
}

// Empty reports whether the record carries no usable fields.
func (r *SourceRecord) Empty() bool {
	return r == nil || len(r.Fields) == 0
}

// SourceAttribution records which source supplied one populated profile field.
// Entries with Field == "error" record a source failure instead of a value.
type SourceAttribution struct {
	Field  string      `json:"field"`
	Value  interface{} `json:"value"`
	Source string      `json:"source"`
}

// UserProfile is the consolidated output of one query: a flat field map plus
// the ordered provenance list. Profiles are built fresh per query and never
// mutated after being returned.
type UserProfile struct {
	Query           string                 `json:"query"`
	QueryType       QueryType              `json:"queryType"`
	Fields          map[string]interface{} `json:"fields"`
	SourceBreakdown []SourceAttribution    `json:"sourceBreakdown"`
	RetrievedAt     time.Time              `json:"retrievedAt"`
}
