// Package query classifies and normalizes raw identifying queries.
package query

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nyaruka/phonenumbers"

	"profile-gateway/internal/common/config"
	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/models"
)

const (
	minPhoneDigits = 7
	maxNameLength  = 200
)

var (
	// emailPattern is RFC-lite: local@domain.tld. Stricter grammars reject
	// addresses the upstream sources happily match on.
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

	whitespaceRun = regexp.MustCompile(`\s+`)
)

// Classifier classifies a raw query string as email, phone, or name and
// produces the canonical form the source clients and cache key on.
type Classifier struct {
	defaultRegion      string
	defaultCountryCode string
	logger             logger.Logger
}

func NewClassifier(cfg config.QueryConfig, log logger.Logger) *Classifier {
	return &Classifier{
		defaultRegion:      cfg.DefaultRegion,
		defaultCountryCode: cfg.DefaultCountryCode,
		logger:             log.WithFields(map[string]interface{}{"component": "classifier"}),
	}
}

// Classify maps every input to exactly one query type. The priority order is
// a deliberate tie-break: an email-looking string is never treated as a name
// or phone even when it contains enough digits.
func (c *Classifier) Classify(raw string) models.QueryType {
	trimmed := strings.TrimSpace(raw)

	if strings.Contains(trimmed, "@") {
		return models.QueryTypeEmail
	}
	if isPhoneShaped(trimmed) {
		return models.QueryTypePhone
	}
	return models.QueryTypeName
}

// isPhoneShaped reports whether s looks like a phone number: only digits and
// separators, with at least minPhoneDigits bare digits once separators are
// stripped.
func isPhoneShaped(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '+' && i == 0 {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		switch r {
		case '.', '-', '(', ')', ' ':
			continue
		}
		return false
	}
	return digitCount(s) >= minPhoneDigits
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Normalize canonicalizes raw for its query type. Normalize is idempotent:
// feeding its own output back produces the same string.
func (c *Classifier) Normalize(raw string, queryType models.QueryType) string {
	trimmed := strings.TrimSpace(raw)

	switch queryType {
	case models.QueryTypeEmail:
		return strings.ToLower(trimmed)

	case models.QueryTypePhone:
		return c.normalizePhone(trimmed)

	default:
		// Case is preserved: name lookups may be case-sensitive on exact
		// match and case-insensitive on partial match, so normalization
		// must not destroy it.
		return whitespaceRun.ReplaceAllString(trimmed, " ")
	}
}

// normalizePhone attempts a real E.164 parse for the default region and falls
// back to stripping separators and prefixing the default country code.
func (c *Classifier) normalizePhone(trimmed string) string {
	num, err := phonenumbers.Parse(trimmed, c.defaultRegion)
	if err == nil {
		return phonenumbers.Format(num, phonenumbers.E164)
	}

	stripped := stripSeparators(trimmed)
	if strings.HasPrefix(stripped, "+") {
		return stripped
	}
	return "+" + c.defaultCountryCode + stripped
}

// stripSeparators drops the accepted separator characters, keeping digits and
// a leading "+".
func stripSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate checks a normalized query. Email and name violations are hard
// failures surfaced before any upstream call; phone validation is a soft
// warning only, because phone formats are too heterogeneous globally to
// reject strictly — sources simply return no match for a bad number.
func (c *Classifier) Validate(normalized string, queryType models.QueryType) error {
	if normalized == "" {
		return gwerrors.NewInvalidQueryError("query is empty")
	}

	switch queryType {
	case models.QueryTypeEmail:
		if !emailPattern.MatchString(normalized) {
			return gwerrors.NewInvalidQueryError(fmt.Sprintf("malformed email: %s", normalized))
		}

	case models.QueryTypePhone:
		num, err := phonenumbers.Parse(normalized, "")
		if err != nil || !phonenumbers.IsValidNumber(num) {
			c.logger.Warn("phone failed strict validation, proceeding anyway", map[string]interface{}{
				"phone": normalized,
			})
		}

	case models.QueryTypeName:
		if utf8.RuneCountInString(normalized) > maxNameLength {
			return gwerrors.NewInvalidQueryError(fmt.Sprintf("name exceeds %d characters", maxNameLength))
		}

	default:
		return gwerrors.NewInvalidQueryTypeError(string(queryType))
	}

	return nil
}
