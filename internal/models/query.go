// internal/models/query.go
package models

// QueryType classifies an identifying query string.
type QueryType string

const (
	QueryTypeEmail QueryType = "email"
	QueryTypePhone QueryType = "phone"
	QueryTypeName  QueryType = "name"
)

// Valid reports whether the query type is one of the known classifications.
func (q QueryType) Valid() bool {
	switch q {
	case QueryTypeEmail, QueryTypePhone, QueryTypeName:
		return true
	}
	return false
}

// SeedField returns the profile field a query of this type seeds directly.
func (q QueryType) SeedField() string {
	switch q {
	case QueryTypeEmail:
		return "email"
	case QueryTypePhone:
		return "phone"
	default:
		return "name"
	}
}
