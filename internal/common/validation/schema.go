// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON schema used to validate upstream source payloads
// before their fields are trusted for consolidation.
type Schema struct {
	compiled *gojsonschema.Schema
}

// MustCompile compiles a schema document at startup. Source response schemas
// are package constants, so a compile failure is a programming error.
func MustCompile(document string) *Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		panic(fmt.Sprintf("invalid response schema: %v", err))
	}
	return &Schema{compiled: compiled}
}

// Validate checks a raw JSON payload against the schema and returns a single
// error describing every violation, or nil when the payload conforms.
func (s *Schema) Validate(payload []byte) error {
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	if result.Valid() {
		return nil
	}

	descs := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		descs = append(descs, verr.String())
	}
	return fmt.Errorf("schema violations: %s", strings.Join(descs, "; "))
}
