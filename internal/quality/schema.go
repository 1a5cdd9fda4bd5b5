package quality

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed report.schema.json
var reportSchemaJSON string

var (
	reportSchemaOnce sync.Once
	reportSchema     *gojsonschema.Schema
	reportSchemaErr  error
)

// FieldError is one schema violation at a JSON path.
type FieldError struct {
	Field   string
	Message string
}

// DocumentError lists the schema violations of a report document.
type DocumentError struct {
	Errors []FieldError
}

func (e *DocumentError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "report document does not match schema: " + strings.Join(parts, "; ")
}

func loadReportSchema() (*gojsonschema.Schema, error) {
	reportSchemaOnce.Do(func() {
		reportSchema, reportSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(reportSchemaJSON))
	})
	return reportSchema, reportSchemaErr
}

// MarshalDocument encodes doc and validates it against the embedded report
// schema.
func MarshalDocument(doc Document) ([]byte, error) {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func ValidateDocument(raw []byte) error {
	schema, err := loadReportSchema()
	if err != nil {
		return fmt.Errorf("load report schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate report: %w", err)
	}
	if result.Valid() {
		return nil
	}
	derr := &DocumentError{Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		derr.Errors = append(derr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return derr
}
