package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const metadataSchema = `{
	"type": "object",
	"properties": {
		"customerName": {"type": ["string", "null"]},
		"customerEmail": {"type": ["string", "null"]},
		"invoiceNumber": {"type": ["string", "null"]},
		"invoiceDate": {"type": ["string", "null"]},
		"totalAmount": {"type": ["number", "null"]},
		"currency": {"type": ["string", "null"]},
		"extractionConfidence": {"type": "number", "minimum": 0, "maximum": 100}
	},
	"required": ["extractionConfidence"]
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("metadata.json", strings.NewReader(metadataSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("metadata.json")
	})
	return compiledSchema, schemaErr
}

// ValidateMetadata checks model output against the invoice metadata schema
func ValidateMetadata(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("metadata does not match schema: %w", err)
	}

	return nil
}
