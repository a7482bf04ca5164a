package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/common"
)

// JobSchema returns the JSON Schema every queue payload must satisfy.
func JobSchema() map[string]any {
	document := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"source_ref":    map[string]any{"type": "string", "minLength": 1},
			"category_hint": map[string]any{"type": "string"},
		},
		"required": []string{"source_ref"},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"task_id":       map[string]any{"type": "string", "minLength": 1},
			"task_type":     map[string]any{"type": "string", "enum": []string{string(constants.TaskTypeSingle), string(constants.TaskTypeBatch)}},
			"source_ref":    map[string]any{"type": "string"},
			"category_hint": map[string]any{"type": "string"},
			"callback_ref":  map[string]any{"type": "string"},
			"batch_id":      map[string]any{"type": "string"},
			"documents":     map[string]any{"type": "array", "items": document},
			"attempt":       map[string]any{"type": "integer", "minimum": 0},
			"enqueued_at":   map[string]any{"type": "string"},
			"scheduled_by":  map[string]any{"type": "string"},
		},
		"required": []string{"task_id", "task_type", "attempt"},
		"allOf": []any{
			map[string]any{
				"if":   map[string]any{"properties": map[string]any{"task_type": map[string]any{"const": string(constants.TaskTypeSingle)}}},
				"then": map[string]any{"properties": map[string]any{"source_ref": map[string]any{"minLength": 1}}, "required": []string{"source_ref"}},
			},
			map[string]any{
				"if":   map[string]any{"properties": map[string]any{"task_type": map[string]any{"const": string(constants.TaskTypeBatch)}}},
				"then": map[string]any{"properties": map[string]any{"documents": map[string]any{"minItems": 1}}, "required": []string{"documents"}},
			},
		},
	}
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func jobSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(JobSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("job.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("job.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidatePayload checks a raw payload against JobSchema.
func ValidatePayload(data []byte) error {
	schema, err := jobSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return common.NewAppError("INVALID_PAYLOAD", "payload is not json", fmt.Errorf("%w: %w", common.ErrInvalidInput, err))
	}
	if err := schema.Validate(v); err != nil {
		return common.NewAppError("INVALID_PAYLOAD", "payload does not match job schema", fmt.Errorf("%w: %w", common.ErrInvalidInput, err))
	}
	return nil
}
