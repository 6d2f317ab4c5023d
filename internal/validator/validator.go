// Package validator provides JSON schema validation for FBP graphs, catalog
// specs and execution models.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// Validator validates documents against the embedded schemas.
type Validator struct {
	graphSchema *jsonschema.Schema
	specSchema  *jsonschema.Schema
	modelSchema *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// InvalidDocumentError reports a document that failed schema validation.
type InvalidDocumentError struct {
	Kind   string
	Errors []ValidationError
}

func (e *InvalidDocumentError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		path := ve.Path
		if path == "" {
			path = "/"
		}
		parts = append(parts, path+": "+ve.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Kind, strings.Join(parts, "; "))
}

// Err returns nil for a valid result and an *InvalidDocumentError otherwise.
func (r *ValidationResult) Err(kind string) error {
	if r.Valid {
		return nil
	}
	return &InvalidDocumentError{Kind: kind, Errors: r.Errors}
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	schemas := map[string]string{
		"graph.json": graphSchemaJSON,
		"spec.json":  specSchemaJSON,
		"model.json": modelSchemaJSON,
	}
	for name, src := range schemas {
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add %s: %w", name, err)
		}
	}

	v := &Validator{}
	var err error
	if v.graphSchema, err = compiler.Compile("graph.json"); err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}
	if v.specSchema, err = compiler.Compile("spec.json"); err != nil {
		return nil, fmt.Errorf("compile spec schema: %w", err)
	}
	if v.modelSchema, err = compiler.Compile("model.json"); err != nil {
		return nil, fmt.Errorf("compile model schema: %w", err)
	}
	return v, nil
}

// ValidateGraphJSON validates a JSON-encoded FBP graph.
func (v *Validator) ValidateGraphJSON(data []byte) *ValidationResult {
	return v.validateJSON(v.graphSchema, data)
}

// ValidateSpec validates a catalog spec in display form.
func (v *Validator) ValidateSpec(spec *types.CatalogSpec) *ValidationResult {
	return v.validateValue(v.specSchema, spec)
}

// ValidateModel validates a translated execution model.
func (v *Validator) ValidateModel(m *types.ExecutionModel) *ValidationResult {
	return v.validateValue(v.modelSchema, m)
}

// validateValue round-trips a Go value through JSON so the schema sees the
// same shape a client would send.
func (v *Validator) validateValue(schema *jsonschema.Schema, value any) *ValidationResult {
	data, err := json.Marshal(value)
	if err != nil {
		return &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Path: "$", Message: fmt.Sprintf("encode: %v", err)}},
		}
	}
	return v.validateJSON(schema, data)
}

func (v *Validator) validateJSON(schema *jsonschema.Schema, data []byte) *ValidationResult {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.validate(schema, doc)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}
	return result
}

// extractErrors flattens the cause tree, keeping only leaf messages.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	if len(verr.Causes) == 0 {
		return []ValidationError{{Path: verr.InstanceLocation, Message: verr.Message}}
	}

	var errs []ValidationError
	for _, cause := range verr.Causes {
		errs = append(errs, extractErrors(cause)...)
	}
	return errs
}

// Embedded JSON schemas

const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "graph.json",
  "title": "FBP Graph",
  "type": "object",
  "required": ["processes", "connections"],
  "properties": {
    "caption": {"type": "string"},
    "properties": {"type": "object"},
    "processes": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["component"],
        "properties": {
          "component": {"type": "string", "minLength": 1},
          "metadata": {
            "type": "object",
            "properties": {
              "label": {"type": "string"},
              "name": {"type": "string"},
              "type": {"type": "string"},
              "read_meth": {"type": "string"},
              "write_meth": {"type": "string"},
              "x": {"type": "number"},
              "y": {"type": "number"}
            }
          }
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["src", "tgt"],
        "properties": {
          "src": {"$ref": "#/$defs/endpoint"},
          "tgt": {"$ref": "#/$defs/endpoint"},
          "metadata": {
            "type": "object",
            "properties": {
              "field_names": {"type": "string"},
              "route": {"type": "integer"}
            }
          }
        }
      }
    }
  },
  "$defs": {
    "endpoint": {
      "type": "object",
      "required": ["process", "port"],
      "properties": {
        "process": {"type": "string", "minLength": 1},
        "port": {"type": "string"}
      }
    }
  }
}`

const specSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "spec.json",
  "title": "Catalog Spec",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "label": {"type": "string"},
    "description": {"type": "string"},
    "icon": {"type": "string"},
    "language": {"type": "string"},
    "args": {"type": "array", "items": {"type": "string"}},
    "driver": {"type": "string"},
    "inports": {"type": "array", "items": {"$ref": "#/$defs/port"}},
    "outports": {"type": "array", "items": {"$ref": "#/$defs/port"}}
  },
  "$defs": {
    "port": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "label": {"type": "string"},
        "type": {"type": "string"}
      }
    }
  }
}`

const modelSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "model.json",
  "title": "Execution Model",
  "type": "object",
  "required": ["models", "connections"],
  "properties": {
    "models": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "language": {"type": "string"},
          "args": {"type": "array", "items": {"type": "string"}},
          "driver": {"type": "string"},
          "inputs": {"type": "array", "items": {"type": "string", "minLength": 1}},
          "outputs": {"type": "array", "items": {"type": "string", "minLength": 1}}
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["input", "output"],
        "properties": {
          "input": {"type": "string", "minLength": 1},
          "output": {"type": "string", "minLength": 1},
          "filetype": {"type": "string"},
          "field_names": {"type": "string"},
          "as_array": {"type": "boolean"}
        }
      }
    }
  }
}`
