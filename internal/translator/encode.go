package translator

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// Encode serializes an execution model as YAML with a top-level models and
// connections list. Output is stable for a given model.
func Encode(m *types.ExecutionModel) ([]byte, error) {
	return encodeYAML(m)
}

// Decode parses a YAML execution model.
func Decode(data []byte) (*types.ExecutionModel, error) {
	var m types.ExecutionModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode execution model: %w", err)
	}
	return &m, nil
}

// EncodeModel serializes a single model in the catalog repository layout
// (a document with one top-level "model" key).
func EncodeModel(m types.ModelSpec) ([]byte, error) {
	return encodeYAML(types.ModelDocument{Model: m})
}

// DecodeModel parses a catalog repository model document.
func DecodeModel(data []byte) (types.ModelSpec, error) {
	var doc types.ModelDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return types.ModelSpec{}, fmt.Errorf("decode model: %w", err)
	}
	if doc.Model.Name == "" {
		return types.ModelSpec{}, fmt.Errorf("decode model: missing model.name")
	}
	return doc.Model, nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}
