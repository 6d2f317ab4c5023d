package types

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ExecutionModel is the driver-ready form of a translated graph: the model
// instances to run and the resolved connections between them.
type ExecutionModel struct {
	Models      []ModelSpec          `json:"models" yaml:"models"`
	Connections []ResolvedConnection `json:"connections" yaml:"connections"`

	keys []string
}

// AddModel appends a model instance under the graph process key it came from.
func (m *ExecutionModel) AddModel(key string, spec ModelSpec) {
	m.keys = append(m.keys, key)
	m.Models = append(m.Models, spec)
}

// Model returns the model instance created for a graph process key.
func (m *ExecutionModel) Model(key string) (ModelSpec, bool) {
	for i, k := range m.keys {
		if k == key {
			return m.Models[i], true
		}
	}
	return ModelSpec{}, false
}

// Keys returns the process keys of Models, index for index.
func (m *ExecutionModel) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// ModelSpec is a model in execution form.
type ModelSpec struct {
	Name     string     `json:"name" yaml:"name"`
	Language string     `json:"language,omitempty" yaml:"language,omitempty"`
	Args     StringList `json:"args,omitempty" yaml:"args,omitempty"`
	Driver   string     `json:"driver,omitempty" yaml:"driver,omitempty"`
	Inputs   []string   `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs  []string   `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// ResolvedConnection is a connection after inport/outport resolution.
type ResolvedConnection struct {
	Input      string `json:"input" yaml:"input"`
	Output     string `json:"output" yaml:"output"`
	Filetype   string `json:"filetype,omitempty" yaml:"filetype,omitempty"`
	FieldNames string `json:"field_names,omitempty" yaml:"field_names,omitempty"`
	AsArray    bool   `json:"as_array,omitempty" yaml:"as_array,omitempty"`
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = many
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*l = many
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", value.Line)
	}
}
