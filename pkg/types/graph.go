package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Process component names with special meaning in a graph.
const (
	ComponentInport  = "inport"
	ComponentOutport = "outport"
)

// Read/write methods understood by the model runner.
const (
	MethodTable      = "table"
	MethodTableArray = "table_array"
)

// PortTypeAll marks a port that accepts any data type.
const PortTypeAll = "all"

// Graph is a flow-based-programming graph as saved by the visual editor.
type Graph struct {
	Caption     string         `json:"caption,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Processes   ProcessMap     `json:"processes"`
	Connections []Connection   `json:"connections"`
}

// Process is a node in the graph. Component is either "inport", "outport"
// or the catalog name of a registered model.
type Process struct {
	Component string          `json:"component"`
	Metadata  ProcessMetadata `json:"metadata"`
}

// IsInport reports whether the process stands for a file-backed data source.
func (p Process) IsInport() bool { return p.Component == ComponentInport }

// IsOutport reports whether the process stands for a file-backed data sink.
func (p Process) IsOutport() bool { return p.Component == ComponentOutport }

// ProcessMetadata carries editor layout and, for inports and outports, the
// description of the single port the process exposes.
type ProcessMetadata struct {
	Label     string  `json:"label,omitempty"`
	Name      string  `json:"name,omitempty"`
	Type      string  `json:"type,omitempty"`
	ReadMeth  string  `json:"read_meth,omitempty"`
	WriteMeth string  `json:"write_meth,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
}

// Connection is a directed edge between two process ports.
type Connection struct {
	Src      Endpoint            `json:"src"`
	Tgt      Endpoint            `json:"tgt"`
	Metadata *ConnectionMetadata `json:"metadata,omitempty"`
}

// Endpoint addresses one port of one process.
type Endpoint struct {
	Process string `json:"process"`
	Port    string `json:"port"`
}

// ConnectionMetadata holds optional per-edge annotations.
type ConnectionMetadata struct {
	FieldNames string `json:"field_names,omitempty"`
	Route      int    `json:"route,omitempty"`
}

// Port is a named, typed endpoint. Method is only set for inport/outport
// processes and names the file read or write mechanism.
type Port struct {
	Name   string `json:"name" yaml:"name"`
	Label  string `json:"label,omitempty" yaml:"label,omitempty"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
}

// DisplayName returns the label, falling back to the name.
func (p Port) DisplayName() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Name
}

// ProcessMap is a JSON object of processes that remembers key order, so a
// translated graph lists its components in the order they were saved.
type ProcessMap struct {
	keys  []string
	procs map[string]Process
}

// Set adds or replaces a process. A replaced process keeps its position.
func (m *ProcessMap) Set(key string, p Process) {
	if m.procs == nil {
		m.procs = make(map[string]Process)
	}
	if _, ok := m.procs[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.procs[key] = p
}

// Get returns the process stored under key.
func (m ProcessMap) Get(key string) (Process, bool) {
	p, ok := m.procs[key]
	return p, ok
}

// Keys returns process keys in document order.
func (m ProcessMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of processes.
func (m ProcessMap) Len() int { return len(m.keys) }

// UnmarshalJSON decodes a JSON object while recording key order.
func (m *ProcessMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = ProcessMap{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("processes: expected object, got %v", tok)
	}

	*m = ProcessMap{procs: make(map[string]Process)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("processes: expected key, got %v", tok)
		}
		var p Process
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("process %q: %w", key, err)
		}
		m.Set(key, p)
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON encodes processes in their recorded order.
func (m ProcessMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.procs[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseGraph decodes an FBP graph document.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	return &g, nil
}
