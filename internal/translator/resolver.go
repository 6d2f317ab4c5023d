package translator

import (
	"fmt"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// PortIndex classifies the processes of a graph into inports, outports and
// ordinary components.
type PortIndex struct {
	inports    map[string]types.ProcessMetadata
	outports   map[string]types.ProcessMetadata
	components map[string]string
}

// NewPortIndex classifies every process of procs by its component.
func NewPortIndex(procs types.ProcessMap) *PortIndex {
	idx := &PortIndex{
		inports:    make(map[string]types.ProcessMetadata),
		outports:   make(map[string]types.ProcessMetadata),
		components: make(map[string]string),
	}
	for _, key := range procs.Keys() {
		p, _ := procs.Get(key)
		switch {
		case p.IsInport():
			idx.inports[key] = p.Metadata
		case p.IsOutport():
			idx.outports[key] = p.Metadata
		default:
			idx.components[key] = p.Component
		}
	}
	return idx
}

// Has reports whether key names any process.
func (idx *PortIndex) Has(key string) bool {
	_, in := idx.inports[key]
	_, out := idx.outports[key]
	_, comp := idx.components[key]
	return in || out || comp
}

// IsComponent reports whether key names an ordinary model process.
func (idx *PortIndex) IsComponent(key string) bool {
	_, ok := idx.components[key]
	return ok
}

// Inport returns the port exposed by an inport process.
func (idx *PortIndex) Inport(key string) (types.Port, bool, error) {
	md, ok := idx.inports[key]
	if !ok {
		return types.Port{}, false, nil
	}
	port, err := portFromMetadata(key, types.ComponentInport, md, md.ReadMeth, "read_meth")
	return port, true, err
}

// Outport returns the port exposed by an outport process. The write method
// is optional; a sink without one leaves the connection filetype unset.
func (idx *PortIndex) Outport(key string) (types.Port, bool, error) {
	md, ok := idx.outports[key]
	if !ok {
		return types.Port{}, false, nil
	}
	port, err := portFromMetadata(key, types.ComponentOutport, md, md.WriteMeth, "")
	return port, true, err
}

func portFromMetadata(key, kind string, md types.ProcessMetadata, method, methodField string) (types.Port, error) {
	if md.Name == "" && md.Label == "" {
		return types.Port{}, &UnresolvedPortError{Process: key, Kind: kind, Field: "name"}
	}
	if md.Type == "" {
		return types.Port{}, &UnresolvedPortError{Process: key, Kind: kind, Field: "type"}
	}
	if methodField != "" && method == "" {
		return types.Port{}, &UnresolvedPortError{Process: key, Kind: kind, Field: methodField}
	}
	return types.Port{Name: md.Name, Label: md.Label, Type: md.Type, Method: method}, nil
}

// Resolve turns one graph connection into its execution form.
func Resolve(idx *PortIndex, conn types.Connection) (types.ResolvedConnection, error) {
	var out types.ResolvedConnection

	inport, isInport, err := idx.Inport(conn.Src.Process)
	if err != nil {
		return out, err
	}
	outport, isOutport, err := idx.Outport(conn.Tgt.Process)
	if err != nil {
		return out, err
	}

	switch {
	case isInport:
		out.Input = inport.DisplayName()
		out.Filetype = inport.Method
		out.Output = conn.Tgt.Port
	case isOutport:
		out.Input = conn.Src.Port
		out.Filetype = outport.Method
		out.Output = outport.DisplayName()
	default:
		out.Input = conn.Src.Port
		out.Output = conn.Tgt.Port
	}

	switch {
	case conn.Metadata != nil && conn.Metadata.FieldNames != "":
		out.FieldNames = conn.Metadata.FieldNames
	case idx.IsComponent(conn.Src.Process) && idx.IsComponent(conn.Tgt.Process):
		out.FieldNames = conn.Src.Port
	}

	if out.Filetype == types.MethodTableArray {
		out.Filetype = types.MethodTable
		out.AsArray = true
	}

	if out.Input == "" || out.Output == "" {
		return out, fmt.Errorf("connection %s.%s -> %s.%s: empty port name",
			conn.Src.Process, conn.Src.Port, conn.Tgt.Process, conn.Tgt.Port)
	}
	return out, nil
}
