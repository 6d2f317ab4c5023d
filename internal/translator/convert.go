package translator

import (
	"strings"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// ToDisplayForm converts an execution-form model into the catalog form shown
// by the editor. The original name becomes the label and the name is
// lowercased; input and output names become ports of type "all".
func ToDisplayForm(m types.ModelSpec) types.CatalogSpec {
	return types.CatalogSpec{
		Name:     strings.ToLower(m.Name),
		Label:    m.Name,
		Language: m.Language,
		Args:     cloneStrings(m.Args),
		Driver:   m.Driver,
		Inports:  namesToPorts(m.Inputs),
		Outports: namesToPorts(m.Outputs),
	}
}

// ToExecutionForm is the inverse of ToDisplayForm. Cosmetic fields (label,
// icon, description) and per-port attributes other than the name are
// dropped.
func ToExecutionForm(c types.CatalogSpec) types.ModelSpec {
	name := c.Label
	if name == "" {
		name = c.Name
	}
	return types.ModelSpec{
		Name:     name,
		Language: c.Language,
		Args:     cloneStrings(c.Args),
		Driver:   c.Driver,
		Inputs:   portsToNames(c.Inports),
		Outputs:  portsToNames(c.Outports),
	}
}

func namesToPorts(names []string) []types.Port {
	if names == nil {
		return nil
	}
	ports := make([]types.Port, len(names))
	for i, n := range names {
		ports[i] = types.Port{Name: n, Label: n, Type: types.PortTypeAll}
	}
	return ports
}

func portsToNames(ports []types.Port) []string {
	if ports == nil {
		return nil
	}
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return names
}

func cloneStrings[S ~[]string](s S) S {
	if s == nil {
		return nil
	}
	out := make(S, len(s))
	copy(out, s)
	return out
}
