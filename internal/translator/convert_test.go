package translator

import (
	"reflect"
	"testing"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

func TestConvert_RoundTrip(t *testing.T) {
	fixtures := []types.ModelSpec{
		{
			Name:     "LightModel",
			Language: "c",
			Args:     types.StringList{"example-fakeplant/src/light.c", "-lm"},
			Inputs:   []string{"ambient_light", "canopy_structure"},
			Outputs:  []string{"light_intensity"},
		},
		{
			Name:   "GrowthModel",
			Driver: "PythonModelDriver",
			Args:   types.StringList{"growth.py"},
			Inputs: []string{"light_intensity"},
		},
		{Name: "Empty"},
		{Name: "NoPorts", Language: "python", Inputs: []string{}, Outputs: []string{}},
	}

	for _, m := range fixtures {
		t.Run(m.Name, func(t *testing.T) {
			got := ToExecutionForm(ToDisplayForm(m))
			if !reflect.DeepEqual(got, m) {
				t.Errorf("round trip mismatch:\nwant %#v\ngot  %#v", m, got)
			}
		})
	}
}

func TestToDisplayForm(t *testing.T) {
	got := ToDisplayForm(types.ModelSpec{
		Name:    "LightModel",
		Inputs:  []string{"ambient_light"},
		Outputs: []string{"light_intensity"},
	})

	if got.Name != "lightmodel" {
		t.Errorf("expected name %q, got %q", "lightmodel", got.Name)
	}
	if got.Label != "LightModel" {
		t.Errorf("expected label %q, got %q", "LightModel", got.Label)
	}
	want := []types.Port{{Name: "ambient_light", Label: "ambient_light", Type: "all"}}
	if !reflect.DeepEqual(got.Inports, want) {
		t.Errorf("expected inports %+v, got %+v", want, got.Inports)
	}
}

func TestToExecutionForm_DropsCosmeticFields(t *testing.T) {
	got := ToExecutionForm(types.CatalogSpec{
		Name:        "lightmodel",
		Label:       "LightModel",
		Description: "computes light",
		Icon:        "sun",
		Inports:     []types.Port{{Name: "ambient_light", Label: "Ambient", Type: "table"}},
	})

	want := types.ModelSpec{Name: "LightModel", Inputs: []string{"ambient_light"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	t.Run("falls back to name without label", func(t *testing.T) {
		got := ToExecutionForm(types.CatalogSpec{Name: "plain"})
		if got.Name != "plain" {
			t.Errorf("expected name %q, got %q", "plain", got.Name)
		}
	})
}
