package types

// CatalogSpec is a model definition in the display form used by the editor
// and stored in the catalog. Label carries the model's original name; Name
// is its lowercased identifier.
type CatalogSpec struct {
	Name        string     `json:"name" yaml:"name"`
	Label       string     `json:"label,omitempty" yaml:"label,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Icon        string     `json:"icon,omitempty" yaml:"icon,omitempty"`
	Language    string     `json:"language,omitempty" yaml:"language,omitempty"`
	Args        StringList `json:"args,omitempty" yaml:"args,omitempty"`
	Driver      string     `json:"driver,omitempty" yaml:"driver,omitempty"`
	Inports     []Port     `json:"inports,omitempty" yaml:"inports,omitempty"`
	Outports    []Port     `json:"outports,omitempty" yaml:"outports,omitempty"`
}

// ModelDocument is the on-disk envelope of a model in the catalog repository.
type ModelDocument struct {
	Model ModelSpec `json:"model" yaml:"model"`
}
