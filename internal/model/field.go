package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FieldType declares how observations for a field are normalized and
// clustered during reconciliation.
type FieldType string

const (
	FieldTypeNumeric FieldType = "numeric"
	FieldTypeText    FieldType = "text"
	FieldTypeDate    FieldType = "date"
)

// FieldSpec describes one tracked field for competitive entities.
type FieldSpec struct {
	Key          string    `json:"key" yaml:"key"`
	Label        string    `json:"label,omitempty" yaml:"label,omitempty"`
	Type         FieldType `json:"type" yaml:"type"`
	Tolerance    float64   `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`         // relative, overrides the global default when > 0
	LookbackDays int       `json:"lookback_days,omitempty" yaml:"lookback_days,omitempty"` // 0 = unbounded
	Required     bool      `json:"required,omitempty" yaml:"required,omitempty"`
}

// FieldRegistry is an indexed collection of tracked field specs. Completeness
// in quality rollups is computed against this registry.
type FieldRegistry struct {
	Fields []FieldSpec
	byKey  map[string]*FieldSpec
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups.
func NewFieldRegistry(fields []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byKey:  make(map[string]*FieldSpec, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		if f.Type == "" {
			f.Type = FieldTypeText
		}
		r.byKey[f.Key] = f
	}
	return r
}

// ByKey returns the spec for the given field key, or nil if not tracked.
func (r *FieldRegistry) ByKey(key string) *FieldSpec {
	return r.byKey[key]
}

// Keys returns all tracked field keys in registry order.
func (r *FieldRegistry) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for i := range r.Fields {
		keys = append(keys, r.Fields[i].Key)
	}
	return keys
}

// DefaultFields returns the built-in tracked field set, used when no
// registry file is configured.
func DefaultFields() []FieldSpec {
	return []FieldSpec{
		{Key: "customer_count", Label: "Customer Count", Type: FieldTypeNumeric, Required: true},
		{Key: "headcount", Label: "Headcount", Type: FieldTypeNumeric, Required: true},
		{Key: "price", Label: "List Price", Type: FieldTypeNumeric},
		{Key: "revenue", Label: "Annual Revenue", Type: FieldTypeNumeric},
		{Key: "funding_total", Label: "Total Funding", Type: FieldTypeNumeric},
		{Key: "hq_location", Label: "HQ Location", Type: FieldTypeText},
		{Key: "ceo", Label: "CEO", Type: FieldTypeText},
		{Key: "pricing_model", Label: "Pricing Model", Type: FieldTypeText},
	}
}

// LoadFieldsFromFile reads a YAML tracked-field list. The file replaces the
// defaults entirely: the registry defines what completeness is measured
// against, so a partial overlay would leave untracked fields unremovable.
func LoadFieldsFromFile(path string) (*FieldRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read fields %s", path)
	}

	var wrapper struct {
		Fields []FieldSpec `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "model: parse fields")
	}
	if len(wrapper.Fields) == 0 {
		return nil, eris.Errorf("model: no fields defined in %s", path)
	}
	for _, f := range wrapper.Fields {
		if f.Key == "" {
			return nil, eris.New("model: field spec missing key")
		}
	}

	return NewFieldRegistry(wrapper.Fields), nil
}
