package domain

import "fmt"

type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
)

// FieldSpec describes one key of a category schema.
type FieldSpec struct {
	Key      string
	Type     FieldType
	Required bool
}

// Schema is the ordered field list registered for a category. Case fields
// must match it structurally: no unknown keys, no missing required keys,
// no type mismatches.
type Schema struct {
	Category string
	Fields   []FieldSpec
}

// SchemaRegistry maps categories to their field schemas.
type SchemaRegistry struct {
	schemas map[string]Schema
}

// NewSchemaRegistry returns a registry pre-loaded with the built-in
// categories.
func NewSchemaRegistry() *SchemaRegistry {
	r := &SchemaRegistry{schemas: make(map[string]Schema)}
	r.Register(Schema{Category: "Billing", Fields: []FieldSpec{
		{Key: "invoiceId", Type: FieldString, Required: true},
	}})
	r.Register(Schema{Category: "Technical", Fields: []FieldSpec{
		{Key: "product", Type: FieldString, Required: true},
		{Key: "version", Type: FieldString, Required: false},
	}})
	r.Register(Schema{Category: "Account", Fields: []FieldSpec{
		{Key: "accountEmail", Type: FieldString, Required: true},
	}})
	return r
}

// Register adds or replaces a category schema.
func (r *SchemaRegistry) Register(s Schema) {
	r.schemas[s.Category] = s
}

// Lookup returns the schema for a category.
func (r *SchemaRegistry) Lookup(category string) (Schema, bool) {
	s, ok := r.schemas[category]
	return s, ok
}

// Validate checks fields against the schema registered for category.
// Unknown categories, unknown keys, missing required keys and type
// mismatches all fail with ErrSchemaViolation.
func (r *SchemaRegistry) Validate(category string, fields map[string]any) error {
	schema, ok := r.schemas[category]
	if !ok {
		return fmt.Errorf("%w: unknown category %q", ErrSchemaViolation, category)
	}
	specs := make(map[string]FieldSpec, len(schema.Fields))
	for _, spec := range schema.Fields {
		specs[spec.Key] = spec
	}
	for key := range fields {
		if _, ok := specs[key]; !ok {
			return fmt.Errorf("%w: unknown field %q for category %q", ErrSchemaViolation, key, category)
		}
	}
	for _, spec := range schema.Fields {
		value, present := fields[spec.Key]
		if !present {
			if spec.Required {
				return fmt.Errorf("%w: missing required field %q", ErrSchemaViolation, spec.Key)
			}
			continue
		}
		if !matchesType(value, spec.Type) {
			return fmt.Errorf("%w: field %q must be %s", ErrSchemaViolation, spec.Key, spec.Type)
		}
	}
	return nil
}

func matchesType(value any, t FieldType) bool {
	switch t {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case FieldBool:
		_, ok := value.(bool)
		return ok
	}
	return false
}
