package schema

import "fmt"

// Constraint names reported in violations.
const (
	ConstraintUnknown   = "unknown"
	ConstraintType      = "type"
	ConstraintMandatory = "mandatory"
	ConstraintImmutable = "immutable"
	ConstraintUnique    = "unique"
)

// Violation is a single schema violation.
type Violation struct {
	Attribute  string `json:"attribute"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Attribute, v.Message)
}

// Violations collects schema violations.
type Violations []Violation

// Add records a violation.
func (vs *Violations) Add(attr, constraint, format string, args ...any) {
	*vs = append(*vs, Violation{
		Attribute:  attr,
		Constraint: constraint,
		Message:    fmt.Sprintf(format, args...),
	})
}

// Err returns a validation error, or nil when nothing was recorded.
func (vs Violations) Err() error {
	if len(vs) == 0 {
		return nil
	}
	return &Error{Code: CodeValidation, Message: "validation failed", Violations: vs}
}

// ApplyDefaults returns values with the schema defaults filled in for
// attributes that were not supplied.
func ApplyDefaults(schema Attributes, values Values) Values {
	out := values.Clone()
	for _, a := range schema {
		if _, ok := out[a.Name]; !ok && a.Default.IsSet() {
			out[a.Name] = a.Default
		}
	}
	return out
}

// ValidateCreate checks a complete attribute set for a new instance.
// Unknown attributes, wrongly typed values and missing mandatory attributes
// are rejected.
func ValidateCreate(schema Attributes, values Values) error {
	var vs Violations
	checkKnownAndTyped(&vs, schema, values)
	checkMandatory(&vs, schema, values)
	return vs.Err()
}

// ValidateUpdate checks client changes against the current attribute set.
// Immutable attributes may not change and the merged result must still
// satisfy every mandatory attribute.
func ValidateUpdate(schema Attributes, current, changes Values) error {
	var vs Violations
	checkKnownAndTyped(&vs, schema, changes)
	for name, v := range changes {
		def, ok := schema.Get(name)
		if !ok || def.Mutable {
			continue
		}
		if old, had := current[name]; !had || !old.Equal(v) {
			vs.Add(name, ConstraintImmutable, "attribute is immutable")
		}
	}
	checkMandatory(&vs, schema, current.Merge(changes))
	return vs.Err()
}

// ValidateState checks a full attribute set against a schema without the
// mutability rule. It is used when mixins change and for system writes.
func ValidateState(schema Attributes, values Values) error {
	return ValidateCreate(schema, values)
}

// ValidateParams checks action parameters against the action's schema.
func ValidateParams(schema Attributes, params Values) error {
	return ValidateCreate(schema, params)
}

func checkKnownAndTyped(vs *Violations, schema Attributes, values Values) {
	for _, name := range SortedNames(values) {
		def, ok := schema.Get(name)
		if !ok {
			vs.Add(name, ConstraintUnknown, "attribute is not defined")
			continue
		}
		v := values[name]
		if def.Type != TypeAny && v.IsSet() && v.Type() != def.Type {
			vs.Add(name, ConstraintType, "expected %s, got %s", def.Type, v.Type())
		}
	}
}

func checkMandatory(vs *Violations, schema Attributes, values Values) {
	for _, def := range schema {
		if def.Mandatory && values[def.Name].IsEmpty() {
			vs.Add(def.Name, ConstraintMandatory, "attribute is mandatory")
		}
	}
}
