// Package schema compiles the JSON Schema fragments of a Swagger 2.0 document
// into a typed tree and validates decoded values against it.
//
// Schemas are compiled once from the generic document tree:
//
//	c := schema.NewCompiler(doc)
//	pet, err := c.Ref("#/definitions/Pet")
//
// and validated many times, concurrently:
//
//	if err := pet.Validate(value); err != nil {
//	    var se *schema.Error
//	    errors.As(err, &se) // se.Violations carry JSON pointers into value
//	}
//
// Named definitions that refer to themselves (directly or through other
// definitions) compile to shared pointers, so recursion is resolved lazily at
// validation time instead of being expanded.
package schema

import "regexp"

// Kind is the JSON type a schema node accepts.
type Kind uint8

// Schema kinds.
const (
	KindAny Kind = iota
	KindObject
	KindArray
	KindString
	KindInteger
	KindNumber
	KindBoolean
	KindFile
	KindNull
)

var kindNames = [...]string{
	KindAny:     "any",
	KindObject:  "object",
	KindArray:   "array",
	KindString:  "string",
	KindInteger: "integer",
	KindNumber:  "number",
	KindBoolean: "boolean",
	KindFile:    "file",
	KindNull:    "null",
}

// String returns the Swagger type name for the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Schema is a compiled schema node. It is immutable once compiled and safe to
// share between goroutines.
type Schema struct {
	// Ref is the JSON pointer the node was compiled from when it is a
	// referenced definition (e.g. "#/definitions/Pet").
	Ref string

	Kind     Kind
	Format   string
	Nullable bool
	ReadOnly bool

	Enum       []any
	Default    any
	HasDefault bool
	Example    any
	HasExample bool

	MinLength *int
	MaxLength *int
	Pattern   *regexp.Regexp

	Minimum          *float64
	Maximum          *float64
	ExclusiveMinimum bool
	ExclusiveMaximum bool
	MultipleOf       *float64

	Items       *Schema
	MinItems    *int
	MaxItems    *int
	UniqueItems bool

	Properties map[string]*Schema
	Required   []string
	// AdditionalProperties constrains properties not listed in Properties.
	// NoAdditional forbids them entirely.
	AdditionalProperties *Schema
	NoAdditional         bool
	MinProperties        *int
	MaxProperties        *int

	AllOf []*Schema

	// Discriminator names the property whose value selects a definition by
	// name from Subtypes.
	Discriminator string
	Subtypes      map[string]*Schema

	// alias is set when the definition is a bare $ref to another node.
	alias *Schema
}

// Resolved follows definition aliases and returns the node that carries the
// actual constraints.
func (s *Schema) Resolved() *Schema {
	for s != nil && s.alias != nil {
		s = s.alias
	}
	return s
}

// IsBinary reports whether values for the schema are byte streams rather than
// JSON values.
func (s *Schema) IsBinary() bool {
	s = s.Resolved()
	if s == nil {
		return false
	}
	return s.Kind == KindFile || (s.Kind == KindString && s.Format == "binary")
}
