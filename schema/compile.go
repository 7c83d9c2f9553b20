package schema

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"
)

const definitionsPrefix = "#/definitions/"

// Compiler turns schema objects from a generic document tree into Schema
// nodes. References are memoized by pointer so every definition is compiled
// exactly once, and recursive definitions share nodes.
//
// A Compiler is not safe for concurrent use; the schemas it returns are.
type Compiler struct {
	doc     map[string]any
	cache   map[string]*Schema
	pending map[string]bool
	named   map[string]*Schema

	// discriminated is set once a discriminator is seen; every definition
	// is then compiled so Subtypes is complete.
	discriminated bool
	allNamed      bool
}

// NewCompiler creates a Compiler for the given document.
func NewCompiler(doc map[string]any) *Compiler {
	return &Compiler{
		doc:     doc,
		cache:   make(map[string]*Schema),
		pending: make(map[string]bool),
		named:   make(map[string]*Schema),
	}
}

// Compile compiles an inline schema object. at locates node in the document
// and is used for error messages only.
func (c *Compiler) Compile(node any, at string) (*Schema, error) {
	return c.finish(c.compile(node, at, nil))
}

// Ref compiles (or returns the memoized) schema a local reference points to.
func (c *Compiler) Ref(ref string) (*Schema, error) {
	return c.finish(c.ref(ref, nil))
}

func (c *Compiler) finish(s *Schema, err error) (*Schema, error) {
	if err != nil || !c.discriminated || c.allNamed {
		return s, err
	}
	c.allNamed = true
	if _, err := c.Definitions(); err != nil {
		return nil, err
	}
	return s, nil
}

// Definitions compiles every entry under #/definitions and returns them by name.
func (c *Compiler) Definitions() (map[string]*Schema, error) {
	defs, _ := c.doc["definitions"].(map[string]any)
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]*Schema, len(names))
	for _, name := range names {
		s, err := c.ref(definitionsPrefix+EscapeToken(name), nil)
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

func (c *Compiler) ref(ref string, chain []string) (*Schema, error) {
	if s, ok := c.cache[ref]; ok {
		if c.pending[ref] && slices.Contains(chain, ref) {
			return nil, &CompileError{Ref: ref, Err: ErrCircularRef, Message: "definition contains itself outside a property or item"}
		}
		return s, nil
	}

	target, err := Resolve(c.doc, ref)
	if err != nil {
		return nil, err
	}

	s := &Schema{Ref: ref}
	c.cache[ref] = s
	c.pending[ref] = true
	if name, ok := strings.CutPrefix(ref, definitionsPrefix); ok && !strings.Contains(name, "/") {
		c.named[UnescapeToken(name)] = s
	}

	body, err := c.compile(target, ref, append(chain, ref))
	delete(c.pending, ref)
	if err != nil {
		delete(c.cache, ref)
		return nil, err
	}

	if isRef(target) {
		s.alias = body
		return s, nil
	}
	*s = *body
	s.Ref = ref
	return s, nil
}

func isRef(node any) bool {
	m, ok := node.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["$ref"].(string)
	return ok
}

func (c *Compiler) compile(node any, at string, chain []string) (*Schema, error) {
	switch n := node.(type) {
	case nil:
		return &Schema{}, nil
	case bool:
		if n {
			return &Schema{}, nil
		}
		return nil, &CompileError{Pointer: at, Err: ErrInvalidSchema, Message: "false schema is not supported"}
	case map[string]any:
		if ref, ok := n["$ref"].(string); ok {
			return c.ref(ref, chain)
		}
		return c.object(n, at, chain)
	default:
		return nil, &CompileError{Pointer: at, Err: ErrInvalidSchema, Message: fmt.Sprintf("expected object, got %T", node)}
	}
}

// object compiles a schema object. chain lists the references being
// compiled that enclose m without an intervening property, item or
// additionalProperties; it carries into allOf, where a repeat cannot be
// lazy recursion.
func (c *Compiler) object(m map[string]any, at string, chain []string) (*Schema, error) {
	s := &Schema{}

	if err := c.setType(s, m["type"], at); err != nil {
		return nil, err
	}
	s.Format, _ = m["format"].(string)
	if b, _ := m["x-nullable"].(bool); b {
		s.Nullable = true
	}
	if b, _ := m["nullable"].(bool); b {
		s.Nullable = true
	}
	s.ReadOnly, _ = m["readOnly"].(bool)

	if enum, ok := m["enum"].([]any); ok {
		s.Enum = enum
	}
	if def, ok := m["default"]; ok {
		s.Default, s.HasDefault = def, true
	}
	if ex, ok := m["example"]; ok {
		s.Example, s.HasExample = ex, true
	}

	s.MinLength = intPtr(m["minLength"])
	s.MaxLength = intPtr(m["maxLength"])
	if p, ok := m["pattern"].(string); ok {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &CompileError{Pointer: at + "/pattern", Err: ErrInvalidSchema, Message: err.Error()}
		}
		s.Pattern = re
	}

	s.Minimum = floatPtr(m["minimum"])
	s.Maximum = floatPtr(m["maximum"])
	s.ExclusiveMinimum, _ = m["exclusiveMinimum"].(bool)
	s.ExclusiveMaximum, _ = m["exclusiveMaximum"].(bool)
	s.MultipleOf = floatPtr(m["multipleOf"])
	if s.MultipleOf != nil && *s.MultipleOf <= 0 {
		return nil, &CompileError{Pointer: at + "/multipleOf", Err: ErrInvalidSchema, Message: "must be greater than 0"}
	}

	if items, ok := m["items"]; ok {
		if _, tuple := items.([]any); tuple {
			return nil, &CompileError{Pointer: at + "/items", Err: ErrInvalidSchema, Message: "tuple items are not supported"}
		}
		is, err := c.compile(items, at+"/items", nil)
		if err != nil {
			return nil, err
		}
		s.Items = is
	}
	s.MinItems = intPtr(m["minItems"])
	s.MaxItems = intPtr(m["maxItems"])
	s.UniqueItems, _ = m["uniqueItems"].(bool)

	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*Schema, len(props))
		for name, p := range props {
			ps, err := c.compile(p, Join(at+"/properties", name), nil)
			if err != nil {
				return nil, err
			}
			s.Properties[name] = ps
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	switch ap := m["additionalProperties"].(type) {
	case bool:
		s.NoAdditional = !ap
	case map[string]any:
		as, err := c.compile(ap, at+"/additionalProperties", nil)
		if err != nil {
			return nil, err
		}
		s.AdditionalProperties = as
	}
	s.MinProperties = intPtr(m["minProperties"])
	s.MaxProperties = intPtr(m["maxProperties"])

	if all, ok := m["allOf"].([]any); ok {
		for i, sub := range all {
			ss, err := c.compile(sub, fmt.Sprintf("%s/allOf/%d", at, i), chain)
			if err != nil {
				return nil, err
			}
			s.AllOf = append(s.AllOf, ss)
		}
	}

	switch d := m["discriminator"].(type) {
	case string:
		s.Discriminator = d
	case map[string]any:
		s.Discriminator, _ = d["propertyName"].(string)
	}
	if s.Discriminator != "" {
		s.Subtypes = c.named
		c.discriminated = true
	}

	if s.Kind == KindAny && s.Properties != nil {
		s.Kind = KindObject
	}
	return s, nil
}

func (c *Compiler) setType(s *Schema, t any, at string) error {
	var name string
	switch v := t.(type) {
	case nil:
		return nil
	case string:
		name = v
	case []any:
		for _, e := range v {
			str, _ := e.(string)
			if str == "null" {
				s.Nullable = true
				continue
			}
			if name == "" {
				name = str
			}
		}
		if name == "" && s.Nullable {
			name = "null"
		}
	default:
		return &CompileError{Pointer: at + "/type", Err: ErrInvalidSchema, Message: fmt.Sprintf("unexpected type %T", t)}
	}

	switch name {
	case "", "any":
		s.Kind = KindAny
	case "object":
		s.Kind = KindObject
	case "array":
		s.Kind = KindArray
	case "string":
		s.Kind = KindString
	case "integer":
		s.Kind = KindInteger
	case "number":
		s.Kind = KindNumber
	case "boolean":
		s.Kind = KindBoolean
	case "file":
		s.Kind = KindFile
	case "null":
		s.Kind = KindNull
	default:
		return &CompileError{Pointer: at + "/type", Err: ErrInvalidSchema, Message: fmt.Sprintf("unknown type %q", name)}
	}
	return nil
}

// Number normalizes the numeric representations produced by JSON and YAML
// decoders to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func floatPtr(v any) *float64 {
	f, ok := Number(v)
	if !ok {
		return nil
	}
	return &f
}

func intPtr(v any) *int {
	f, ok := Number(v)
	if !ok || f < 0 || f > math.MaxInt32 {
		return nil
	}
	n := int(f)
	return &n
}
