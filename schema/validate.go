package schema

import (
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Violation is a single schema failure.
type Violation struct {
	// Pointer is the RFC 6901 JSON pointer into the validated value; empty
	// for the value itself.
	Pointer string
	Message string
	Value   any
}

// Error aggregates every violation found in one validation pass.
type Error struct {
	Violations []Violation
}

// Error returns a human-readable error message.
func (e *Error) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		ptr := v.Pointer
		if ptr == "" {
			ptr = "/"
		}
		parts[i] = ptr + ": " + v.Message
	}
	return fmt.Sprintf("%d schema violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Option configures a validation pass.
type Option func(*walker)

// ForRequest validates the value as a request payload: readOnly properties
// are not required.
func ForRequest() Option {
	return func(w *walker) { w.request = true }
}

// AtPointer prefixes every violation pointer with ptr.
func AtPointer(ptr string) Option {
	return func(w *walker) { w.base = ptr }
}

type walker struct {
	request bool
	base    string
	out     []Violation
}

// Validate checks value against the schema. It returns nil or an *Error
// listing every violation in a deterministic order.
func (s *Schema) Validate(value any, opts ...Option) error {
	w := &walker{}
	for _, opt := range opts {
		opt(w)
	}
	w.walk(value, s, w.base, false)
	if len(w.out) == 0 {
		return nil
	}
	return &Error{Violations: w.out}
}

func (w *walker) fail(ptr, msg string, v any) {
	w.out = append(w.out, Violation{Pointer: ptr, Message: msg, Value: v})
}

// walk validates v against s. dispatched is true while v is already being
// validated through its discriminator subtype, which stops the subtype's
// allOf from dispatching back to itself.
func (w *walker) walk(v any, s *Schema, ptr string, dispatched bool) {
	s = s.Resolved()
	if s == nil {
		return
	}

	if v == nil {
		if s.Nullable || s.Kind == KindAny || s.Kind == KindNull {
			return
		}
		w.fail(ptr, "must not be null", nil)
		return
	}

	if s.IsBinary() {
		if !isByteStream(v, s.Kind == KindString) {
			w.fail(ptr, fmt.Sprintf("expected a byte stream, got %T", v), nil)
		}
		return
	}

	if s.Kind != KindAny {
		if got := kindOf(v); !kindMatches(s.Kind, got, v) {
			w.fail(ptr, fmt.Sprintf("expected %s, got %s", s.Kind, got), v)
			return
		}
	}

	switch x := v.(type) {
	case string:
		w.str(x, s, ptr)
	case bool:
	case []any:
		w.array(x, s, ptr)
	case map[string]any:
		w.object(x, s, ptr)
	default:
		if n, ok := Number(v); ok {
			w.number(n, s, ptr)
		}
	}

	if len(s.Enum) > 0 && !inEnum(v, s.Enum) {
		w.fail(ptr, "must be one of "+formatEnum(s.Enum), v)
	}

	for _, sub := range s.AllOf {
		w.walk(v, sub, ptr, dispatched)
	}

	if s.Discriminator != "" && !dispatched {
		w.discriminate(v, s, ptr)
	}
}

func (w *walker) discriminate(v any, s *Schema, ptr string) {
	obj, ok := v.(map[string]any)
	if !ok {
		return
	}
	name, ok := obj[s.Discriminator].(string)
	if !ok {
		return
	}
	sub, ok := s.Subtypes[name]
	if !ok {
		w.fail(Join(ptr, s.Discriminator), fmt.Sprintf("unknown discriminator value %q", name), name)
		return
	}
	if sub.Resolved() == s {
		return
	}
	w.walk(v, sub, ptr, true)
}

func (w *walker) str(x string, s *Schema, ptr string) {
	n := utf8.RuneCountInString(x)
	if s.MinLength != nil && n < *s.MinLength {
		w.fail(ptr, fmt.Sprintf("length must be at least %d", *s.MinLength), x)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		w.fail(ptr, fmt.Sprintf("length must be at most %d", *s.MaxLength), x)
	}
	if s.Pattern != nil && !s.Pattern.MatchString(x) {
		w.fail(ptr, fmt.Sprintf("must match pattern %s", s.Pattern.String()), x)
	}
	if s.Format != "" {
		if msg := checkFormat(s.Format, x); msg != "" {
			w.fail(ptr, msg, x)
		}
	}
}

func (w *walker) number(n float64, s *Schema, ptr string) {
	if s.Minimum != nil {
		if s.ExclusiveMinimum && n <= *s.Minimum {
			w.fail(ptr, fmt.Sprintf("must be greater than %v", *s.Minimum), n)
		} else if n < *s.Minimum {
			w.fail(ptr, fmt.Sprintf("must be at least %v", *s.Minimum), n)
		}
	}
	if s.Maximum != nil {
		if s.ExclusiveMaximum && n >= *s.Maximum {
			w.fail(ptr, fmt.Sprintf("must be less than %v", *s.Maximum), n)
		} else if n > *s.Maximum {
			w.fail(ptr, fmt.Sprintf("must be at most %v", *s.Maximum), n)
		}
	}
	if s.MultipleOf != nil {
		q := n / *s.MultipleOf
		if math.Abs(q-math.Round(q)) > 1e-9 {
			w.fail(ptr, fmt.Sprintf("must be a multiple of %v", *s.MultipleOf), n)
		}
	}
	switch s.Format {
	case "int32":
		if n < math.MinInt32 || n > math.MaxInt32 {
			w.fail(ptr, "out of range for int32", n)
		}
	case "int64":
		if n < math.MinInt64 || n > math.MaxInt64 {
			w.fail(ptr, "out of range for int64", n)
		}
	}
}

func (w *walker) array(x []any, s *Schema, ptr string) {
	if s.MinItems != nil && len(x) < *s.MinItems {
		w.fail(ptr, fmt.Sprintf("must have at least %d items", *s.MinItems), len(x))
	}
	if s.MaxItems != nil && len(x) > *s.MaxItems {
		w.fail(ptr, fmt.Sprintf("must have at most %d items", *s.MaxItems), len(x))
	}
	if s.UniqueItems && hasDuplicates(x) {
		w.fail(ptr, "items must be unique", nil)
	}
	if s.Items != nil {
		for i, item := range x {
			w.walk(item, s.Items, ptr+"/"+strconv.Itoa(i), false)
		}
	}
}

func (w *walker) object(x map[string]any, s *Schema, ptr string) {
	for _, name := range s.Required {
		if _, ok := x[name]; ok {
			continue
		}
		if w.request {
			if p := s.Properties[name].Resolved(); p != nil && p.ReadOnly {
				continue
			}
		}
		w.fail(Join(ptr, name), "is required", nil)
	}
	if s.MinProperties != nil && len(x) < *s.MinProperties {
		w.fail(ptr, fmt.Sprintf("must have at least %d properties", *s.MinProperties), len(x))
	}
	if s.MaxProperties != nil && len(x) > *s.MaxProperties {
		w.fail(ptr, fmt.Sprintf("must have at most %d properties", *s.MaxProperties), len(x))
	}

	keys := make([]string, 0, len(x))
	for k := range x {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if ps, ok := s.Properties[k]; ok {
			w.walk(x[k], ps, Join(ptr, k), false)
			continue
		}
		switch {
		case s.AdditionalProperties != nil:
			w.walk(x[k], s.AdditionalProperties, Join(ptr, k), false)
		case s.NoAdditional:
			w.fail(Join(ptr, k), "additional property is not allowed", nil)
		}
	}
}

func kindOf(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case bool:
		return KindBoolean
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInteger
	}
	if _, ok := Number(v); ok {
		return KindNumber
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return KindArray
	case reflect.Map, reflect.Struct:
		return KindObject
	default:
		return KindAny
	}
}

func kindMatches(want, got Kind, v any) bool {
	switch {
	case want == got:
		return true
	case want == KindNumber && got == KindInteger:
		return true
	case want == KindInteger && got == KindNumber:
		n, _ := Number(v)
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	}
	return false
}

func isByteStream(v any, allowString bool) bool {
	switch v.(type) {
	case []byte, io.Reader, *multipart.FileHeader:
		return true
	case string:
		return allowString
	case interface{ Open() (io.ReadCloser, error) }:
		return true
	}
	return false
}

func inEnum(v any, enum []any) bool {
	for _, e := range enum {
		if equal(v, e) {
			return true
		}
	}
	return false
}

// equal compares decoded values, treating every numeric representation of
// the same number as equal.
func equal(a, b any) bool {
	if x, ok := Number(a); ok {
		y, ok := Number(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func hasDuplicates(items []any) bool {
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			if equal(items[i], items[j]) {
				return true
			}
		}
	}
	return false
}

func formatEnum(enum []any) string {
	parts := make([]string, len(enum))
	for i, e := range enum {
		parts[i] = fmt.Sprint(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
