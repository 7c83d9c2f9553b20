package contract

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/bjaus/contract/schema"
)

// maxMockDepth stops generation of recursive schemas.
const maxMockDepth = 8

// stubHandler answers 501 for an operation without a handler.
func stubHandler(op *Operation) HandlerFunc {
	return func(context.Context, *Input) (*Response, error) {
		return nil, &StageError{
			Stage:       StageDispatch,
			Kind:        ErrNotImplemented,
			OperationID: op.ID,
			Detail:      fmt.Sprintf("%s %s has no handler", op.Method, op.Path),
		}
	}
}

// mockHandler answers with the operation's success response: its example
// when one is declared, otherwise a value generated from the schema.
func (r *Router) mockHandler(op *Operation) HandlerFunc {
	status, rs := mockResponse(op)
	if rs == nil {
		return stubHandler(op)
	}

	var body any
	if ex, ok := example(rs, op.Produces); ok {
		body = ex
	} else if rs.Schema != nil {
		body = synthesize(rs.Schema, 0)
	}

	return func(context.Context, *Input) (*Response, error) {
		return &Response{Status: status, Body: body}, nil
	}
}

// mockResponse picks the lowest declared 2xx response, falling back to the
// default response answered as 200.
func mockResponse(op *Operation) (int, *ResponseSpec) {
	lowest := 0
	for code := range op.Responses {
		n, err := strconv.Atoi(code)
		if err != nil || n < 200 || n > 299 {
			continue
		}
		if lowest == 0 || n < lowest {
			lowest = n
		}
	}
	if lowest != 0 {
		return lowest, op.Responses[strconv.Itoa(lowest)]
	}
	if rs, ok := op.Responses["2XX"]; ok {
		return 200, rs
	}
	if rs, ok := op.Responses["default"]; ok {
		return 200, rs
	}
	return 0, nil
}

// example returns the response example for the first produced media type
// that has one, then any example, then the schema's own example.
func example(rs *ResponseSpec, produces []string) (any, bool) {
	for _, mt := range produces {
		if ex, ok := rs.Examples[mt]; ok {
			return ex, true
		}
	}
	types := make([]string, 0, len(rs.Examples))
	for mt := range rs.Examples {
		types = append(types, mt)
	}
	sort.Strings(types)
	if len(types) > 0 {
		return rs.Examples[types[0]], true
	}
	if s := rs.Schema.Resolved(); s != nil && s.HasExample {
		return s.Example, true
	}
	return nil, false
}

// synthesize generates a value that satisfies s in the common cases.
func synthesize(s *schema.Schema, depth int) any {
	s = s.Resolved()
	switch {
	case s == nil:
		return nil
	case s.HasExample:
		return s.Example
	case len(s.Enum) > 0:
		return s.Enum[0]
	case s.HasDefault:
		return s.Default
	case depth > maxMockDepth:
		return nil
	}

	switch s.Kind {
	case schema.KindObject:
		return synthesizeObject(s, depth)
	case schema.KindArray:
		if s.Items == nil || (s.MaxItems != nil && *s.MaxItems == 0) {
			return []any{}
		}
		n := 1
		if s.MinItems != nil && *s.MinItems > n {
			n = *s.MinItems
		}
		out := make([]any, n)
		for i := range out {
			out[i] = synthesize(s.Items, depth+1)
		}
		return out
	case schema.KindString:
		return mockString(s)
	case schema.KindInteger:
		return int64(mockNumber(s))
	case schema.KindNumber:
		return mockNumber(s)
	case schema.KindBoolean:
		return true
	case schema.KindFile:
		return []byte{}
	case schema.KindAny:
		if len(s.AllOf) > 0 {
			return synthesizeObject(s, depth)
		}
		return nil
	default:
		return nil
	}
}

func synthesizeObject(s *schema.Schema, depth int) map[string]any {
	out := make(map[string]any)
	discriminator := s.Discriminator
	for _, part := range s.AllOf {
		if m, ok := synthesize(part, depth+1).(map[string]any); ok {
			for k, v := range m {
				out[k] = v
			}
		}
		if p := part.Resolved(); discriminator == "" && p != nil {
			discriminator = p.Discriminator
		}
	}
	for name, prop := range s.Properties {
		v := synthesize(prop, depth+1)
		if v == nil && !slices.Contains(s.Required, name) {
			continue
		}
		out[name] = v
	}
	// A subtype names itself, overriding the base it inherits from.
	if discriminator != "" && s.Ref != "" {
		out[discriminator] = s.Ref[strings.LastIndexByte(s.Ref, '/')+1:]
	}
	return out
}

func mockString(s *schema.Schema) string {
	var v string
	switch s.Format {
	case "date":
		v = "2024-01-01"
	case "date-time":
		v = "2024-01-01T00:00:00Z"
	case "uuid":
		v = "00000000-0000-0000-0000-000000000000"
	case "email":
		v = "user@example.com"
	case "uri", "url":
		v = "https://example.com"
	case "hostname":
		v = "example.com"
	case "ipv4":
		v = "192.0.2.1"
	case "ipv6":
		v = "2001:db8::1"
	case "byte":
		v = "c3RyaW5n"
	default:
		v = "string"
	}
	if s.MinLength != nil && len(v) < *s.MinLength {
		v += strings.Repeat("x", *s.MinLength-len(v))
	}
	if s.MaxLength != nil && len(v) > *s.MaxLength && s.Format == "" {
		v = v[:*s.MaxLength]
	}
	return v
}

func mockNumber(s *schema.Schema) float64 {
	var n float64
	if s.Minimum != nil {
		n = *s.Minimum
		if s.ExclusiveMinimum {
			n++
		}
	} else if s.Maximum != nil && *s.Maximum < 0 {
		n = *s.Maximum
		if s.ExclusiveMaximum {
			n--
		}
	}
	if s.MultipleOf != nil && *s.MultipleOf > 0 {
		n = math.Ceil(n / *s.MultipleOf) * *s.MultipleOf
	}
	return n
}
