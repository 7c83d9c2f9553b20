package contract

import (
	"reflect"
)

// paramTags are the struct tags used for binding request parameters, with
// the Input location each one reads from.
var paramTags = []struct {
	tag string
	in  string
}{
	{"path", "path"},
	{"query", "query"},
	{"header", "header"},
	{"cookie", "cookie"},
	{"form", "formData"},
}

// requestCategory describes how a typed request is populated.
type requestCategory int

const (
	catVoid     requestCategory = iota // Void, nothing to bind
	catBodyOnly                        // the whole type is the body
	catFields                          // tagged fields, a Body field, or injected values
)

func classifyRequest(t reflect.Type) requestCategory {
	if t == reflect.TypeFor[Void]() {
		return catVoid
	}
	if hasParamTags(t) || hasBodyField(t) || hasInjected(t) {
		return catFields
	}
	return catBodyOnly
}

// hasParamTags reports whether the given type has any fields with
// parameter binding tags.
func hasParamTags(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		for _, pt := range paramTags {
			if f.Tag.Get(pt.tag) != "" {
				return true
			}
		}
	}
	return false
}

// hasInjected reports whether the type declares a field the dispatcher
// fills in itself: a *Principal or an embedded RawRequest.
func hasInjected(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := range t.NumField() {
		switch t.Field(i).Type {
		case reflect.TypeFor[*Principal](), reflect.TypeFor[RawRequest]():
			return true
		}
	}
	return false
}

// hasBodyField reports whether the given type has an exported "Body" field.
func hasBodyField(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	f, ok := t.FieldByName("Body")
	return ok && f.IsExported()
}
