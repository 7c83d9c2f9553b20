// Package specfile reads API description documents from disk and turns them
// into the generic Swagger 2.0 tree contract.Load consumes.
package specfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned for a document without any content.
var ErrEmpty = errors.New("empty document")

// Read decodes the JSON or YAML document at path. See Parse.
func Read(ctx context.Context, path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a JSON or YAML document. Swagger 2.0 documents are returned
// as decoded; OpenAPI 3 documents are validated and converted to Swagger 2.0
// first. Numbers come back as float64 and every map key as a string, the
// way encoding/json decodes.
func Parse(ctx context.Context, data []byte) (map[string]any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if raw == nil {
		return nil, ErrEmpty
	}
	top, ok := stringKeys(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode document: top level is %T, want an object", raw)
	}

	if _, ok := top["openapi"]; ok {
		return convert(ctx, data)
	}
	return normalize(top)
}

// convert loads an OpenAPI 3 document and downgrades it to Swagger 2.0.
func convert(ctx context.Context, data []byte) (map[string]any, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc3, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("load openapi 3 document: %w", err)
	}
	if err := doc3.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi 3 document: %w", err)
	}

	doc2, err := openapi2conv.FromV3(doc3)
	if err != nil {
		return nil, fmt.Errorf("convert to swagger 2.0: %w", err)
	}
	b, err := json.Marshal(doc2)
	if err != nil {
		return nil, fmt.Errorf("encode swagger 2.0 document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode swagger 2.0 document: %w", err)
	}
	return out, nil
}

// normalize round-trips a YAML tree through JSON so integers, timestamps and
// the like take their JSON forms.
func normalize(doc map[string]any) (map[string]any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	return out, nil
}

// stringKeys rewrites YAML mappings with non-string keys, such as unquoted
// response codes, to map[string]any.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = stringKeys(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = stringKeys(e)
		}
		return x
	default:
		return v
	}
}
