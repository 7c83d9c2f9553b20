package contract

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gopkg.in/yaml.v3"
)

// Spec document formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// SpecHandler returns a handler that serves the document spec was loaded
// from, as JSON or YAML. The basePath is left as declared.
func SpecHandler(spec *Spec, format string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch format {
		case FormatYAML:
			w.Header().Set("Content-Type", "application/yaml")
		default:
			w.Header().Set("Content-Type", "application/json")
		}
		//nolint:errcheck,gosec // best-effort after WriteHeader
		WriteSpec(w, spec, format)
	})
}

// WriteSpec writes the document spec was loaded from to w as indented JSON
// or YAML.
func WriteSpec(w io.Writer, spec *Spec, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(spec.Document)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(spec.Document); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown spec format %q", format)
	}
}
