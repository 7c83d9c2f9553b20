package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Encoder encodes response values to a wire format.
type Encoder interface {
	ContentType() string
	Encode(w io.Writer, v any) error
}

// Decoder decodes request bodies from a wire format into generic values
// (maps, slices, strings, numbers, booleans).
type Decoder interface {
	ContentType() string
	Decode(r io.Reader, v *any) error
}

// jsonCodec implements both Encoder and Decoder for JSON.
type jsonCodec struct{}

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Encode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func (jsonCodec) Decode(r io.Reader, v *any) error {
	err := json.NewDecoder(r).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// yamlCodec implements both Encoder and Decoder for YAML.
type yamlCodec struct{}

func (yamlCodec) ContentType() string { return "application/yaml" }

func (yamlCodec) Encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (yamlCodec) Decode(r io.Reader, v *any) error {
	err := yaml.NewDecoder(r).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// textCodec implements both Encoder and Decoder for text/plain.
type textCodec struct{}

func (textCodec) ContentType() string { return "text/plain" }

func (textCodec) Encode(w io.Writer, v any) error {
	switch x := v.(type) {
	case string:
		_, err := io.WriteString(w, x)
		return err
	case []byte:
		_, err := w.Write(x)
		return err
	default:
		_, err := fmt.Fprint(w, x)
		return err
	}
}

func (textCodec) Decode(r io.Reader, v *any) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	*v = string(b)
	return nil
}

// mediaAliases maps alternative media types to the codec that serves them.
var mediaAliases = map[string]string{
	"application/x-yaml": "application/yaml",
	"text/yaml":          "application/yaml",
	"text/x-yaml":        "application/yaml",
}

// codecRegistry holds all registered encoders and decoders.
// Index 0 is always JSON (the default).
type codecRegistry struct {
	encoders []Encoder
	decoders []Decoder
}

// newCodecRegistry builds a registry with JSON first, then YAML and plain
// text, then any user-registered encoders and decoders.
func newCodecRegistry(userEncoders []Encoder, userDecoders []Decoder) *codecRegistry {
	cr := &codecRegistry{
		encoders: make([]Encoder, 0, 3+len(userEncoders)),
		decoders: make([]Decoder, 0, 3+len(userDecoders)),
	}
	cr.encoders = append(cr.encoders, jsonCodec{}, yamlCodec{}, textCodec{})
	cr.encoders = append(cr.encoders, userEncoders...)
	cr.decoders = append(cr.decoders, jsonCodec{}, yamlCodec{}, textCodec{})
	cr.decoders = append(cr.decoders, userDecoders...)
	return cr
}

func canonicalMediaType(mt string) string {
	if alias, ok := mediaAliases[mt]; ok {
		return alias
	}
	if strings.HasSuffix(mt, "+json") {
		return "application/json"
	}
	return mt
}

// negotiate picks an encoder the operation produces based on the Accept
// header value. The second result is false when nothing acceptable is
// produced; the first is then the operation's default encoder.
func (cr *codecRegistry) negotiate(accept string, produces []string) (Encoder, bool) {
	candidates := cr.producible(produces)
	if len(candidates) == 0 {
		return cr.encoders[0], accept == ""
	}
	if accept == "" {
		return candidates[0], true
	}

	type candidate struct {
		encoder Encoder
		quality float64
	}

	var best candidate
	best.quality = -1

	for part := range strings.SplitSeq(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}

		q := 1.0
		if qs, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(qs, 64); err == nil {
				q = parsed
			}
		}

		if q <= 0 || q <= best.quality {
			continue
		}

		mediaType = canonicalMediaType(mediaType)
		for _, enc := range candidates {
			if mediaTypeMatches(mediaType, enc.ContentType()) {
				best = candidate{encoder: enc, quality: q}
				break
			}
		}
	}

	if best.encoder == nil {
		return candidates[0], false
	}
	return best.encoder, true
}

// producible returns the encoders for an operation's produces list, in the
// list's order. An empty list yields every encoder.
func (cr *codecRegistry) producible(produces []string) []Encoder {
	if len(produces) == 0 {
		return cr.encoders
	}
	var out []Encoder
	for _, p := range produces {
		mt, _, err := mime.ParseMediaType(p)
		if err != nil {
			continue
		}
		mt = canonicalMediaType(mt)
		for _, enc := range cr.encoders {
			if enc.ContentType() == mt {
				out = append(out, enc)
				break
			}
		}
	}
	return out
}

// decoderFor returns the decoder matching the given media type.
// Returns (JSON decoder, true) for an empty media type.
// Returns (nil, false) if the media type is present but unrecognized.
func (cr *codecRegistry) decoderFor(mediaType string) (Decoder, bool) {
	if mediaType == "" {
		return cr.decoders[0], true
	}
	mediaType = canonicalMediaType(mediaType)
	for _, dec := range cr.decoders {
		if dec.ContentType() == mediaType {
			return dec, true
		}
	}
	return nil, false
}
