package contract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/bjaus/contract/schema"
)

// errNoDecoder reports a body whose schema needs decoding in a content type
// no decoder is registered for.
var errNoDecoder = errors.New("no decoder for content type")

// maxMultipartMemory is the maximum memory used for multipart form parsing (32 MB).
const maxMultipartMemory = 32 << 20

// Request is the transport-neutral request the pipeline consumes.
type Request struct {
	Method string
	// Path is the escaped request path, without the query string.
	Path       string
	Query      url.Values
	Header     http.Header
	Body       io.Reader
	RemoteAddr string

	// HTTP is the originating request when one exists.
	HTTP *http.Request
}

// NewRequest adapts an *http.Request.
func NewRequest(r *http.Request) *Request {
	return &Request{
		Method:     r.Method,
		Path:       r.URL.EscapedPath(),
		Query:      r.URL.Query(),
		Header:     r.Header,
		Body:       r.Body,
		RemoteAddr: r.RemoteAddr,
		HTTP:       r,
	}
}

func (r *Request) cookie(name string) (string, bool) {
	for _, line := range r.Header.Values("Cookie") {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name == name {
				return c.Value, true
			}
		}
	}
	return "", false
}

// Input is the bound request handed to a handler. Parameter values are
// coerced to their declared types: integers are int64, numbers float64,
// arrays []any, and formData files *FileUpload.
type Input struct {
	Operation *Operation
	Path      map[string]any
	Query     map[string]any
	Header    map[string]any
	Cookie    map[string]any
	Form      map[string]any
	// Body is the decoded body: generic JSON values for JSON and YAML, a
	// string for text/plain, and []byte otherwise.
	Body      any
	Principal *Principal
	Request   *Request

	multipart *multipart.Form
}

// release removes the temporary files a multipart body was spooled to.
func (in *Input) release() {
	if in.multipart != nil {
		//nolint:errcheck,gosec // best-effort cleanup
		in.multipart.RemoveAll()
	}
}

// Param looks a parameter up by name in path, query, header, cookie and
// form order.
func (in *Input) Param(name string) (any, bool) {
	for _, m := range []map[string]any{in.Path, in.Query, in.Header, in.Cookie, in.Form} {
		if v, ok := m[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (in *Input) location(where string) map[string]any {
	switch where {
	case "path":
		return in.Path
	case "query":
		return in.Query
	case "header":
		return in.Header
	case "cookie":
		return in.Cookie
	default:
		return in.Form
	}
}

// binder extracts and coerces declared parameters and decodes the body.
type binder struct {
	spec      *Spec
	codecs    *codecRegistry
	bodyLimit int64
	strict    bool
}

type form struct {
	values    url.Values
	files     map[string][]*multipart.FileHeader
	multipart *multipart.Form
}

// bind collects every parameter error before failing, so a client sees all
// of them at once.
func (b *binder) bind(op *Operation, raw map[string]string, req *Request) (*Input, error) {
	in := &Input{
		Operation: op,
		Path:      make(map[string]any),
		Query:     make(map[string]any),
		Header:    make(map[string]any),
		Cookie:    make(map[string]any),
		Form:      make(map[string]any),
		Request:   req,
	}

	data, err := readBody(req.Body, b.limitFor(op))
	if err != nil {
		return nil, err
	}
	mediaType, mediaParams, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))

	if len(data) > 0 && (op.Body != nil || hasFormParams(op)) && !consumes(op.Consumes, mediaType) {
		return nil, &StageError{
			Stage:       StageBinding,
			Kind:        ErrUnsupportedMediaType,
			OperationID: op.ID,
			Detail:      fmt.Sprintf("content type %q is not one of %s", mediaType, strings.Join(op.Consumes, ", ")),
		}
	}

	var f form
	if hasFormParams(op) {
		if f, err = parseForm(data, mediaType, mediaParams); err != nil {
			return nil, &StageError{Stage: StageBinding, Kind: ErrValidation, OperationID: op.ID, Detail: err.Error(), Err: err}
		}
		in.multipart = f.multipart
	}

	var fields []ValidationError
	for _, p := range op.Parameters {
		var values []string
		switch p.In {
		case "path":
			values = []string{raw[p.Name]}
		case "query":
			values = req.Query[p.Name]
		case "header":
			values = req.Header.Values(p.Name)
		case "cookie":
			if c, ok := req.cookie(p.Name); ok {
				values = []string{c}
			}
		case "formData":
			if p.Schema.IsBinary() {
				if fh := f.files[p.Name]; len(fh) > 0 {
					in.Form[p.Name] = newFileUpload(fh[0])
					continue
				}
				if p.Required {
					fields = append(fields, ValidationError{In: p.In, Field: p.Name, Message: "missing required file"})
				}
				continue
			}
			values = f.values[p.Name]
		}

		v, present, errs := bindParameter(p, values)
		fields = append(fields, errs...)
		if present && len(errs) == 0 {
			in.location(p.In)[p.Name] = v
		}
	}

	if b.strict {
		fields = append(fields, b.unknown(op, "query", req.Query)...)
		fields = append(fields, b.unknown(op, "formData", f.values)...)
	}

	if op.Body != nil {
		switch {
		case len(data) == 0 && op.Body.Required:
			fields = append(fields, ValidationError{In: "body", Field: op.Body.Name, Message: "missing required request body"})
		case len(data) > 0:
			body, err := b.decodeBody(op.Body, mediaType, data)
			if errors.Is(err, errNoDecoder) {
				return nil, &StageError{
					Stage:       StageBinding,
					Kind:        ErrUnsupportedMediaType,
					OperationID: op.ID,
					Detail:      fmt.Sprintf("content type %q cannot be decoded for validation", mediaType),
				}
			}
			if err != nil {
				fields = append(fields, ValidationError{In: "body", Field: op.Body.Name, Message: "malformed body: " + err.Error()})
			}
			in.Body = body
		}
	}

	if len(fields) > 0 {
		in.release()
		return nil, &StageError{Stage: StageBinding, Kind: ErrValidation, OperationID: op.ID, Fields: fields}
	}
	return in, nil
}

// validateBody checks the decoded body against the body schema.
// readOnly properties are not required in requests.
func validateBody(op *Operation, in *Input) error {
	if op.Body == nil || op.Body.Schema == nil || in.Body == nil {
		return nil
	}
	err := op.Body.Schema.Validate(in.Body, schema.ForRequest())
	if err == nil {
		return nil
	}
	return &StageError{
		Stage:       StageBodyValidation,
		Kind:        ErrValidation,
		OperationID: op.ID,
		Fields:      bodyViolations(err, op.Body.Name),
	}
}

// bodyViolations converts a schema error into body field errors. A
// violation at the document root is reported under root.
func bodyViolations(err error, root string) []ValidationError {
	var se *schema.Error
	if !errors.As(err, &se) {
		return []ValidationError{{In: "body", Field: root, Message: err.Error()}}
	}
	fields := make([]ValidationError, len(se.Violations))
	for i, v := range se.Violations {
		field := v.Pointer
		if field == "" {
			field = root
		}
		fields[i] = ValidationError{In: "body", Field: field, Message: v.Message, Value: v.Value}
	}
	return fields
}

func (b *binder) decodeBody(body *RequestBody, mediaType string, data []byte) (any, error) {
	if body.Schema.IsBinary() {
		return data, nil
	}
	dec, ok := b.codecs.decoderFor(mediaType)
	if !ok {
		if s := body.Schema.Resolved(); s != nil && (s.Kind != schema.KindAny || len(s.AllOf) > 0) {
			return nil, errNoDecoder
		}
		return data, nil
	}
	var v any
	if err := dec.Decode(bytes.NewReader(data), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// unknown reports values sent for undeclared parameters. API keys carried
// in the query are declared by the security definitions instead.
func (b *binder) unknown(op *Operation, in string, values url.Values) []ValidationError {
	var names []string
	for name := range values {
		declared := slices.ContainsFunc(op.Parameters, func(p *Parameter) bool {
			return p.In == in && p.Name == name
		})
		if !declared && !(in == "query" && b.isQueryKey(op, name)) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	out := make([]ValidationError, len(names))
	for i, name := range names {
		out[i] = ValidationError{In: in, Field: name, Message: "unknown parameter"}
	}
	return out
}

func (b *binder) isQueryKey(op *Operation, name string) bool {
	reqs := op.Security
	if reqs == nil {
		reqs = b.spec.Security
	}
	for _, group := range reqs {
		for scheme := range group {
			s := b.spec.SecuritySchemes[scheme]
			if s != nil && s.Type == SchemeAPIKey && s.In == "query" && s.ParamName == name {
				return true
			}
		}
	}
	return false
}

// bindParameter coerces raw transport values. present is false when the
// parameter was omitted and has no default.
func bindParameter(p *Parameter, values []string) (any, bool, []ValidationError) {
	s := p.Schema.Resolved()
	absent := len(values) == 0 || (values[0] == "" && !p.AllowEmptyValue && p.In != "path")
	if absent {
		switch {
		case p.Required:
			return nil, false, []ValidationError{{In: p.In, Field: p.Name, Message: "missing required parameter"}}
		case s != nil && s.HasDefault:
			return normalizeDefault(s), true, nil
		default:
			return nil, false, nil
		}
	}
	if values[0] == "" && p.AllowEmptyValue && s != nil && s.Kind != schema.KindString {
		return nil, true, nil
	}
	v, errs := bindValue(p, values)
	return v, true, errs
}

// bindValue coerces and validates a present parameter value.
func bindValue(p *Parameter, values []string) (any, []ValidationError) {
	s := p.Schema.Resolved()

	var v any
	if s != nil && s.Kind == schema.KindArray {
		parts := values
		if p.CollectionFormat != "multi" {
			parts = schema.Split(values[0], p.CollectionFormat)
		}
		items := make([]any, len(parts))
		var errs []ValidationError
		for i, part := range parts {
			iv, err := s.Items.Coerce(part)
			if err != nil {
				errs = append(errs, ValidationError{In: p.In, Field: fmt.Sprintf("%s/%d", p.Name, i), Message: err.Error(), Value: part})
				continue
			}
			items[i] = iv
		}
		if len(errs) > 0 {
			return nil, errs
		}
		v = items
	} else {
		cv, err := p.Schema.Coerce(values[0])
		if err != nil {
			return nil, []ValidationError{{In: p.In, Field: p.Name, Message: err.Error(), Value: values[0]}}
		}
		v = cv
	}

	if err := p.Schema.Validate(v); err != nil {
		var se *schema.Error
		if !errors.As(err, &se) {
			return nil, []ValidationError{{In: p.In, Field: p.Name, Message: err.Error()}}
		}
		errs := make([]ValidationError, len(se.Violations))
		for i, vi := range se.Violations {
			errs[i] = ValidationError{In: p.In, Field: p.Name + vi.Pointer, Message: vi.Message, Value: vi.Value}
		}
		return nil, errs
	}
	return v, nil
}

// normalizeDefault converts a decoded default to the type coercion would
// have produced.
func normalizeDefault(s *schema.Schema) any {
	if s.Kind == schema.KindInteger {
		if n, ok := schema.Number(s.Default); ok {
			return int64(n)
		}
	}
	if s.Kind == schema.KindNumber {
		if n, ok := schema.Number(s.Default); ok {
			return n
		}
	}
	return s.Default
}

func hasFormParams(op *Operation) bool {
	return slices.ContainsFunc(op.Parameters, func(p *Parameter) bool { return p.In == "formData" })
}

func parseForm(data []byte, mediaType string, params map[string]string) (form, error) {
	f := form{values: url.Values{}}
	if len(data) == 0 {
		return f, nil
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return f, fmt.Errorf("parse form: %w", err)
		}
		f.values = values
	case "multipart/form-data":
		mf, err := multipart.NewReader(bytes.NewReader(data), params["boundary"]).ReadForm(maxMultipartMemory)
		if err != nil {
			return f, fmt.Errorf("parse multipart form: %w", err)
		}
		f.values = mf.Value
		f.files = mf.File
		f.multipart = mf
	}
	return f, nil
}

// consumes reports whether mediaType is accepted by a consumes list. An
// empty list accepts anything.
func consumes(list []string, mediaType string) bool {
	if len(list) == 0 {
		return true
	}
	for _, c := range list {
		mt, _, err := mime.ParseMediaType(c)
		if err != nil {
			continue
		}
		if mediaTypeMatches(mt, mediaType) {
			return true
		}
	}
	return false
}

func mediaTypeMatches(pattern, mediaType string) bool {
	if pattern == "*/*" || pattern == mediaType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(mediaType, prefix+"/")
	}
	return false
}
