package contract

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/bjaus/contract/schema"
)

// Spec is a loaded Swagger 2.0 document: the operation catalog together with
// its compiled schemas and route table. It is immutable after Load and safe
// for concurrent use.
type Spec struct {
	Title    string
	Version  string
	BasePath string

	Consumes []string
	Produces []string

	// Operations are sorted by path; methods follow the order GET, PUT, POST,
	// DELETE, OPTIONS, HEAD, PATCH.
	Operations      []*Operation
	SecuritySchemes map[string]*SecurityScheme
	// Security is the document-level default requirement list.
	Security    []SecurityRequirement
	Definitions map[string]*schema.Schema

	// Document is the tree the spec was loaded from.
	Document map[string]any

	byID   map[string]*Operation
	routes *routeTable
}

// Operation is one (method, path template) pair.
type Operation struct {
	Method string
	Path   string
	// ID is the handler identifier the operation dispatches to.
	ID          string
	OperationID string
	Summary     string
	Tags        []string
	Deprecated  bool

	Parameters []*Parameter
	Body       *RequestBody
	Consumes   []string
	Produces   []string
	// Responses is keyed by exact status code, "2XX"-style range, or "default".
	Responses map[string]*ResponseSpec
	// Security is nil when the operation inherits the document default and
	// empty when it explicitly requires nothing.
	Security   []SecurityRequirement
	Extensions map[string]any

	template *PathTemplate
}

// Parameter is a non-body operation parameter.
type Parameter struct {
	Name string
	// In is one of path, query, header, cookie or formData.
	In               string
	Required         bool
	Schema           *schema.Schema
	CollectionFormat string
	AllowEmptyValue  bool
}

// RequestBody is the operation's body parameter.
type RequestBody struct {
	Name     string
	Required bool
	Schema   *schema.Schema
}

// ResponseSpec is a declared response.
type ResponseSpec struct {
	Description string
	Schema      *schema.Schema
	Headers     map[string]*schema.Schema
	// Examples is keyed by media type.
	Examples map[string]any
}

// Operation returns the operation dispatching to the given handler identifier.
func (s *Spec) Operation(id string) (*Operation, bool) {
	op, ok := s.byID[id]
	return op, ok
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	resolver ResolverFunc
}

// WithResolver replaces the rule that derives an operation's handler
// identifier.
func WithResolver(fn ResolverFunc) LoadOption {
	return func(c *loadConfig) {
		c.resolver = fn
	}
}

var methods = []string{"GET", "PUT", "POST", "DELETE", "OPTIONS", "HEAD", "PATCH"}

var paramLocations = []string{"path", "query", "header", "cookie", "formData", "body"}

var responseKey = regexp.MustCompile(`^([1-5][0-9][0-9]|[1-5]XX|default)$`)

// Load builds a Spec from an already decoded Swagger 2.0 document. Every
// reference must resolve, every operation must have a handler identifier,
// and no two path templates may be ambiguous; otherwise it returns a
// *SpecLoadError.
func Load(doc map[string]any, opts ...LoadOption) (*Spec, error) {
	cfg := loadConfig{resolver: DefaultResolver}
	for _, opt := range opts {
		opt(&cfg)
	}

	if v := fmt.Sprint(doc["swagger"]); v != "2.0" && v != "2" {
		return nil, loadErrorf("#/swagger", "unsupported version %q, want \"2.0\"", v)
	}
	paths, ok := doc["paths"].(map[string]any)
	if !ok {
		return nil, loadErrorf("#/paths", "missing paths object")
	}

	l := &loader{doc: doc, compiler: schema.NewCompiler(doc)}
	defs, err := l.compiler.Definitions()
	if err != nil {
		return nil, &SpecLoadError{Pointer: "#/definitions", Err: err}
	}

	spec := &Spec{
		BasePath:    normalizeBasePath(stringOf(doc["basePath"])),
		Consumes:    stringList(doc["consumes"]),
		Produces:    stringList(doc["produces"]),
		Definitions: defs,
		Document:    doc,
		byID:        make(map[string]*Operation),
	}
	if info, ok := doc["info"].(map[string]any); ok {
		spec.Title = stringOf(info["title"])
		spec.Version = stringOf(info["version"])
	}
	if len(spec.Consumes) == 0 {
		spec.Consumes = []string{"application/json"}
	}
	if len(spec.Produces) == 0 {
		spec.Produces = []string{"application/json"}
	}

	if err := l.sharedComponents(); err != nil {
		return nil, err
	}

	if spec.SecuritySchemes, err = l.securitySchemes(); err != nil {
		return nil, err
	}
	l.schemes = spec.SecuritySchemes
	if spec.Security, err = l.security(doc["security"], "#/security"); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	for _, p := range keys {
		if strings.HasPrefix(p, "x-") {
			continue
		}
		ops, err := l.pathItem(spec, p, paths[p])
		if err != nil {
			return nil, err
		}
		spec.Operations = append(spec.Operations, ops...)
	}

	for _, op := range spec.Operations {
		op.ID = cfg.resolver(op)
		ptr := opPointer(op)
		if op.ID == "" {
			return nil, loadErrorf(ptr, "no operationId and no handler identifier could be derived")
		}
		if prev, dup := spec.byID[op.ID]; dup {
			return nil, loadErrorf(ptr, "handler identifier %q is also used by %s %s", op.ID, prev.Method, prev.Path)
		}
		spec.byID[op.ID] = op
	}

	if spec.routes, err = buildRoutes(spec.Operations); err != nil {
		return nil, err
	}
	return spec, nil
}

type loader struct {
	doc      map[string]any
	compiler *schema.Compiler
	schemes  map[string]*SecurityScheme
}

// deref follows $ref chains between non-schema objects (path items,
// parameters, responses) and returns the target and its pointer.
func (l *loader) deref(node any, ptr string) (map[string]any, string, error) {
	var seen []string
	for {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, ptr, loadErrorf(ptr, "expected object, got %T", node)
		}
		ref, ok := m["$ref"].(string)
		if !ok {
			return m, ptr, nil
		}
		if slices.Contains(seen, ref) {
			return nil, ptr, &SpecLoadError{Pointer: ptr, Message: "reference cycle through " + ref, Err: schema.ErrCircularRef}
		}
		seen = append(seen, ref)
		target, err := schema.Resolve(l.doc, ref)
		if err != nil {
			return nil, ptr, &SpecLoadError{Pointer: ptr, Err: err}
		}
		node, ptr = target, ref
	}
}

func (l *loader) pathItem(spec *Spec, path string, node any) ([]*Operation, error) {
	item, ptr, err := l.deref(node, schema.Join("#/paths", path))
	if err != nil {
		return nil, err
	}

	tpl, err := compileTemplate(path)
	if err != nil {
		return nil, &SpecLoadError{Pointer: ptr, Err: err}
	}

	shared, sharedBody, err := l.parameters(item["parameters"], ptr+"/parameters")
	if err != nil {
		return nil, err
	}
	sharedExt := extensions(item)

	var ops []*Operation
	for _, method := range methods {
		raw, ok := item[strings.ToLower(method)]
		if !ok {
			continue
		}
		opPtr := schema.Join(ptr, strings.ToLower(method))
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, loadErrorf(opPtr, "expected object, got %T", raw)
		}

		op := &Operation{
			Method:      method,
			Path:        path,
			OperationID: stringOf(m["operationId"]),
			Summary:     stringOf(m["summary"]),
			Tags:        stringList(m["tags"]),
			Consumes:    spec.Consumes,
			Produces:    spec.Produces,
			Extensions:  sharedExt,
			template:    tpl,
		}
		op.Deprecated, _ = m["deprecated"].(bool)
		if c := stringList(m["consumes"]); len(c) > 0 {
			op.Consumes = c
		}
		if p := stringList(m["produces"]); len(p) > 0 {
			op.Produces = p
		}
		if ext := extensions(m); len(ext) > 0 {
			merged := make(map[string]any, len(sharedExt)+len(ext))
			for k, v := range sharedExt {
				merged[k] = v
			}
			for k, v := range ext {
				merged[k] = v
			}
			op.Extensions = merged
		}

		own, body, err := l.parameters(m["parameters"], opPtr+"/parameters")
		if err != nil {
			return nil, err
		}
		op.Body = body
		if op.Body == nil {
			op.Body = sharedBody
		}
		op.Parameters = mergeParameters(shared, own)
		if err := checkPathParameters(op, opPtr); err != nil {
			return nil, err
		}
		if op.Body != nil && slices.ContainsFunc(op.Parameters, func(p *Parameter) bool { return p.In == "formData" }) {
			return nil, loadErrorf(opPtr+"/parameters", "body and formData parameters are mutually exclusive")
		}

		if op.Responses, err = l.responses(m["responses"], opPtr+"/responses"); err != nil {
			return nil, err
		}
		if sec, ok := m["security"]; ok {
			if op.Security, err = l.security(sec, opPtr+"/security"); err != nil {
				return nil, err
			}
			if op.Security == nil {
				op.Security = []SecurityRequirement{}
			}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (l *loader) parameters(node any, ptr string) ([]*Parameter, *RequestBody, error) {
	if node == nil {
		return nil, nil, nil
	}
	list, ok := node.([]any)
	if !ok {
		return nil, nil, loadErrorf(ptr, "expected array, got %T", node)
	}

	var (
		params []*Parameter
		body   *RequestBody
	)
	for i, raw := range list {
		p, b, at, err := l.parameter(raw, fmt.Sprintf("%s/%d", ptr, i))
		if err != nil {
			return nil, nil, err
		}
		if b != nil {
			if body != nil {
				return nil, nil, loadErrorf(at, "more than one body parameter")
			}
			body = b
			continue
		}
		params = append(params, p)
	}
	return params, body, nil
}

// parameter compiles one parameter object. A body parameter is returned as
// a RequestBody; at is the pointer of the dereferenced object.
func (l *loader) parameter(raw any, ptr string) (*Parameter, *RequestBody, string, error) {
	m, at, err := l.deref(raw, ptr)
	if err != nil {
		return nil, nil, at, err
	}
	name, in := stringOf(m["name"]), stringOf(m["in"])
	if name == "" {
		return nil, nil, at, loadErrorf(at, "parameter has no name")
	}
	if !slices.Contains(paramLocations, in) {
		return nil, nil, at, loadErrorf(at, "parameter %q has unknown location %q", name, in)
	}
	required, _ := m["required"].(bool)

	if in == "body" {
		s, err := l.compiler.Compile(m["schema"], at+"/schema")
		if err != nil {
			return nil, nil, at, &SpecLoadError{Pointer: at, Err: err}
		}
		return nil, &RequestBody{Name: name, Required: required, Schema: s}, at, nil
	}

	// Non-body parameters carry their schema keywords inline.
	s, err := l.compiler.Compile(m, at)
	if err != nil {
		return nil, nil, at, &SpecLoadError{Pointer: at, Err: err}
	}
	if s.Kind == schema.KindFile && in != "formData" {
		return nil, nil, at, loadErrorf(at, "file parameter %q must be in formData", name)
	}
	p := &Parameter{
		Name:             name,
		In:               in,
		Required:         required || in == "path",
		Schema:           s,
		CollectionFormat: stringOf(m["collectionFormat"]),
	}
	p.AllowEmptyValue, _ = m["allowEmptyValue"].(bool)
	return p, nil, at, nil
}

// sharedComponents checks the document's reusable parameters and
// responses, so a broken entry fails the load even when no operation
// refers to it.
func (l *loader) sharedComponents() error {
	params, _ := l.doc["parameters"].(map[string]any)
	for _, name := range sortedKeys(params) {
		if _, _, _, err := l.parameter(params[name], schema.Join("#/parameters", name)); err != nil {
			return err
		}
	}
	responses, _ := l.doc["responses"].(map[string]any)
	for _, name := range sortedKeys(responses) {
		if _, err := l.response(responses[name], schema.Join("#/responses", name)); err != nil {
			return err
		}
	}
	return nil
}

// mergeParameters overlays operation parameters on path-level ones; a
// parameter is identified by name and location.
func mergeParameters(shared, own []*Parameter) []*Parameter {
	out := slices.Clone(shared)
	for _, p := range own {
		i := slices.IndexFunc(out, func(q *Parameter) bool { return q.Name == p.Name && q.In == p.In })
		if i >= 0 {
			out[i] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// checkPathParameters ensures every template placeholder has a parameter
// (undeclared ones bind as strings) and every path parameter has a
// placeholder.
func checkPathParameters(op *Operation, ptr string) error {
	names := op.template.params()
	for _, p := range op.Parameters {
		if p.In == "path" && !slices.Contains(names, p.Name) {
			return loadErrorf(ptr, "path parameter %q does not appear in %s", p.Name, op.Path)
		}
	}
	for _, name := range names {
		declared := slices.ContainsFunc(op.Parameters, func(p *Parameter) bool {
			return p.In == "path" && p.Name == name
		})
		if !declared {
			op.Parameters = append(op.Parameters, &Parameter{
				Name:     name,
				In:       "path",
				Required: true,
				Schema:   &schema.Schema{Kind: schema.KindString},
			})
		}
	}
	return nil
}

func (l *loader) responses(node any, ptr string) (map[string]*ResponseSpec, error) {
	m, ok := node.(map[string]any)
	if !ok {
		return nil, loadErrorf(ptr, "missing responses object")
	}
	out := make(map[string]*ResponseSpec, len(m))
	for code, raw := range m {
		if strings.HasPrefix(code, "x-") {
			continue
		}
		key := strings.ToUpper(code)
		if key == "DEFAULT" {
			key = "default"
		}
		at := schema.Join(ptr, code)
		if !responseKey.MatchString(key) {
			return nil, loadErrorf(at, "invalid response code %q", code)
		}
		rs, err := l.response(raw, at)
		if err != nil {
			return nil, err
		}
		out[key] = rs
	}
	return out, nil
}

func (l *loader) response(raw any, ptr string) (*ResponseSpec, error) {
	r, at, err := l.deref(raw, ptr)
	if err != nil {
		return nil, err
	}
	rs := &ResponseSpec{Description: stringOf(r["description"])}
	if s, ok := r["schema"]; ok {
		if rs.Schema, err = l.compiler.Compile(s, at+"/schema"); err != nil {
			return nil, &SpecLoadError{Pointer: at, Err: err}
		}
	}
	if headers, ok := r["headers"].(map[string]any); ok {
		rs.Headers = make(map[string]*schema.Schema, len(headers))
		for name, h := range headers {
			hs, err := l.compiler.Compile(h, schema.Join(at+"/headers", name))
			if err != nil {
				return nil, &SpecLoadError{Pointer: at, Err: err}
			}
			rs.Headers[name] = hs
		}
	}
	if ex, ok := r["examples"].(map[string]any); ok {
		rs.Examples = ex
	}
	return rs, nil
}

func (l *loader) security(node any, ptr string) ([]SecurityRequirement, error) {
	if node == nil {
		return nil, nil
	}
	list, ok := node.([]any)
	if !ok {
		return nil, loadErrorf(ptr, "expected array, got %T", node)
	}
	reqs := make([]SecurityRequirement, 0, len(list))
	for i, raw := range list {
		at := fmt.Sprintf("%s/%d", ptr, i)
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, loadErrorf(at, "expected object, got %T", raw)
		}
		req := make(SecurityRequirement, len(m))
		for name, scopes := range m {
			if _, ok := l.schemes[name]; !ok {
				return nil, loadErrorf(at, "undeclared security scheme %q", name)
			}
			req[name] = stringList(scopes)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (l *loader) securitySchemes() (map[string]*SecurityScheme, error) {
	defs, _ := l.doc["securityDefinitions"].(map[string]any)
	out := make(map[string]*SecurityScheme, len(defs))
	for name, raw := range defs {
		at := schema.Join("#/securityDefinitions", name)
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, loadErrorf(at, "expected object, got %T", raw)
		}
		s := &SecurityScheme{
			Name:             name,
			Type:             stringOf(m["type"]),
			In:               stringOf(m["in"]),
			ParamName:        stringOf(m["name"]),
			Flow:             stringOf(m["flow"]),
			AuthorizationURL: stringOf(m["authorizationUrl"]),
			TokenURL:         stringOf(m["tokenUrl"]),
		}
		switch s.Type {
		case SchemeAPIKey:
			if s.ParamName == "" {
				return nil, loadErrorf(at, "apiKey scheme needs a name")
			}
			if s.In != "header" && s.In != "query" && s.In != "cookie" {
				return nil, loadErrorf(at, "apiKey scheme has unsupported location %q", s.In)
			}
		case SchemeBasic:
		case SchemeOAuth2:
			if scopes, ok := m["scopes"].(map[string]any); ok {
				s.Scopes = make(map[string]string, len(scopes))
				for k, v := range scopes {
					s.Scopes[k] = stringOf(v)
				}
			}
		default:
			return nil, loadErrorf(at, "unknown security scheme type %q", s.Type)
		}
		out[name] = s
	}
	return out, nil
}

func extensions(m map[string]any) map[string]any {
	var out map[string]any
	for k, v := range m {
		if !strings.HasPrefix(k, "x-") {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}

func opPointer(op *Operation) string {
	return schema.Join("#/paths", op.Path, strings.ToLower(op.Method))
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func numberExtension(op *Operation, key string) (float64, bool) {
	return schema.Number(op.Extensions[key])
}
