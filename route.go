package contract

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/bjaus/contract/schema"
)

// PathTemplate is a compiled path pattern such as /pets/{id} or
// /files/{name}.json.
type PathTemplate struct {
	raw      string
	segments []segment
	// static is the number of fully literal segments; more is more specific.
	static int
}

type segment struct {
	literal string
	// param is set for a segment that is exactly one placeholder.
	param string
	// re matches a segment that mixes literals and placeholders.
	re    *regexp.Regexp
	names []string
}

var placeholder = regexp.MustCompile(`\{([^{}/]+)\}`)

func compileTemplate(path string) (*PathTemplate, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path %q must begin with /", path)
	}
	t := &PathTemplate{raw: path}
	for _, part := range splitPath(path) {
		locs := placeholder.FindAllStringSubmatchIndex(part, -1)
		switch {
		case len(locs) == 0:
			if strings.ContainsAny(part, "{}") {
				return nil, fmt.Errorf("path %q has an unbalanced placeholder", path)
			}
			t.segments = append(t.segments, segment{literal: part})
			t.static++
		case len(locs) == 1 && locs[0][0] == 0 && locs[0][1] == len(part):
			t.segments = append(t.segments, segment{param: part[locs[0][2]:locs[0][3]]})
		default:
			seg := segment{}
			var b strings.Builder
			b.WriteString("^")
			last := 0
			for _, loc := range locs {
				b.WriteString(regexp.QuoteMeta(part[last:loc[0]]))
				b.WriteString("(.+?)")
				seg.names = append(seg.names, part[loc[2]:loc[3]])
				last = loc[1]
			}
			b.WriteString(regexp.QuoteMeta(part[last:]))
			b.WriteString("$")
			seg.re = regexp.MustCompile(b.String())
			seg.literal = part
			t.segments = append(t.segments, seg)
		}
	}
	for i, name := range t.params() {
		if slices.Contains(t.params()[:i], name) {
			return nil, fmt.Errorf("path %q repeats placeholder {%s}", path, name)
		}
	}
	return t, nil
}

// String returns the template text.
func (t *PathTemplate) String() string { return t.raw }

func (t *PathTemplate) params() []string {
	var out []string
	for _, s := range t.segments {
		switch {
		case s.param != "":
			out = append(out, s.param)
		case s.re != nil:
			out = append(out, s.names...)
		}
	}
	return out
}

func (t *PathTemplate) isStatic() bool { return t.static == len(t.segments) }

// match extracts placeholder values from already decoded path segments.
func (t *PathTemplate) match(parts []string) (map[string]string, bool) {
	if len(parts) != len(t.segments) {
		return nil, false
	}
	var values map[string]string
	for i, s := range t.segments {
		part := parts[i]
		switch {
		case s.param != "":
			if part == "" {
				return nil, false
			}
			if values == nil {
				values = make(map[string]string)
			}
			values[s.param] = part
		case s.re != nil:
			m := s.re.FindStringSubmatch(part)
			if m == nil {
				return nil, false
			}
			if values == nil {
				values = make(map[string]string)
			}
			for j, name := range s.names {
				values[name] = m[j+1]
			}
		default:
			if part != s.literal {
				return nil, false
			}
		}
	}
	return values, true
}

// overlaps reports whether some concrete path could match both templates.
func (t *PathTemplate) overlaps(o *PathTemplate) bool {
	if len(t.segments) != len(o.segments) {
		return false
	}
	for i := range t.segments {
		if !t.segments[i].overlaps(o.segments[i]) {
			return false
		}
	}
	return true
}

func (s segment) overlaps(o segment) bool {
	switch {
	case s.param != "" || o.param != "":
		return true
	case s.re == nil && o.re == nil:
		return s.literal == o.literal
	case s.re == nil:
		return o.re.MatchString(s.literal)
	case o.re == nil:
		return s.re.MatchString(o.literal)
	default:
		return s.re.MatchString(s.sample()) && o.re.MatchString(s.sample()) ||
			s.re.MatchString(o.sample()) && o.re.MatchString(o.sample())
	}
}

// sample is a concrete segment value the partial segment matches.
func (s segment) sample() string {
	return placeholder.ReplaceAllString(s.literal, "x")
}

type route struct {
	tpl *PathTemplate
	ops map[string]*Operation
}

func (r *route) allow() []string {
	out := make([]string, 0, len(r.ops))
	for m := range r.ops {
		out = append(out, m)
	}
	return out
}

// routeTable holds fully static templates by path and the rest ordered by
// specificity.
type routeTable struct {
	static  map[string]*route
	dynamic []*route
}

func buildRoutes(ops []*Operation) (*routeTable, error) {
	byPath := make(map[string]*route)
	var order []*route
	for _, op := range ops {
		r, ok := byPath[op.Path]
		if !ok {
			r = &route{tpl: op.template, ops: make(map[string]*Operation)}
			byPath[op.Path] = r
			order = append(order, r)
		}
		r.ops[op.Method] = op
	}

	rt := &routeTable{static: make(map[string]*route)}
	for _, r := range order {
		if r.tpl.isStatic() {
			key := "/" + strings.Join(literals(r.tpl), "/")
			if prev, ok := rt.static[key]; ok {
				return nil, loadErrorf(schemaPath(r.tpl), "path %s duplicates %s", r.tpl, prev.tpl)
			}
			rt.static[key] = r
			continue
		}
		rt.dynamic = append(rt.dynamic, r)
	}

	sort.SliceStable(rt.dynamic, func(i, j int) bool {
		a, b := rt.dynamic[i].tpl, rt.dynamic[j].tpl
		if a.static != b.static {
			return a.static > b.static
		}
		return a.raw < b.raw
	})

	for i, a := range rt.dynamic {
		for _, b := range rt.dynamic[i+1:] {
			if a.tpl.static != b.tpl.static {
				break
			}
			if a.tpl.overlaps(b.tpl) {
				return nil, loadErrorf(schemaPath(b.tpl), "path %s is ambiguous with %s", b.tpl, a.tpl)
			}
		}
	}
	return rt, nil
}

func literals(t *PathTemplate) []string {
	out := make([]string, len(t.segments))
	for i, s := range t.segments {
		out[i] = s.literal
	}
	return out
}

func schemaPath(t *PathTemplate) string {
	return schema.Join("#/paths", t.raw)
}

// Match is a resolved operation and its path parameters.
type Match struct {
	Operation *Operation
	// PathParams holds path parameter values coerced to their declared types.
	PathParams map[string]any

	raw map[string]string
}

// Resolve matches a request method and path to an operation. The path is
// normalized (base path stripped, duplicate and trailing slashes removed,
// segments percent-decoded) before matching. Fully static templates are
// tried first, then templated ones from most to least specific; the first
// template that declares the method wins.
//
// Resolve returns a *StageError wrapping ErrNotFound, ErrMethodNotAllowed
// (with Allow set), or, when a path parameter cannot be coerced to its
// declared type, ErrValidation.
func (s *Spec) Resolve(method, path string) (*Match, error) {
	m, err := s.match(method, path)
	if err != nil {
		return nil, err
	}

	m.PathParams = make(map[string]any, len(m.raw))
	var fields []ValidationError
	for _, p := range m.Operation.Parameters {
		if p.In != "path" {
			continue
		}
		v, errs := bindValue(p, []string{m.raw[p.Name]})
		fields = append(fields, errs...)
		if len(errs) == 0 {
			m.PathParams[p.Name] = v
		}
	}
	if len(fields) > 0 {
		return nil, &StageError{Stage: StageBinding, Kind: ErrValidation, OperationID: m.Operation.ID, Fields: fields}
	}
	return m, nil
}

func (s *Spec) match(method, path string) (*Match, error) {
	parts, ok := s.normalize(path)
	if !ok {
		return nil, &StageError{Stage: StageRouting, Kind: ErrNotFound, Detail: "no operation matches " + path}
	}
	method = strings.ToUpper(method)

	var allow []string
	try := func(r *route) *Match {
		values, ok := r.tpl.match(parts)
		if !ok {
			return nil
		}
		if op, ok := r.ops[method]; ok {
			return &Match{Operation: op, raw: values}
		}
		allow = append(allow, r.allow()...)
		return nil
	}

	if r, ok := s.routes.static["/"+strings.Join(parts, "/")]; ok {
		if m := try(r); m != nil {
			return m, nil
		}
	}
	for _, r := range s.routes.dynamic {
		if m := try(r); m != nil {
			return m, nil
		}
	}

	if len(allow) > 0 {
		slices.Sort(allow)
		allow = slices.Compact(allow)
		return nil, &StageError{
			Stage:  StageRouting,
			Kind:   ErrMethodNotAllowed,
			Detail: fmt.Sprintf("%s is not allowed on %s", method, path),
			Allow:  allow,
		}
	}
	return nil, &StageError{Stage: StageRouting, Kind: ErrNotFound, Detail: "no operation matches " + path}
}

// Methods returns the methods declared by every template that matches path,
// sorted. It is empty when no template matches.
func (s *Spec) Methods(path string) []string {
	parts, ok := s.normalize(path)
	if !ok {
		return nil
	}
	var out []string
	if r, ok := s.routes.static["/"+strings.Join(parts, "/")]; ok {
		out = append(out, r.allow()...)
	}
	for _, r := range s.routes.dynamic {
		if _, ok := r.tpl.match(parts); ok {
			out = append(out, r.allow()...)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// normalize strips the base path and splits the path into decoded segments.
func (s *Spec) normalize(path string) ([]string, bool) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := splitPath(path)

	if s.BasePath != "" {
		base := splitPath(s.BasePath)
		if len(parts) < len(base) || !slices.Equal(parts[:len(base)], base) {
			return nil, false
		}
		parts = parts[len(base):]
	}

	for i, p := range parts {
		dec, err := url.PathUnescape(p)
		if err != nil {
			return nil, false
		}
		parts[i] = dec
	}
	return parts, true
}

// splitPath splits on "/" dropping empty segments, which collapses
// duplicate slashes and ignores a trailing one.
func splitPath(p string) []string {
	var out []string
	for part := range strings.SplitSeq(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
