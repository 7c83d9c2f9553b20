package schema

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Sentinel errors for compilation and reference resolution.
var (
	ErrUnresolvedRef = errors.New("unresolved reference")
	ErrCircularRef   = errors.New("circular reference")
	ErrInvalidSchema = errors.New("invalid schema")
)

// CompileError reports where in the document a schema could not be compiled.
type CompileError struct {
	// Pointer locates the failing node in the document ("#/definitions/Pet").
	Pointer string
	// Ref is the reference being followed, if any.
	Ref     string
	Message string
	Err     error
}

// Error returns a human-readable error message.
func (e *CompileError) Error() string {
	msg := e.Err.Error()
	if e.Ref != "" {
		msg += " " + strconv.Quote(e.Ref)
	}
	if e.Pointer != "" {
		msg += " at " + e.Pointer
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap returns the sentinel error.
func (e *CompileError) Unwrap() error { return e.Err }

// Resolve follows a local reference ("#/definitions/Pet") inside doc.
// Only same-document references are supported.
func Resolve(doc map[string]any, ref string) (any, error) {
	if !strings.HasPrefix(ref, "#") {
		return nil, &CompileError{Ref: ref, Err: ErrUnresolvedRef, Message: "only local references are supported"}
	}

	frag := ref[1:]
	if unescaped, err := url.PathUnescape(frag); err == nil {
		frag = unescaped
	}
	if frag == "" || frag == "/" {
		return doc, nil
	}
	if !strings.HasPrefix(frag, "/") {
		return nil, &CompileError{Ref: ref, Err: ErrUnresolvedRef, Message: "malformed JSON pointer"}
	}

	var current any = doc
	parts := strings.Split(frag[1:], "/")
	for i, part := range parts {
		part = UnescapeToken(part)
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, &CompileError{
					Ref:     ref,
					Err:     ErrUnresolvedRef,
					Message: fmt.Sprintf("missing key %q at #/%s", part, strings.Join(parts[:i], "/")),
				}
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, &CompileError{Ref: ref, Err: ErrUnresolvedRef, Message: fmt.Sprintf("bad array index %q", part)}
			}
			current = node[idx]
		default:
			return nil, &CompileError{Ref: ref, Err: ErrUnresolvedRef, Message: fmt.Sprintf("cannot descend into %T", current)}
		}
	}
	return current, nil
}

// EscapeToken escapes a single JSON pointer reference token (RFC 6901).
func EscapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~", "~0")
	return strings.ReplaceAll(tok, "/", "~1")
}

// UnescapeToken reverses EscapeToken.
func UnescapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	return strings.ReplaceAll(tok, "~0", "~")
}

// Join appends reference tokens to a JSON pointer.
func Join(ptr string, toks ...string) string {
	var b strings.Builder
	b.WriteString(ptr)
	for _, t := range toks {
		b.WriteByte('/')
		b.WriteString(EscapeToken(t))
	}
	return b.String()
}
