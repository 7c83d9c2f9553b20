package contract

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Stage names a step of the request pipeline.
type Stage string

// Pipeline stages, in execution order.
const (
	StageRouting            Stage = "ROUTING"
	StageSecurity           Stage = "SECURITY"
	StageBinding            Stage = "BINDING"
	StageBodyValidation     Stage = "BODY_VALIDATION"
	StageDispatch           Stage = "DISPATCH"
	StageResponseValidation Stage = "RESPONSE_VALIDATION"
	StageSerialize          Stage = "SERIALIZE"
)

// Sentinel errors identifying the kind of a pipeline failure. Use errors.Is
// against a *StageError to test for them.
var (
	ErrSpecLoad             = errors.New("spec load")
	ErrNotFound             = errors.New("not found")
	ErrMethodNotAllowed     = errors.New("method not allowed")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientScope    = errors.New("insufficient scope")
	ErrValidation           = errors.New("validation failed")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrBodyTooLarge         = errors.New("request body too large")
	ErrNotImplemented       = errors.New("not implemented")
	ErrResponseValidation   = errors.New("response validation")
	ErrSerialize            = errors.New("serialize response")
)

// StatusCoder is implemented by errors or responses that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// SpecLoadError reports a document that cannot be turned into a Spec.
type SpecLoadError struct {
	// Pointer locates the offending node ("#/paths/~1pets/get").
	Pointer string
	Message string
	Err     error
}

// Error returns a human-readable error message.
func (e *SpecLoadError) Error() string {
	var b strings.Builder
	b.WriteString("load spec")
	if e.Pointer != "" {
		b.WriteString(" at ")
		b.WriteString(e.Pointer)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *SpecLoadError) Unwrap() error { return e.Err }

// Is reports whether target is ErrSpecLoad.
func (e *SpecLoadError) Is(target error) bool { return target == ErrSpecLoad }

func loadErrorf(ptr, format string, args ...any) *SpecLoadError {
	return &SpecLoadError{Pointer: ptr, Message: fmt.Sprintf(format, args...)}
}

// StageError is a pipeline failure tagged with the stage that produced it.
// Kind is one of the package's sentinel errors.
type StageError struct {
	Stage       Stage
	Kind        error
	OperationID string
	Detail      string
	Fields      []ValidationError

	// Allow lists the methods the path does support (ErrMethodNotAllowed).
	Allow []string
	// Challenges are WWW-Authenticate values (ErrUnauthorized).
	Challenges []string
	// RetryAfter is the Retry-After value in seconds (ErrRateLimited).
	RetryAfter int

	Err error
}

// Error returns a human-readable error message.
func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(e.Stage)))
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Field)
		b.WriteString(" ")
		b.WriteString(f.Message)
	}
	return b.String()
}

// Is reports whether target is the error's Kind.
func (e *StageError) Is(target error) bool { return target == e.Kind }

// Unwrap returns the underlying cause, if any.
func (e *StageError) Unwrap() error { return e.Err }

// StatusCode maps the error kind to an HTTP status.
func (e *StageError) StatusCode() int {
	switch e.Kind {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrInsufficientScope:
		return http.StatusForbidden
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case ErrBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Problem renders the error as an RFC 9457 problem detail.
func (e *StageError) Problem() *ProblemDetail {
	status := e.StatusCode()
	title := http.StatusText(status)
	if e.Kind == ErrValidation {
		title = "Validation Failed"
	}
	detail := e.Detail
	if detail == "" {
		detail = e.Kind.Error()
	}
	return &ProblemDetail{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
		Stage:  e.Stage,
		Errors: e.Fields,
	}
}

// ProblemDetail is an RFC 9457 problem details response.
//
//nolint:errname // RFC 9457 standard name
type ProblemDetail struct {
	Type     string            `json:"type,omitempty"`
	Title    string            `json:"title,omitempty"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Stage    Stage             `json:"stage,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// Error returns the detail message (or title if detail is empty).
func (p *ProblemDetail) Error() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}

// StatusCode returns the HTTP status code.
func (p *ProblemDetail) StatusCode() int { return p.Status }

// ValidationError describes a single field validation failure. Field is the
// parameter name, or a JSON pointer into the body when In is "body".
type ValidationError struct {
	In      string `json:"in,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// HTTPError is an error with an HTTP status code. Handlers return it to pick
// the status of an application error.
type HTTPError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Error returns the error message.
func (e *HTTPError) Error() string { return e.Message }

// StatusCode returns the HTTP status code.
func (e *HTTPError) StatusCode() int { return e.Status }

// Error returns an error with the given HTTP status code and message.
func Error(status int, message string) error {
	return &HTTPError{Status: status, Message: message}
}

// Errorf returns a formatted error with the given HTTP status code.
func Errorf(status int, format string, args ...any) error {
	return &HTTPError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// ErrorStatus extracts the HTTP status code from an error. Returns
// http.StatusInternalServerError if the error does not implement StatusCoder.
func ErrorStatus(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

// StageOf returns the pipeline stage that produced err, or "" for errors
// that did not come from the pipeline (handler errors, context errors).
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
