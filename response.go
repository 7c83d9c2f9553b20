package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// ResponseWarning reports a handler response that does not match the
// operation's declared responses. It matches ErrResponseValidation.
type ResponseWarning struct {
	OperationID string
	Status      int
	Detail      string
	Violations  []ValidationError
}

// Error returns a human-readable error message.
func (w *ResponseWarning) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "response %d from %s", w.Status, w.OperationID)
	if w.Detail != "" {
		b.WriteString(": ")
		b.WriteString(w.Detail)
	}
	for i, v := range w.Violations {
		if i == 0 && w.Detail == "" {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		if v.Field != "" {
			b.WriteString(v.Field)
			b.WriteString(" ")
		}
		b.WriteString(v.Message)
	}
	return b.String()
}

// Is reports whether target is ErrResponseValidation.
func (w *ResponseWarning) Is(target error) bool { return target == ErrResponseValidation }

// declaredResponse finds the response declared for status: the exact code,
// then its class ("4XX"), then "default".
func declaredResponse(op *Operation, status int) (*ResponseSpec, bool) {
	if rs, ok := op.Responses[strconv.Itoa(status)]; ok {
		return rs, true
	}
	if rs, ok := op.Responses[fmt.Sprintf("%dXX", status/100)]; ok {
		return rs, true
	}
	rs, ok := op.Responses["default"]
	return rs, ok
}

// defaultStatus fills in the status of a response that left it unset.
func defaultStatus(op *Operation, resp *Response) {
	if resp.Status != 0 {
		return
	}
	if s, ok := resp.Body.(*Stream); ok && s.Status != 0 {
		resp.Status = s.Status
		return
	}
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
	switch {
	case lowest != 0:
		resp.Status = lowest
	case resp.Body == nil:
		resp.Status = http.StatusNoContent
	default:
		resp.Status = http.StatusOK
	}
}

// checkResponse validates the status, declared headers and body of a
// handler response.
func checkResponse(op *Operation, resp *Response) *ResponseWarning {
	rs, ok := declaredResponse(op, resp.Status)
	if !ok {
		return &ResponseWarning{OperationID: op.ID, Status: resp.Status, Detail: "status is not declared"}
	}

	fields := checkHeaders(rs, resp.Header)
	fields = append(fields, checkBody(rs, resp.Body)...)
	if len(fields) == 0 {
		return nil
	}
	return &ResponseWarning{OperationID: op.ID, Status: resp.Status, Violations: fields}
}

func checkHeaders(rs *ResponseSpec, h http.Header) []ValidationError {
	names := make([]string, 0, len(rs.Headers))
	for name := range rs.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []ValidationError
	for _, name := range names {
		v := h.Get(name)
		if v == "" {
			continue
		}
		p := &Parameter{Name: name, In: "header", Schema: rs.Headers[name], CollectionFormat: "csv"}
		_, errs := bindValue(p, []string{v})
		out = append(out, errs...)
	}
	return out
}

func checkBody(rs *ResponseSpec, body any) []ValidationError {
	if rs.Schema == nil {
		return nil
	}
	if body == nil {
		if rs.Schema.Resolved().Nullable {
			return nil
		}
		return []ValidationError{{In: "body", Message: "missing response body"}}
	}

	switch body.(type) {
	case []byte, io.Reader, *Stream:
		return nil
	}

	value, err := generic(body)
	if err != nil {
		return []ValidationError{{In: "body", Message: "cannot encode response body: " + err.Error()}}
	}
	err = rs.Schema.Validate(value)
	if err == nil {
		return nil
	}
	return bodyViolations(err, "")
}

// generic converts a handler value to the generic form schemas validate.
func generic(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// serialize encodes the response body by negotiating against the
// operation's produces list.
func (r *Router) serialize(op *Operation, resp *Response, accept string) (*Response, error) {
	out := &Response{Status: resp.Status, Header: resp.Header.Clone()}
	if out.Header == nil {
		out.Header = make(http.Header)
	}

	switch body := resp.Body.(type) {
	case nil:
	case *Stream:
		if body.ContentType != "" {
			out.Header.Set("Content-Type", body.ContentType)
		}
		if body.Body != nil {
			out.Body = body.Body
		}
	case []byte:
		defaultContentType(out.Header, op)
		out.Body = body
	case io.Reader:
		defaultContentType(out.Header, op)
		out.Body = body
	default:
		enc, _ := r.codecs.negotiate(accept, op.Produces)
		var buf bytes.Buffer
		if err := enc.Encode(&buf, body); err != nil {
			return nil, &StageError{
				Stage:       StageSerialize,
				Kind:        ErrSerialize,
				OperationID: op.ID,
				Detail:      err.Error(),
				Err:         err,
			}
		}
		if out.Header.Get("Content-Type") == "" {
			out.Header.Set("Content-Type", enc.ContentType())
		}
		out.Body = buf.Bytes()
	}
	return out, nil
}

func defaultContentType(h http.Header, op *Operation) {
	if h.Get("Content-Type") == "" && len(op.Produces) > 0 {
		h.Set("Content-Type", op.Produces[0])
	}
}

// writeResponse writes a serialized response.
func writeResponse(w http.ResponseWriter, resp *Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	switch b := resp.Body.(type) {
	case []byte:
		//nolint:errcheck,gosec // best-effort after WriteHeader
		w.Write(b)
	case io.Reader:
		//nolint:errcheck,gosec // best-effort streaming copy
		io.Copy(w, b)
	}
}

func (r *Router) writeError(w http.ResponseWriter, req *http.Request, err error) {
	if StageOf(err) == "" && ErrorStatus(err) >= http.StatusInternalServerError {
		r.logger.ErrorContext(req.Context(), "handler failed",
			"method", req.Method,
			"path", req.URL.Path,
			"error", err,
		)
	}
	if r.errorHandler != nil {
		r.errorHandler(w, req, err)
		return
	}
	writeErrorResponse(w, err)
}

// writeErrorResponse writes an error as an RFC 9457 problem details response.
// Stage errors set Allow, WWW-Authenticate and Retry-After as their kind
// requires; a context that ended before the response was ready is a 503.
func writeErrorResponse(w http.ResponseWriter, err error) {
	var (
		problem *ProblemDetail
		se      *StageError
		pd      *ProblemDetail
	)
	switch {
	case errors.As(err, &se):
		problem = se.Problem()
		if len(se.Allow) > 0 {
			w.Header().Set("Allow", strings.Join(se.Allow, ", "))
		}
		wwwAuthenticate(w.Header(), se.Challenges)
		if se.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(se.RetryAfter))
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		problem = &ProblemDetail{
			Type:   "about:blank",
			Title:  http.StatusText(http.StatusServiceUnavailable),
			Status: http.StatusServiceUnavailable,
			Detail: err.Error(),
		}
	case errors.As(err, &pd):
		problem = pd
	default:
		status := ErrorStatus(err)
		problem = &ProblemDetail{
			Type:   "about:blank",
			Title:  http.StatusText(status),
			Status: status,
			Detail: err.Error(),
		}
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	//nolint:errcheck,errchkjson,gosec // best-effort after WriteHeader
	json.NewEncoder(w).Encode(problem)
}
