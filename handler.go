package contract

import (
	"context"
	"net/http"
)

// HandlerFunc handles a bound, validated request. Its errors reach the
// caller of Dispatch unmodified.
type HandlerFunc func(ctx context.Context, in *Input) (*Response, error)

// Response is a handler result.
type Response struct {
	// Status defaults to the operation's lowest declared 2xx code, or 200
	// (204 without a body) when none is declared.
	Status int
	Header http.Header
	// Body is encoded by content negotiation against the operation's
	// produces list. []byte, io.Reader and *Stream bodies are written as is.
	Body any
}

// Void is used as a type parameter when a request has no parameters/body
// or a response has no body.
type Void struct{}

// Handler is a typed handler; adapt it with Typed.
type Handler[Req, Resp any] func(ctx context.Context, req *Req) (*Resp, error)

// Handlers maps handler identifiers to handlers.
type Handlers map[string]HandlerFunc
