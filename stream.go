package contract

import (
	"io"
)

// Stream is a response body written as is, bypassing content negotiation
// and response body validation. Return it as Response.Body, or as the
// response of a typed handler.
type Stream struct {
	ContentType string
	// Status overrides the default response status when the Response
	// leaves it unset.
	Status int
	Body   io.Reader
}
