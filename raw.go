package contract

// RawRequest can be embedded in a typed request to get access to the
// underlying Request.
type RawRequest struct {
	Request *Request
}
