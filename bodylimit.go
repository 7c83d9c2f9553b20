package contract

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// BodyLimitExtension names the operation extension that overrides the
// router-wide body limit, in bytes.
const BodyLimitExtension = "x-body-limit"

// BodyLimit returns middleware that limits the maximum request body size.
// The pipeline reports an oversized body as ErrBodyTooLarge (413).
func BodyLimit(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func (b *binder) limitFor(op *Operation) int64 {
	if n, ok := numberExtension(op, BodyLimitExtension); ok && n > 0 {
		return int64(n)
	}
	return b.bodyLimit
}

// readBody reads at most limit bytes (no limit when limit <= 0).
func readBody(r io.Reader, limit int64) ([]byte, error) {
	if r == nil || r == http.NoBody {
		return nil, nil
	}
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)

	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		limit = mbe.Limit
	} else if err != nil {
		return nil, &StageError{Stage: StageBinding, Kind: ErrValidation, Detail: "read body", Err: err}
	}
	if err != nil || (limit > 0 && int64(len(data)) > limit) {
		return nil, &StageError{
			Stage:  StageBinding,
			Kind:   ErrBodyTooLarge,
			Detail: fmt.Sprintf("body exceeds %d bytes", limit),
		}
	}
	return data, nil
}
