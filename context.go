package contract

import (
	"context"
	"net/http"
)

type contextKey[T any] struct{}

// SetValue stores a typed value in the request context. For use in middleware.
func SetValue[T any](r *http.Request, val T) *http.Request {
	return r.WithContext(withValue(r.Context(), val))
}

// GetValue retrieves a typed value from the request context. For use in handlers.
func GetValue[T any](ctx context.Context) (T, bool) {
	val, ok := ctx.Value(contextKey[T]{}).(T)
	return val, ok
}

func withValue[T any](ctx context.Context, val T) context.Context {
	return context.WithValue(ctx, contextKey[T]{}, val)
}

// PrincipalFrom returns the authenticated principal of the request being
// handled, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := GetValue[*Principal](ctx)
	return p, ok && p != nil
}

// OperationFrom returns the operation being handled.
func OperationFrom(ctx context.Context) (*Operation, bool) {
	op, ok := GetValue[*Operation](ctx)
	return op, ok && op != nil
}
