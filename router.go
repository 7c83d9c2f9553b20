package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"time"
)

// Router dispatches requests to the handlers of a loaded Spec. It is
// immutable after New and implements http.Handler.
type Router struct {
	spec       *Spec
	handlers   map[string]HandlerFunc
	auth       *Authenticator
	binder     *binder
	middleware []Middleware

	encoders []Encoder
	decoders []Decoder
	codecs   *codecRegistry

	logger       *slog.Logger
	errorHandler ErrorHandler
	onWarning    func(context.Context, *ResponseWarning)

	handlerTimeout  time.Duration
	strictResponses bool
	skipResponses   bool
	stubs           bool
	mocks           bool

	rateLimit *RateLimitConfig
	limiter   *rateLimiter
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// ErrorHandler is a custom error response writer.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// WithHandler registers the handler for a handler identifier.
func WithHandler(id string, h HandlerFunc) RouterOption {
	return func(r *Router) {
		r.handlers[id] = h
	}
}

// WithHandlers registers several handlers at once.
func WithHandlers(hs Handlers) RouterOption {
	return func(r *Router) {
		for id, h := range hs {
			r.handlers[id] = h
		}
	}
}

// WithAPIKeyVerifier sets the verifier for an apiKey security scheme.
func WithAPIKeyVerifier(scheme string, v APIKeyVerifier) RouterOption {
	return func(r *Router) {
		r.auth.apiKey[scheme] = v
	}
}

// WithBasicVerifier sets the verifier for a basic security scheme.
func WithBasicVerifier(scheme string, v BasicVerifier) RouterOption {
	return func(r *Router) {
		r.auth.basic[scheme] = v
	}
}

// WithTokenVerifier sets the verifier for an oauth2 security scheme.
func WithTokenVerifier(scheme string, v TokenVerifier) RouterOption {
	return func(r *Router) {
		r.auth.token[scheme] = v
	}
}

// WithVerifierTimeout bounds each verifier call (default 5s).
func WithVerifierTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.auth.timeout = d
		}
	}
}

// WithStrictValidation rejects query and formData parameters the operation
// does not declare.
func WithStrictValidation() RouterOption {
	return func(r *Router) {
		r.binder.strict = true
	}
}

// WithBodyLimit sets the maximum request body size in bytes. Operations can
// override it with the x-body-limit extension.
func WithBodyLimit(n int64) RouterOption {
	return func(r *Router) {
		r.binder.bodyLimit = n
	}
}

// WithHandlerTimeout bounds the context handed to each handler.
func WithHandlerTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		r.handlerTimeout = d
	}
}

// WithStrictResponseValidation fails a request with a 500 when the handler's
// response does not match the declared response.
func WithStrictResponseValidation() RouterOption {
	return func(r *Router) {
		r.strictResponses = true
	}
}

// WithoutResponseValidation skips response validation.
func WithoutResponseValidation() RouterOption {
	return func(r *Router) {
		r.skipResponses = true
	}
}

// OnResponseWarning registers a callback for response validation warnings.
// It runs on the request goroutine before the response is written.
func OnResponseWarning(fn func(context.Context, *ResponseWarning)) RouterOption {
	return func(r *Router) {
		r.onWarning = fn
	}
}

// WithLogger sets the logger used for warnings and handler failures.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// WithErrorHandler sets a custom error handler for the router.
func WithErrorHandler(h ErrorHandler) RouterOption {
	return func(r *Router) {
		r.errorHandler = h
	}
}

// WithEncoder registers an additional response encoder.
func WithEncoder(enc Encoder) RouterOption {
	return func(r *Router) {
		r.encoders = append(r.encoders, enc)
	}
}

// WithDecoder registers an additional request body decoder.
func WithDecoder(dec Decoder) RouterOption {
	return func(r *Router) {
		r.decoders = append(r.decoders, dec)
	}
}

// WithStubs answers operations that have no handler with 501 Not
// Implemented instead of failing New. Security schemes without a verifier
// accept any credential that is present.
func WithStubs() RouterOption {
	return func(r *Router) {
		r.stubs = true
	}
}

// WithMocks answers operations that have no handler with the example of
// their success response, or a value generated from its schema. Security
// schemes without a verifier accept any credential that is present.
func WithMocks() RouterOption {
	return func(r *Router) {
		r.mocks = true
	}
}

// WithRateLimit limits requests per operation and client. Operations can
// set their own limit with the x-rate-limit extension.
func WithRateLimit(cfg RateLimitConfig) RouterOption {
	return func(r *Router) {
		r.rateLimit = &cfg
	}
}

// New creates a Router for spec. It fails when an operation has no handler
// (unless stubs or mocks are enabled), when a handler is registered for an
// unknown identifier, or when a security scheme in use has no verifier.
func New(spec *Spec, opts ...RouterOption) (*Router, error) {
	r := &Router{
		spec:     spec,
		handlers: make(map[string]HandlerFunc),
		auth:     newAuthenticator(spec),
		binder:   &binder{spec: spec},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.codecs = newCodecRegistry(r.encoders, r.decoders)
	r.binder.codecs = r.codecs
	r.limiter = newRateLimiter(r.rateLimit)

	if err := r.check(); err != nil {
		return nil, err
	}

	for _, op := range spec.Operations {
		if _, ok := r.handlers[op.ID]; ok {
			continue
		}
		if r.mocks {
			r.handlers[op.ID] = r.mockHandler(op)
		} else {
			r.handlers[op.ID] = stubHandler(op)
		}
	}
	return r, nil
}

// check reports every configuration problem at once.
func (r *Router) check() error {
	var errs []error

	for _, id := range sortedKeys(r.handlers) {
		if _, ok := r.spec.Operation(id); !ok {
			errs = append(errs, fmt.Errorf("handler %q matches no operation", id))
		}
	}

	lenient := r.stubs || r.mocks
	if !lenient {
		for _, op := range r.spec.Operations {
			if _, ok := r.handlers[op.ID]; !ok {
				errs = append(errs, fmt.Errorf("operation %s %s: no handler registered for %q", op.Method, op.Path, op.ID))
			}
		}
	}

	verifiers := slices.Concat(sortedKeys(r.auth.apiKey), sortedKeys(r.auth.basic), sortedKeys(r.auth.token))
	for _, name := range verifiers {
		if _, ok := r.spec.SecuritySchemes[name]; !ok {
			errs = append(errs, fmt.Errorf("verifier registered for undeclared security scheme %q", name))
		}
	}

	if !lenient {
		for _, name := range r.schemesInUse() {
			if !r.auth.hasVerifier(name) {
				errs = append(errs, fmt.Errorf("security scheme %q has no verifier", name))
			}
		}
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// schemesInUse returns the names of the security schemes some operation
// requires, sorted.
func (r *Router) schemesInUse() []string {
	var names []string
	for _, op := range r.spec.Operations {
		for _, group := range r.requirements(op) {
			for name := range group {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func (r *Router) requirements(op *Operation) []SecurityRequirement {
	if op.Security != nil {
		return op.Security
	}
	return r.spec.Security
}

// Spec returns the router's spec.
func (r *Router) Spec() *Spec { return r.spec }

// Use adds middleware to the router. Middleware is applied in the order added.
func (r *Router) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

// Dispatch runs a request through the pipeline: routing, security, binding,
// body validation, the handler, response validation and serialization.
//
// A pipeline failure is a *StageError naming the stage that failed; no later
// stage runs. Handler errors are returned unmodified, as are context errors
// when ctx ends between stages. The returned Response is serialized: its Body
// is []byte, an io.Reader for streamed bodies, or nil.
func (r *Router) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	rl, _ := GetValue[*requestLog](ctx)
	stage := func(s Stage) error {
		if rl != nil {
			rl.stage = s
		}
		return ctx.Err()
	}

	if err := stage(StageRouting); err != nil {
		return nil, err
	}
	m, err := r.spec.match(req.Method, req.Path)
	if err != nil {
		return nil, err
	}
	op := m.Operation
	if rl != nil {
		rl.operationID = op.ID
	}
	if err := r.limiter.allow(op, req); err != nil {
		return nil, err
	}

	if err := stage(StageSecurity); err != nil {
		return nil, err
	}
	principal, err := r.auth.Authenticate(ctx, r.requirements(op), req)
	if err != nil {
		return nil, withOperation(err, op)
	}

	if err := stage(StageBinding); err != nil {
		return nil, err
	}
	in, err := r.binder.bind(op, m.raw, req)
	if err != nil {
		return nil, withOperation(err, op)
	}
	defer in.release()
	in.Principal = principal

	if err := stage(StageBodyValidation); err != nil {
		return nil, err
	}
	if err := validateBody(op, in); err != nil {
		return nil, err
	}

	if err := stage(StageDispatch); err != nil {
		return nil, err
	}
	resp, err := r.call(ctx, op, in)
	if err != nil {
		return nil, err
	}

	if err := stage(StageResponseValidation); err != nil {
		return nil, err
	}
	defaultStatus(op, resp)
	if !r.skipResponses {
		if w := checkResponse(op, resp); w != nil {
			r.logger.WarnContext(ctx, "response validation warning",
				"operation_id", op.ID,
				"status", resp.Status,
				"error", w,
			)
			if r.onWarning != nil {
				r.onWarning(ctx, w)
			}
			if r.strictResponses {
				return nil, &StageError{
					Stage:       StageResponseValidation,
					Kind:        ErrResponseValidation,
					OperationID: op.ID,
					Detail:      "response does not match the declared response",
					Err:         w,
				}
			}
		}
	}

	if err := stage(StageSerialize); err != nil {
		return nil, err
	}
	return r.serialize(op, resp, req.Header.Get("Accept"))
}

// call runs the operation's handler with the principal and operation in
// its context.
func (r *Router) call(ctx context.Context, op *Operation, in *Input) (*Response, error) {
	ctx = withValue(ctx, op)
	if in.Principal != nil {
		ctx = withValue(ctx, in.Principal)
	}
	if r.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.handlerTimeout)
		defer cancel()
	}

	resp, err := r.handlers[op.ID](ctx, in)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &Response{}
	}
	return resp, nil
}

func withOperation(err error, op *Operation) error {
	var se *StageError
	if errors.As(err, &se) && se.OperationID == "" {
		se.OperationID = op.ID
	}
	return err
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(http.HandlerFunc(r.serve))
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}
	handler.ServeHTTP(w, req)
}

func (r *Router) serve(w http.ResponseWriter, req *http.Request) {
	resp, err := r.Dispatch(req.Context(), NewRequest(req))
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	writeResponse(w, resp)
}

// ListenAndServe starts an HTTP server for the router on the given address.
// It blocks until the context is cancelled, then shuts down gracefully.
func (r *Router) ListenAndServe(ctx context.Context, addr string) error {
	return ListenAndServe(ctx, addr, r)
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts the
// server down gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
