package contract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"
)

// Security scheme types.
const (
	SchemeAPIKey = "apiKey"
	SchemeBasic  = "basic"
	SchemeOAuth2 = "oauth2"
)

// DefaultVerifierTimeout bounds a single verifier call.
const DefaultVerifierTimeout = 5 * time.Second

// SecurityScheme is a declared security definition.
type SecurityScheme struct {
	Name string
	// Type is apiKey, basic or oauth2.
	Type string
	// In and ParamName locate an apiKey credential.
	In        string
	ParamName string

	Flow             string
	AuthorizationURL string
	TokenURL         string
	Scopes           map[string]string
}

// SecurityRequirement maps scheme names to the scopes they require. Every
// scheme in a requirement must succeed; a list of requirements succeeds when
// any one does.
type SecurityRequirement map[string][]string

// Principal is the authenticated identity produced by a verifier.
type Principal struct {
	Subject string
	// Scheme is the security scheme that authenticated the request.
	Scheme string
	Scopes []string
	Claims map[string]any
}

// HasScopes reports whether every scope is granted.
func (p *Principal) HasScopes(scopes ...string) bool {
	for _, s := range scopes {
		if !slices.Contains(p.Scopes, s) {
			return false
		}
	}
	return true
}

// APIKeyVerifier checks an API key.
type APIKeyVerifier func(ctx context.Context, key string) (*Principal, error)

// BasicVerifier checks HTTP basic credentials.
type BasicVerifier func(ctx context.Context, username, password string) (*Principal, error)

// TokenVerifier checks an OAuth2 bearer token and reports its granted scopes
// in the returned Principal.
type TokenVerifier func(ctx context.Context, token string) (*Principal, error)

// errMissingCredential marks a scheme whose credential is absent from the request.
var errMissingCredential = errors.New("missing credential")

// Authenticator evaluates security requirements against a request.
type Authenticator struct {
	schemes map[string]*SecurityScheme
	apiKey  map[string]APIKeyVerifier
	basic   map[string]BasicVerifier
	token   map[string]TokenVerifier
	timeout time.Duration
	realm   string
}

func newAuthenticator(spec *Spec) *Authenticator {
	return &Authenticator{
		schemes: spec.SecuritySchemes,
		apiKey:  make(map[string]APIKeyVerifier),
		basic:   make(map[string]BasicVerifier),
		token:   make(map[string]TokenVerifier),
		timeout: DefaultVerifierTimeout,
		realm:   spec.Title,
	}
}

// hasVerifier reports whether a verifier of the right kind is registered.
func (a *Authenticator) hasVerifier(name string) bool {
	s, ok := a.schemes[name]
	if !ok {
		return false
	}
	switch s.Type {
	case SchemeAPIKey:
		_, ok = a.apiKey[name]
	case SchemeBasic:
		_, ok = a.basic[name]
	case SchemeOAuth2:
		_, ok = a.token[name]
	}
	return ok
}

// Authenticate evaluates reqs in order and returns the principal of the
// first requirement whose schemes all succeed. An empty list passes with a
// nil principal.
//
// On failure the error is a *StageError. Its kind is ErrInsufficientScope
// when some requirement failed only for missing scopes, ErrUnauthorized
// otherwise. Context cancellation is returned as is.
func (a *Authenticator) Authenticate(ctx context.Context, reqs []SecurityRequirement, req *Request) (*Principal, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	scopeOnly := false
	var reasons []string
	for _, group := range reqs {
		principal, err := a.group(ctx, group, req)
		if err == nil {
			return principal, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrInsufficientScope) {
			scopeOnly = true
		}
		reasons = append(reasons, err.Error())
	}

	if scopeOnly {
		return nil, &StageError{
			Stage:  StageSecurity,
			Kind:   ErrInsufficientScope,
			Detail: "token lacks a required scope",
		}
	}
	return nil, &StageError{
		Stage:      StageSecurity,
		Kind:       ErrUnauthorized,
		Detail:     strings.Join(reasons, "; "),
		Challenges: a.challenges(reqs),
	}
}

// group checks every scheme of one requirement, in name order. The group
// fails on scope only when every other scheme in it succeeded.
func (a *Authenticator) group(ctx context.Context, group SecurityRequirement, req *Request) (*Principal, error) {
	names := make([]string, 0, len(group))
	for name := range group {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		first    *Principal
		scopeErr error
	)
	for _, name := range names {
		p, err := a.scheme(ctx, name, group[name], req)
		switch {
		case err == nil:
			if first == nil {
				first = p
			}
		case errors.Is(err, ErrInsufficientScope) && ctx.Err() == nil:
			if scopeErr == nil {
				scopeErr = fmt.Errorf("%s: %w", name, err)
			}
		default:
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if scopeErr != nil {
		return nil, scopeErr
	}
	return first, nil
}

func (a *Authenticator) scheme(ctx context.Context, name string, scopes []string, req *Request) (*Principal, error) {
	s, ok := a.schemes[name]
	if !ok {
		return nil, fmt.Errorf("%w: undeclared scheme", ErrUnauthorized)
	}

	var (
		p   *Principal
		err error
	)
	switch s.Type {
	case SchemeAPIKey:
		key := apiKeyCredential(s, req)
		if key == "" {
			return nil, errMissingCredential
		}
		verify := a.apiKey[name]
		if verify == nil {
			return unverified(name, scopes), nil
		}
		p, err = callVerifier(ctx, a.timeout, func(ctx context.Context) (*Principal, error) {
			return verify(ctx, key)
		})
	case SchemeBasic:
		user, pass, ok := basicCredential(req)
		if !ok {
			return nil, errMissingCredential
		}
		verify := a.basic[name]
		if verify == nil {
			return unverified(name, scopes), nil
		}
		p, err = callVerifier(ctx, a.timeout, func(ctx context.Context) (*Principal, error) {
			return verify(ctx, user, pass)
		})
	case SchemeOAuth2:
		token := bearerCredential(req)
		if token == "" {
			return nil, errMissingCredential
		}
		verify := a.token[name]
		if verify == nil {
			return unverified(name, scopes), nil
		}
		p, err = callVerifier(ctx, a.timeout, func(ctx context.Context) (*Principal, error) {
			return verify(ctx, token)
		})
		if err == nil && !p.HasScopes(scopes...) {
			return nil, ErrInsufficientScope
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme type %q", ErrUnauthorized, s.Type)
	}
	if err != nil {
		return nil, err
	}
	if p.Scheme == "" {
		cp := *p
		cp.Scheme = name
		p = &cp
	}
	return p, nil
}

// unverified is the principal for a scheme that has no verifier, which New
// only allows in stub and mock mode: a present credential is accepted.
func unverified(name string, scopes []string) *Principal {
	return &Principal{Scheme: name, Scopes: scopes}
}

// callVerifier runs fn under a timeout. A verifier that errors, times out or
// returns no principal fails with ErrUnauthorized; cancellation of ctx itself
// is returned unchanged.
func callVerifier(ctx context.Context, d time.Duration, fn func(context.Context) (*Principal, error)) (*Principal, error) {
	vctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		p   *Principal
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := fn(vctx)
		done <- result{p, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, r.err)
		}
		if r.p == nil {
			return nil, fmt.Errorf("%w: verifier returned no principal", ErrUnauthorized)
		}
		return r.p, nil
	case <-vctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: verifier timed out after %s", ErrUnauthorized, d)
	}
}

func (a *Authenticator) challenges(reqs []SecurityRequirement) []string {
	var out []string
	for _, group := range reqs {
		for name := range group {
			s := a.schemes[name]
			if s == nil {
				continue
			}
			var c string
			switch s.Type {
			case SchemeBasic:
				c = fmt.Sprintf("Basic realm=%q", a.realm)
			case SchemeOAuth2:
				c = "Bearer"
			}
			if c != "" && !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

func apiKeyCredential(s *SecurityScheme, req *Request) string {
	switch s.In {
	case "header":
		return req.Header.Get(s.ParamName)
	case "query":
		return req.Query.Get(s.ParamName)
	case "cookie":
		if c, ok := req.cookie(s.ParamName); ok {
			return c
		}
	}
	return ""
}

func basicCredential(req *Request) (string, string, bool) {
	auth := req.Header.Get("Authorization")
	scheme, enc, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(raw), ":")
}

func bearerCredential(req *Request) string {
	auth := req.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// wwwAuthenticate adds one WWW-Authenticate header per challenge.
func wwwAuthenticate(h http.Header, challenges []string) {
	for _, c := range challenges {
		h.Add("WWW-Authenticate", c)
	}
}
