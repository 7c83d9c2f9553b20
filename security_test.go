package contract_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/contract"
)

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestRouter_security(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		method  string
		path    string
		body    string
		header  http.Header
		kind    error
		subject string
		scheme  string
	}{
		"api key satisfies first group": {
			method: "DELETE", path: "/v1/pets/1",
			header:  http.Header{"X-Api-Key": {"secret"}},
			subject: "key-user", scheme: "api_key",
		},
		"basic satisfies second group": {
			method: "DELETE", path: "/v1/pets/1",
			header:  http.Header{"Authorization": {basicAuth("admin", "admin")}},
			subject: "admin", scheme: "basic",
		},
		"wrong key falls through to basic": {
			method: "DELETE", path: "/v1/pets/1",
			header: http.Header{
				"X-Api-Key":     {"wrong"},
				"Authorization": {basicAuth("admin", "admin")},
			},
			subject: "admin", scheme: "basic",
		},
		"no credentials": {
			method: "DELETE", path: "/v1/pets/1",
			header: http.Header{},
			kind:   contract.ErrUnauthorized,
		},
		"bad password": {
			method: "DELETE", path: "/v1/pets/1",
			header: http.Header{"Authorization": {basicAuth("admin", "nope")}},
			kind:   contract.ErrUnauthorized,
		},
		"token with scope": {
			method: "POST", path: "/v1/pets", body: `{"name":"Rex"}`,
			header:  http.Header{"Authorization": {"Bearer writer"}},
			subject: "writer", scheme: "oauth",
		},
		"token without scope": {
			method: "POST", path: "/v1/pets", body: `{"name":"Rex"}`,
			header: http.Header{"Authorization": {"Bearer reader"}},
			kind:   contract.ErrInsufficientScope,
		},
		"unknown token": {
			method: "POST", path: "/v1/pets", body: `{"name":"Rex"}`,
			header: http.Header{"Authorization": {"Bearer stolen"}},
			kind:   contract.ErrUnauthorized,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var principal *contract.Principal
			capture := func(ctx context.Context, in *contract.Input) (*contract.Response, error) {
				p, ok := contract.PrincipalFrom(ctx)
				require.True(t, ok)
				assert.Same(t, in.Principal, p)
				principal = p
				if in.Operation.ID == "createPet" {
					return &contract.Response{Body: pet(1, "Rex")}, nil
				}
				return nil, nil
			}
			r := newPetRouter(t,
				contract.WithHandler("deletePet", capture),
				contract.WithHandler("createPet", capture),
			)

			req := &contract.Request{Method: tt.method, Path: tt.path, Header: tt.header}
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
				req.Body = stringsReader(tt.body)
			}
			_, err := r.Dispatch(context.Background(), req)

			if tt.kind != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.kind)
				assert.Equal(t, contract.StageSecurity, contract.StageOf(err))
				assert.Nil(t, principal)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, principal)
			assert.Equal(t, tt.subject, principal.Subject)
			assert.Equal(t, tt.scheme, principal.Scheme)
		})
	}
}

func TestRouter_security_challenges(t *testing.T) {
	t.Parallel()

	r := newPetRouter(t)

	rec := serve(t, r, http.MethodDelete, "/v1/pets/1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []string{`Basic realm="Petstore"`}, rec.Header().Values("WWW-Authenticate"))
	assert.Equal(t, contract.StageSecurity, decodeProblem(t, rec).Stage)

	rec = serve(t, r, http.MethodPost, "/v1/pets", `{"name":"Rex"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []string{"Bearer"}, rec.Header().Values("WWW-Authenticate"))

	rec = serve(t, r, http.MethodPost, "/v1/pets", `{"name":"Rex"}`, "Authorization", "Bearer reader")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Values("WWW-Authenticate"))
}

const securedDoc = `{
  "swagger": "2.0",
  "info": {"title": "Vault", "version": "1"},
  "securityDefinitions": {
    "key": {"type": "apiKey", "in": "query", "name": "key"},
    "session": {"type": "apiKey", "in": "cookie", "name": "sid"}
  },
  "security": [{"key": [], "session": []}],
  "paths": {
    "/secrets": {"get": {"operationId": "secrets", "responses": {"200": {"description": "ok"}}}},
    "/health": {"get": {"operationId": "health", "security": [], "responses": {"200": {"description": "ok"}}}}
  }
}`

func TestRouter_security_allSchemesOfAGroup(t *testing.T) {
	t.Parallel()

	keyCalls := 0
	r, err := contract.New(loadSpec(t, securedDoc),
		contract.WithHandlers(contract.Handlers{
			"secrets": func(context.Context, *contract.Input) (*contract.Response, error) { return nil, nil },
			"health":  func(context.Context, *contract.Input) (*contract.Response, error) { return nil, nil },
		}),
		contract.WithAPIKeyVerifier("key", func(_ context.Context, key string) (*contract.Principal, error) {
			keyCalls++
			return &contract.Principal{Subject: "k:" + key}, nil
		}),
		contract.WithAPIKeyVerifier("session", func(_ context.Context, sid string) (*contract.Principal, error) {
			return &contract.Principal{Subject: "s:" + sid}, nil
		}),
		contract.WithStrictValidation(),
	)
	require.NoError(t, err)

	rec := serve(t, r, http.MethodGet, "/secrets?key=k1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "session cookie missing")

	rec = serve(t, r, http.MethodGet, "/secrets?key=k1", "", "Cookie", "sid=s1")
	assert.Equal(t, http.StatusOK, rec.Code, "strict mode accepts the query api key")
	assert.Equal(t, 2, keyCalls)

	rec = serve(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "empty requirement list opts out")
}

const mixedGroupDoc = `{
  "swagger": "2.0",
  "securityDefinitions": {
    "oauth": {
      "type": "oauth2",
      "flow": "implicit",
      "authorizationUrl": "https://auth.example.com/authorize",
      "scopes": {"write": "write access"}
    },
    "session": {"type": "apiKey", "in": "cookie", "name": "sid"}
  },
  "paths": {
    "/notes": {
      "post": {
        "operationId": "writeNote",
        "security": [{"oauth": ["write"], "session": []}],
        "responses": {"204": {"description": "written"}}
      }
    }
  }
}`

func TestRouter_security_scopeFailureWithMissingCredential(t *testing.T) {
	t.Parallel()

	r, err := contract.New(loadSpec(t, mixedGroupDoc),
		contract.WithHandler("writeNote", func(context.Context, *contract.Input) (*contract.Response, error) {
			return nil, nil
		}),
		contract.WithTokenVerifier("oauth", func(_ context.Context, token string) (*contract.Principal, error) {
			return &contract.Principal{Subject: token, Scopes: []string{"read"}}, nil
		}),
		contract.WithAPIKeyVerifier("session", func(_ context.Context, sid string) (*contract.Principal, error) {
			return &contract.Principal{Subject: sid}, nil
		}),
	)
	require.NoError(t, err)

	rec := serve(t, r, http.MethodPost, "/notes", "", "Authorization", "Bearer reader")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the session cookie is missing too")

	rec = serve(t, r, http.MethodPost, "/notes", "", "Authorization", "Bearer reader", "Cookie", "sid=s1")
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the scope is lacking")
}

func TestRouter_security_verifierTimeout(t *testing.T) {
	t.Parallel()

	r := newPetRouter(t,
		contract.WithVerifierTimeout(20*time.Millisecond),
		contract.WithAPIKeyVerifier("api_key", func(ctx context.Context, _ string) (*contract.Principal, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)

	start := time.Now()
	_, err := r.Dispatch(context.Background(), &contract.Request{
		Method: "DELETE",
		Path:   "/v1/pets/1",
		Header: http.Header{"X-Api-Key": {"secret"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrUnauthorized)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRouter_security_presenceOnlyInMockMode(t *testing.T) {
	t.Parallel()

	r, err := contract.New(loadSpec(t, petstore), contract.WithStubs())
	require.NoError(t, err)

	rec := serve(t, r, http.MethodDelete, "/v1/pets/1", "", "X-API-Key", "anything")
	assert.Equal(t, http.StatusNotImplemented, rec.Code, "any present key passes security")

	rec = serve(t, r, http.MethodDelete, "/v1/pets/1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrincipal_HasScopes(t *testing.T) {
	t.Parallel()

	p := &contract.Principal{Scopes: []string{"a", "b"}}
	assert.True(t, p.HasScopes())
	assert.True(t, p.HasScopes("a", "b"))
	assert.False(t, p.HasScopes("a", "c"))
}
