package contract_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bjaus/contract"
)

const petstore = `{
  "swagger": "2.0",
  "info": {"title": "Petstore", "version": "1.0.0"},
  "basePath": "/v1",
  "consumes": ["application/json"],
  "produces": ["application/json"],
  "securityDefinitions": {
    "api_key": {"type": "apiKey", "in": "header", "name": "X-API-Key"},
    "basic": {"type": "basic"},
    "oauth": {
      "type": "oauth2",
      "flow": "implicit",
      "authorizationUrl": "https://auth.example.com/authorize",
      "scopes": {"pets:read": "read pets", "pets:write": "modify pets"}
    }
  },
  "paths": {
    "/pets": {
      "get": {
        "operationId": "listPets",
        "parameters": [
          {"name": "tags", "in": "query", "type": "array", "items": {"type": "string"}, "collectionFormat": "csv"},
          {"name": "limit", "in": "query", "type": "integer", "default": 20, "maximum": 100}
        ],
        "responses": {
          "200": {"description": "ok", "schema": {"type": "array", "items": {"$ref": "#/definitions/Pet"}}}
        }
      },
      "post": {
        "operationId": "createPet",
        "security": [{"oauth": ["pets:write"]}],
        "parameters": [
          {"name": "pet", "in": "body", "required": true, "schema": {"$ref": "#/definitions/NewPet"}}
        ],
        "responses": {
          "201": {"description": "created", "schema": {"$ref": "#/definitions/Pet"}}
        }
      }
    },
    "/pets/{id}": {
      "parameters": [
        {"name": "id", "in": "path", "required": true, "type": "integer", "format": "int64"}
      ],
      "get": {
        "operationId": "getPet",
        "responses": {
          "200": {"description": "ok", "schema": {"$ref": "#/definitions/Pet"}},
          "default": {"description": "error"}
        }
      },
      "delete": {
        "operationId": "deletePet",
        "security": [{"api_key": []}, {"basic": []}],
        "responses": {"204": {"description": "deleted"}}
      }
    },
    "/pets/mine": {
      "get": {
        "operationId": "myPets",
        "responses": {"200": {"description": "ok"}}
      }
    }
  },
  "definitions": {
    "NewPet": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "tag": {"type": "string"}
      }
    },
    "Pet": {
      "type": "object",
      "required": ["id", "name"],
      "properties": {
        "id": {"type": "integer", "format": "int64", "readOnly": true},
        "name": {"type": "string"},
        "tag": {"type": "string"}
      }
    }
  }
}`

func decodeDoc(t testing.TB, doc string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &m))
	return m
}

func loadSpec(t testing.TB, doc string, opts ...contract.LoadOption) *contract.Spec {
	t.Helper()
	spec, err := contract.Load(decodeDoc(t, doc), opts...)
	require.NoError(t, err)
	return spec
}

func pet(id int64, name string) map[string]any {
	return map[string]any{"id": id, "name": name}
}

// petHandlers answer every petstore operation with valid responses.
func petHandlers() contract.Handlers {
	return contract.Handlers{
		"listPets": func(_ context.Context, _ *contract.Input) (*contract.Response, error) {
			return &contract.Response{Body: []any{pet(1, "Rex")}}, nil
		},
		"createPet": func(_ context.Context, in *contract.Input) (*contract.Response, error) {
			body, _ := in.Body.(map[string]any)
			name, _ := body["name"].(string)
			return &contract.Response{Body: pet(7, name)}, nil
		},
		"getPet": func(_ context.Context, in *contract.Input) (*contract.Response, error) {
			id, _ := in.Path["id"].(int64)
			return &contract.Response{Body: pet(id, "Rex")}, nil
		},
		"deletePet": func(_ context.Context, _ *contract.Input) (*contract.Response, error) {
			return nil, nil
		},
		"myPets": func(_ context.Context, _ *contract.Input) (*contract.Response, error) {
			return &contract.Response{Body: []any{}}, nil
		},
	}
}

var errBadCredential = errors.New("bad credential")

// petVerifiers accept the key "secret", the user "admin:admin" and the
// tokens "reader" and "writer".
func petVerifiers() []contract.RouterOption {
	return []contract.RouterOption{
		contract.WithAPIKeyVerifier("api_key", func(_ context.Context, key string) (*contract.Principal, error) {
			if key != "secret" {
				return nil, errBadCredential
			}
			return &contract.Principal{Subject: "key-user"}, nil
		}),
		contract.WithBasicVerifier("basic", func(_ context.Context, user, pass string) (*contract.Principal, error) {
			if user != "admin" || pass != "admin" {
				return nil, errBadCredential
			}
			return &contract.Principal{Subject: user}, nil
		}),
		contract.WithTokenVerifier("oauth", func(_ context.Context, token string) (*contract.Principal, error) {
			switch token {
			case "reader":
				return &contract.Principal{Subject: "reader", Scopes: []string{"pets:read"}}, nil
			case "writer":
				return &contract.Principal{Subject: "writer", Scopes: []string{"pets:read", "pets:write"}}, nil
			}
			return nil, errBadCredential
		}),
	}
}

// newPetRouter builds a router with every handler and verifier registered;
// opts are applied last and may replace them.
func newPetRouter(t testing.TB, opts ...contract.RouterOption) *contract.Router {
	t.Helper()
	all := append([]contract.RouterOption{contract.WithHandlers(petHandlers())}, petVerifiers()...)
	all = append(all, opts...)
	r, err := contract.New(loadSpec(t, petstore), all...)
	require.NoError(t, err)
	return r
}

// serve sends a request straight to h and returns the recorded response.
func serve(t testing.TB, h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequestWithContext(context.Background(), method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func decodeProblem(t testing.TB, rec *httptest.ResponseRecorder) contract.ProblemDetail {
	t.Helper()
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var pd contract.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pd))
	return pd
}

func fieldNames(errs []contract.ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}
