package contract_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/contract"
)

const mockDoc = `{
  "swagger": "2.0",
  "paths": {
    "/example": {
      "get": {
        "operationId": "example",
        "produces": ["application/json"],
        "responses": {
          "200": {
            "description": "ok",
            "schema": {"type": "object"},
            "examples": {"application/json": {"greeting": "hello"}}
          }
        }
      }
    },
    "/schema-example": {
      "get": {
        "operationId": "schemaExample",
        "responses": {"200": {"description": "ok", "schema": {"type": "string", "example": "from schema"}}}
      }
    },
    "/generated": {
      "get": {
        "operationId": "generated",
        "responses": {
          "201": {"description": "created", "schema": {"$ref": "#/definitions/Record"}},
          "200": {"description": "ok", "schema": {"type": "string"}}
        }
      }
    },
    "/cat": {
      "get": {
        "operationId": "cat",
        "responses": {"default": {"description": "a cat", "schema": {"$ref": "#/definitions/Cat"}}}
      }
    },
    "/failure-only": {
      "get": {
        "operationId": "failureOnly",
        "responses": {"404": {"description": "missing"}}
      }
    }
  },
  "definitions": {
    "Record": {
      "type": "object",
      "required": ["id", "when", "size", "tags", "status"],
      "properties": {
        "id": {"type": "string", "format": "uuid"},
        "when": {"type": "string", "format": "date-time"},
        "code": {"type": "string", "minLength": 10},
        "size": {"type": "integer", "minimum": 5, "exclusiveMinimum": true, "multipleOf": 4},
        "tags": {"type": "array", "minItems": 2, "items": {"type": "string"}},
        "status": {"type": "string", "enum": ["active", "retired"]},
        "ratio": {"type": "number", "default": 0.25},
        "enabled": {"type": "boolean"},
        "parent": {"$ref": "#/definitions/Record"}
      }
    },
    "Pet": {
      "type": "object",
      "discriminator": "petType",
      "required": ["petType", "name"],
      "properties": {"petType": {"type": "string"}, "name": {"type": "string"}}
    },
    "Cat": {
      "allOf": [
        {"$ref": "#/definitions/Pet"},
        {"type": "object", "properties": {"lives": {"type": "integer", "maximum": 9}}}
      ]
    }
  }
}`

func mockRouter(t *testing.T, opts ...contract.RouterOption) (*contract.Router, *warnings) {
	t.Helper()
	w := &warnings{}
	r, err := contract.New(loadSpec(t, mockDoc), append([]contract.RouterOption{
		contract.WithMocks(),
		contract.OnResponseWarning(w.record),
	}, opts...)...)
	require.NoError(t, err)
	return r, w
}

func TestMocks_examples(t *testing.T) {
	t.Parallel()

	r, w := mockRouter(t)

	rec := serve(t, r, http.MethodGet, "/example", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"greeting":"hello"}`, rec.Body.String())

	rec = serve(t, r, http.MethodGet, "/schema-example", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"from schema"`, rec.Body.String())

	assert.Empty(t, w.all())
}

func TestMocks_generatedFromSchema(t *testing.T) {
	t.Parallel()

	r, w := mockRouter(t)

	rec := serve(t, r, http.MethodGet, "/generated", "")
	require.Equal(t, http.StatusOK, rec.Code, "the lowest 2xx response is mocked")
	assert.JSONEq(t, `"string"`, rec.Body.String())

	assert.Empty(t, w.all())
}

func TestMocks_synthesizedValuesValidate(t *testing.T) {
	t.Parallel()

	spec := loadSpec(t, mockDoc)
	op, ok := spec.Operation("generated")
	require.True(t, ok)
	op.Responses = map[string]*contract.ResponseSpec{"201": op.Responses["201"]}

	w := &warnings{}
	r, err := contract.New(spec, contract.WithMocks(), contract.OnResponseWarning(w.record))
	require.NoError(t, err)

	rec := serve(t, r, http.MethodGet, "/generated", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, w.all())

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", got["id"])
	assert.Equal(t, "2024-01-01T00:00:00Z", got["when"])
	assert.Len(t, got["code"], 10)
	assert.InDelta(t, 8, got["size"], 0)
	assert.Len(t, got["tags"], 2)
	assert.Equal(t, "active", got["status"])
	assert.InDelta(t, 0.25, got["ratio"], 1e-9)
	assert.Equal(t, true, got["enabled"])
	assert.Contains(t, got, "parent")
}

func TestMocks_discriminatorNamesTheSubtype(t *testing.T) {
	t.Parallel()

	r, w := mockRouter(t)

	rec := serve(t, r, http.MethodGet, "/cat", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Cat", got["petType"])
	assert.Equal(t, "string", got["name"])
	assert.Empty(t, w.all())
}

func TestMocks_withoutSuccessResponse(t *testing.T) {
	t.Parallel()

	r, _ := mockRouter(t)

	rec := serve(t, r, http.MethodGet, "/failure-only", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestMocks_registeredHandlersWin(t *testing.T) {
	t.Parallel()

	r, _ := mockRouter(t, contract.WithHandler("example", respond(&contract.Response{Body: map[string]any{"real": true}})))

	rec := serve(t, r, http.MethodGet, "/example", "")
	assert.JSONEq(t, `{"real":true}`, rec.Body.String())
}

func TestStubs(t *testing.T) {
	t.Parallel()

	r, err := contract.New(loadSpec(t, petstore), contract.WithStubs())
	require.NoError(t, err)

	rec := serve(t, r, http.MethodGet, "/v1/pets/1", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	pd := decodeProblem(t, rec)
	assert.Equal(t, contract.StageDispatch, pd.Stage)
	assert.Equal(t, "GET /pets/{id} has no handler", pd.Detail)

	rec = serve(t, r, http.MethodGet, "/v1/pets/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "stubs still validate requests")
}
