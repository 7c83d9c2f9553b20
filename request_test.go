package contract_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/contract"
)

const bindingDoc = `{
  "swagger": "2.0",
  "paths": {
    "/search": {
      "get": {
        "operationId": "search",
        "parameters": [
          {"name": "q", "in": "query", "required": true, "type": "string"},
          {"name": "ids", "in": "query", "type": "array", "items": {"type": "integer"}, "collectionFormat": "pipes"},
          {"name": "sort", "in": "query", "type": "array", "items": {"type": "string", "enum": ["name", "age"]}, "collectionFormat": "multi"},
          {"name": "page", "in": "query", "type": "integer", "default": 1, "minimum": 1},
          {"name": "ratio", "in": "query", "type": "number"},
          {"name": "flag", "in": "query", "type": "boolean", "allowEmptyValue": true},
          {"name": "X-Trace", "in": "header", "type": "string", "pattern": "^[a-f0-9]+$"},
          {"name": "session", "in": "cookie", "type": "string"}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/upload": {
      "post": {
        "operationId": "upload",
        "consumes": ["multipart/form-data"],
        "parameters": [
          {"name": "file", "in": "formData", "type": "file", "required": true},
          {"name": "note", "in": "formData", "type": "string"}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/signup": {
      "post": {
        "operationId": "signup",
        "consumes": ["application/x-www-form-urlencoded"],
        "parameters": [
          {"name": "name", "in": "formData", "type": "string", "required": true},
          {"name": "age", "in": "formData", "type": "integer", "minimum": 0}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/notes": {
      "post": {
        "operationId": "note",
        "x-body-limit": 32,
        "consumes": ["application/json", "application/yaml", "text/plain"],
        "parameters": [{"name": "note", "in": "body", "schema": {}}],
        "responses": {"200": {"description": "ok"}}
      }
    }
  }
}`

// bindRouter returns a router whose handlers record the bound input.
func bindRouter(t *testing.T, opts ...contract.RouterOption) (*contract.Router, **contract.Input) {
	t.Helper()
	var got *contract.Input
	record := func(_ context.Context, in *contract.Input) (*contract.Response, error) {
		got = in
		return nil, nil
	}
	all := append([]contract.RouterOption{contract.WithHandlers(contract.Handlers{
		"search": record,
		"upload": record,
		"signup": record,
		"note":   record,
	})}, opts...)
	r, err := contract.New(loadSpec(t, bindingDoc), all...)
	require.NoError(t, err)
	return r, &got
}

func TestBinding_parameters(t *testing.T) {
	t.Parallel()

	r, got := bindRouter(t)

	q := url.Values{
		"q":     {"shoes"},
		"ids":   {"1|2|3"},
		"sort":  {"name", "age"},
		"ratio": {"0.5"},
		"flag":  {""},
	}
	_, err := r.Dispatch(context.Background(), &contract.Request{
		Method: "GET",
		Path:   "/search",
		Query:  q,
		Header: http.Header{
			"X-Trace": {"beef"},
			"Cookie":  {"theme=dark; session=abc123"},
		},
	})
	require.NoError(t, err)

	in := *got
	require.NotNil(t, in)
	assert.Equal(t, "shoes", in.Query["q"])
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, in.Query["ids"])
	assert.Equal(t, []any{"name", "age"}, in.Query["sort"])
	assert.Equal(t, int64(1), in.Query["page"], "default applies")
	assert.InDelta(t, 0.5, in.Query["ratio"], 1e-9)
	assert.Contains(t, in.Query, "flag")
	assert.Nil(t, in.Query["flag"])
	assert.Equal(t, "beef", in.Header["X-Trace"])
	assert.Equal(t, "abc123", in.Cookie["session"])

	v, ok := in.Param("ids")
	assert.True(t, ok)
	assert.Len(t, v, 3)
	_, ok = in.Param("missing")
	assert.False(t, ok)
}

func TestBinding_collectsEveryError(t *testing.T) {
	t.Parallel()

	r, got := bindRouter(t)

	_, err := r.Dispatch(context.Background(), &contract.Request{
		Method: "GET",
		Path:   "/search",
		Query: url.Values{
			"ids":  {"1|x"},
			"sort": {"name", "size"},
			"page": {"0"},
		},
		Header: http.Header{"X-Trace": {"NOT-HEX"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrValidation)
	assert.Equal(t, contract.StageBinding, contract.StageOf(err))
	assert.Nil(t, *got)

	var se *contract.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "search", se.OperationID)
	assert.Equal(t, []string{"q", "ids/1", "sort/1", "page", "X-Trace"}, fieldNames(se.Fields))
	assert.Equal(t, "query", se.Fields[0].In)
	assert.Equal(t, "header", se.Fields[4].In)
}

func TestBinding_strictRejectsUnknownParameters(t *testing.T) {
	t.Parallel()

	req := func() *contract.Request {
		return &contract.Request{
			Method: "GET",
			Path:   "/search",
			Query:  url.Values{"q": {"x"}, "debug": {"1"}, "Extra": {""}},
			Header: http.Header{},
		}
	}

	lenient, _ := bindRouter(t)
	_, err := lenient.Dispatch(context.Background(), req())
	require.NoError(t, err)

	strict, _ := bindRouter(t, contract.WithStrictValidation())
	_, err = strict.Dispatch(context.Background(), req())
	require.Error(t, err)

	var se *contract.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"Extra", "debug"}, fieldNames(se.Fields))
	assert.Equal(t, "unknown parameter", se.Fields[0].Message)
}

func TestBinding_urlencodedForm(t *testing.T) {
	t.Parallel()

	r, got := bindRouter(t)

	rec := serveForm(t, r, "/signup", "application/x-www-form-urlencoded", "name=Ada&age=36")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Ada", (*got).Form["name"])
	assert.Equal(t, int64(36), (*got).Form["age"])

	rec = serveForm(t, r, "/signup", "application/x-www-form-urlencoded", "age=-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"name", "age"}, fieldNames(decodeProblem(t, rec).Errors))
}

func TestBinding_multipartUpload(t *testing.T) {
	t.Parallel()

	r, got := bindRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "hello.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello, world"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("note", "greeting"))
	require.NoError(t, mw.Close())

	rec := serveForm(t, r, "/upload", mw.FormDataContentType(), buf.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	in := *got
	assert.Equal(t, "greeting", in.Form["note"])
	file, ok := in.Form["file"].(*contract.FileUpload)
	require.True(t, ok)
	assert.Equal(t, "hello.txt", file.Filename)
	assert.Equal(t, int64(12), file.Size)
	data, err := file.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(data))
}

func TestBinding_multipartTempFilesRemoved(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	var spooled int
	r, err := contract.New(loadSpec(t, bindingDoc), contract.WithStubs(), contract.WithStrictValidation(),
		contract.WithHandler("upload", func(context.Context, *contract.Input) (*contract.Response, error) {
			entries, err := os.ReadDir(tmp)
			require.NoError(t, err)
			spooled = len(entries)
			return nil, nil
		}))
	require.NoError(t, err)

	largeUpload := func(extra bool) (string, string) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "large.bin")
		require.NoError(t, err)
		_, err = fw.Write(bytes.Repeat([]byte{'x'}, 33<<20))
		require.NoError(t, err)
		if extra {
			require.NoError(t, mw.WriteField("extra", "undeclared"))
		}
		require.NoError(t, mw.Close())
		return mw.FormDataContentType(), buf.String()
	}

	contentType, body := largeUpload(false)
	rec := serveForm(t, r, "/upload", contentType, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, spooled, "the file is spooled to disk while the handler runs")

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)

	contentType, body = largeUpload(true)
	rec = serveForm(t, r, "/upload", contentType, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	entries, err = os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "a rejected upload leaves nothing behind")
}

func TestBinding_missingFile(t *testing.T) {
	t.Parallel()

	r, _ := bindRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file"))
	require.NoError(t, mw.Close())

	rec := serveForm(t, r, "/upload", mw.FormDataContentType(), buf.String())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	pd := decodeProblem(t, rec)
	require.Len(t, pd.Errors, 1)
	assert.Equal(t, "file", pd.Errors[0].Field)
	assert.Equal(t, "missing required file", pd.Errors[0].Message)
}

func TestBinding_body(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		contentType string
		body        string
		status      int
		want        any
	}{
		"json": {
			contentType: "application/json",
			body:        `{"text":"hi"}`,
			status:      http.StatusOK,
			want:        map[string]any{"text": "hi"},
		},
		"yaml": {
			contentType: "application/yaml",
			body:        "text: hi\n",
			status:      http.StatusOK,
			want:        map[string]any{"text": "hi"},
		},
		"text": {
			contentType: "text/plain; charset=utf-8",
			body:        "just words",
			status:      http.StatusOK,
			want:        "just words",
		},
		"unsupported media type": {
			contentType: "application/xml",
			body:        "<note/>",
			status:      http.StatusUnsupportedMediaType,
		},
		"over the operation limit": {
			contentType: "application/json",
			body:        `{"text":"` + strings.Repeat("a", 40) + `"}`,
			status:      http.StatusRequestEntityTooLarge,
		},
		"malformed json": {
			contentType: "application/json",
			body:        `{"text":`,
			status:      http.StatusBadRequest,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r, got := bindRouter(t)
			rec := serveForm(t, r, "/notes", tt.contentType, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				assert.Equal(t, contract.StageBinding, decodeProblem(t, rec).Stage)
				return
			}
			assert.Equal(t, tt.want, (*got).Body)
		})
	}
}

func TestBinding_declaredTypeWithoutDecoder(t *testing.T) {
	t.Parallel()

	withXML := strings.Replace(bindingDoc, `"application/json", "application/yaml", "text/plain"`,
		`"application/json", "application/xml"`, 1)

	t.Run("structured schema is rejected", func(t *testing.T) {
		t.Parallel()

		doc := strings.Replace(withXML, `"schema": {}`,
			`"schema": {"type": "object", "required": ["text"], "properties": {"text": {"type": "string"}}}`, 1)
		r, err := contract.New(loadSpec(t, doc), contract.WithHandler("note",
			func(context.Context, *contract.Input) (*contract.Response, error) { return nil, nil }))
		require.NoError(t, err)

		rec := serveForm(t, r, "/notes", "application/xml", "<note/>")
		require.Equal(t, http.StatusUnsupportedMediaType, rec.Code, rec.Body.String())
		pd := decodeProblem(t, rec)
		assert.Equal(t, contract.StageBinding, pd.Stage)
		assert.Contains(t, pd.Detail, "application/xml")
		assert.Empty(t, pd.Errors, "no schema violations are reported for an undecoded body")

		rec = serveForm(t, r, "/notes", "application/json", `{"text":"hi"}`)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("free-form schema receives raw bytes", func(t *testing.T) {
		t.Parallel()

		var got *contract.Input
		r, err := contract.New(loadSpec(t, withXML), contract.WithHandler("note",
			func(_ context.Context, in *contract.Input) (*contract.Response, error) {
				got = in
				return nil, nil
			}))
		require.NoError(t, err)

		rec := serveForm(t, r, "/notes", "application/xml", "<note/>")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []byte("<note/>"), got.Body)
	})
}

func TestBinding_routerBodyLimit(t *testing.T) {
	t.Parallel()

	r, _ := bindRouter(t, contract.WithBodyLimit(8))

	rec := serveForm(t, r, "/signup", "application/x-www-form-urlencoded", "name=Ada")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serveForm(t, r, "/signup", "application/x-www-form-urlencoded", "name=Grace+Hopper")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// The operation's own limit wins over the router's.
	rec = serveForm(t, r, "/notes", "application/json", `{"text":"twenty"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodyLimit_middleware(t *testing.T) {
	t.Parallel()

	r, _ := bindRouter(t)
	r.Use(contract.BodyLimit(4))

	rec := serveForm(t, r, "/notes", "text/plain", "far too long")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func serveForm(t *testing.T, h http.Handler, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, h, http.MethodPost, path, body, "Content-Type", contentType)
}
