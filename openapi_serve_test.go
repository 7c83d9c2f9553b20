package contract_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bjaus/contract"
)

func TestSpecHandler(t *testing.T) {
	t.Parallel()

	spec := loadSpec(t, petstore)

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, contract.SpecHandler(spec, contract.FormatJSON), http.MethodGet, "/swagger.json", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var doc map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, "2.0", doc["swagger"])
		assert.Equal(t, "/v1", doc["basePath"])
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, contract.SpecHandler(spec, contract.FormatYAML), http.MethodGet, "/swagger.yaml", "")
		assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))

		var doc map[string]any
		require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Contains(t, doc["paths"], "/pets/{id}")
	})
}

func TestWriteSpec_unknownFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := contract.WriteSpec(&buf, loadSpec(t, petstore), "xml")
	require.EqualError(t, err, `unknown spec format "xml"`)
	assert.Zero(t, buf.Len())
}

func TestDocsHandler(t *testing.T) {
	t.Parallel()

	spec := loadSpec(t, petstore)

	rec := serve(t, contract.DocsHandler(spec, "/swagger.json"), http.MethodGet, "/docs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<title>Petstore</title>")
	assert.Contains(t, rec.Body.String(), `url: "\/swagger.json"`)

	rec = serve(t, contract.DocsHandler(spec, "/swagger.json", contract.WithDocsTitle("Pets <beta>")), http.MethodGet, "/docs", "")
	assert.Contains(t, rec.Body.String(), "<title>Pets &lt;beta&gt;</title>")
}
