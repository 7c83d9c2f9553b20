package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/contract/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contract.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, config.ModeMock, cfg.Mode)
	assert.Equal(t, "default", cfg.Resolver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	cfg.Spec = "petstore.yaml"
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
spec = "api/swagger.yaml"
listen = "127.0.0.1:9000"
mode = "stub"
resolver = "resty"
resty_prefix = "api"
strict_validation = true
handler_timeout = "2s"

[rate_limit]
rate = 5
burst = 10

[cors]
allow_origins = ["https://app.example.com"]
max_age = 600

[log]
format = "json"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "api/swagger.yaml", cfg.Spec)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, config.ModeStub, cfg.Mode)
	assert.Equal(t, "resty", cfg.Resolver)
	assert.Equal(t, "api", cfg.RestyPrefix)
	assert.True(t, cfg.StrictParams)
	assert.False(t, cfg.StrictResponses)
	assert.Equal(t, 2*time.Second, cfg.HandlerTimeoutDuration())
	assert.Zero(t, cfg.VerifierTimeoutDuration())
	assert.InDelta(t, 5, cfg.RateLimit.Rate, 0)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, 600, cfg.CORS.MaxAge)
	assert.Equal(t, "info", cfg.Log.Level, "unset keys keep their defaults")
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_errors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
		require.ErrorIs(t, err, os.ErrNotExist)
		assert.Contains(t, err.Error(), "read config")
	})

	t.Run("syntax error", func(t *testing.T) {
		t.Parallel()

		_, err := config.Load(writeConfig(t, "spec = \"a.yaml\"\nlisten = \n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config at line 2")
		var derr *toml.DecodeError
		assert.ErrorAs(t, err, &derr)
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Listen = "nowhere"
	cfg.Mode = "live"
	cfg.HandlerTimeout = "soon"
	cfg.RateLimit.Burst = -1
	cfg.CORS.AllowOrigins = []string{""}
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs config.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	got := make(map[string]string, len(verrs))
	for _, e := range verrs {
		got[e.FieldPath] = e.Message
	}
	assert.Equal(t, map[string]string{
		"spec":                  "field is required",
		"listen":                "must be in format 'host:port'",
		"mode":                  "must be one of: mock stub",
		"handler_timeout":       "must be a duration such as 500ms or 5s",
		"rate_limit.burst":      "must be >= 0",
		"cors.allow_origins[0]": "field is required",
		"log.level":             "must be one of: debug info warn error",
	}, got)
	assert.Contains(t, err.Error(), "validation failed with 7 error(s):")
	assert.Contains(t, err.Error(), "\n  log.level: must be one of: debug info warn error")
}

func TestValidationErrors_empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no validation errors", config.ValidationErrors{}.Error())
}

func TestEncode(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Spec = "swagger.json"
	cfg.CORS.AllowOrigins = []string{"*"}

	buf, err := cfg.Encode()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `spec = 'swagger.json'`)
	assert.Contains(t, buf.String(), "[log]")

	path := writeConfig(t, buf.String())
	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
