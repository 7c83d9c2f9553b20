// Package config loads the TOML configuration of the contract server.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server modes for operations without handlers.
const (
	ModeMock = "mock"
	ModeStub = "stub"
)

// Config is the server configuration.
type Config struct {
	// Spec is the path of the Swagger or OpenAPI document.
	Spec   string `toml:"spec" validate:"required"`
	Listen string `toml:"listen" validate:"required,hostname_port"`
	Mode   string `toml:"mode" validate:"oneof=mock stub"`
	// Resolver is "default" (operationId) or "resty".
	Resolver     string `toml:"resolver" validate:"oneof=default resty"`
	RestyPrefix  string `toml:"resty_prefix"`
	StrictParams bool   `toml:"strict_validation"`
	// StrictResponses fails requests whose responses do not match the spec.
	StrictResponses bool   `toml:"strict_responses"`
	BodyLimit       int64  `toml:"body_limit" validate:"gte=0"`
	HandlerTimeout  string `toml:"handler_timeout" validate:"omitempty,duration"`
	VerifierTimeout string `toml:"verifier_timeout" validate:"omitempty,duration"`
	Docs            bool   `toml:"docs"`

	RateLimit RateLimit `toml:"rate_limit"`
	CORS      CORS      `toml:"cors"`
	Log       Log       `toml:"log"`
}

// RateLimit is the router-wide rate limit. A zero rate disables it.
type RateLimit struct {
	Rate  float64 `toml:"rate" validate:"gte=0"`
	Burst int     `toml:"burst" validate:"gte=0"`
}

// CORS enables cross-origin requests from the listed origins.
type CORS struct {
	AllowOrigins []string `toml:"allow_origins" validate:"dive,required"`
	MaxAge       int      `toml:"max_age" validate:"gte=0"`
}

// Log configures the server logger.
type Log struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Mode:     ModeMock,
		Resolver: "default",
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration at path over the defaults. It does not
// validate; callers apply their overrides first and then call Validate.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(content, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("parse config at line %d, column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return &buf, nil
}

// HandlerTimeoutDuration returns the parsed handler timeout, zero when unset.
func (c *Config) HandlerTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.HandlerTimeout)
	return d
}

// VerifierTimeoutDuration returns the parsed verifier timeout, zero when unset.
func (c *Config) VerifierTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.VerifierTimeout)
	return d
}
