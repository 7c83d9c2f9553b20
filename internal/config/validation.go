package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	//nolint:errcheck // tag name and func are static
	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// ValidationError is a single invalid setting.
type ValidationError struct {
	FieldPath string // dotted TOML path, e.g. "log.level"
	Message   string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "validation failed with %d error(s):", len(ve))
	for _, e := range ve {
		fmt.Fprintf(&sb, "\n  %s: %s", e.FieldPath, e.Message)
	}
	return sb.String()
}

// Validate checks the configuration and returns every problem at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(ValidationErrors, len(verrs))
	for i, e := range verrs {
		out[i] = ValidationError{
			FieldPath: fieldPath(e.Namespace()),
			Message:   message(e),
		}
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be in format 'host:port'"
	case "duration":
		return "must be a duration such as 500ms or 5s"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}
