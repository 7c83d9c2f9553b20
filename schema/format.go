package schema

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// formatTags maps Swagger string formats to validator tags.
var formatTags = map[string]string{
	"email":    "email",
	"uri":      "uri",
	"url":      "url",
	"uuid":     "uuid",
	"hostname": "hostname_rfc1123",
	"ipv4":     "ipv4",
	"ipv6":     "ipv6",
	"byte":     "base64",
}

var formatMessages = map[string]string{
	"email":    "must be a valid email address",
	"uri":      "must be a valid URI",
	"url":      "must be a valid URL",
	"uuid":     "must be a valid UUID",
	"hostname": "must be a valid hostname",
	"ipv4":     "must be a valid IPv4 address",
	"ipv6":     "must be a valid IPv6 address",
	"byte":     "must be base64 encoded",
}

var validate = validator.New()

// checkFormat returns a violation message, or "" when the value is valid or
// the format is unknown.
func checkFormat(format, value string) string {
	switch format {
	case "date":
		if _, err := time.Parse(time.DateOnly, value); err != nil {
			return "must be a full-date (YYYY-MM-DD)"
		}
		return ""
	case "date-time":
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return "must be an RFC 3339 date-time"
		}
		return ""
	}

	tag, ok := formatTags[format]
	if !ok {
		return ""
	}
	if err := validate.Var(value, tag); err != nil {
		return formatMessages[format]
	}
	return ""
}
