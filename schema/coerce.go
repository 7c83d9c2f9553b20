package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrCoerce is returned when a raw transport string cannot be converted to
// the schema's type.
var ErrCoerce = errors.New("cannot coerce value")

// Coerce converts a raw string taken from a path, query, header, cookie or
// form field into the primitive the schema declares. Integers become int64,
// numbers float64 and booleans bool; anything else is returned unchanged.
// Array splitting is left to the caller, which knows the collection format.
func (s *Schema) Coerce(raw string) (any, error) {
	s = s.Resolved()
	if s == nil {
		return raw, nil
	}

	switch s.Kind {
	case KindInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrCoerce, raw)
		}
		return n, nil
	case KindNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrCoerce, raw)
		}
		return f, nil
	case KindBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not a boolean", ErrCoerce, raw)
	case KindNull:
		if raw == "" || raw == "null" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %q is not null", ErrCoerce, raw)
	default:
		return raw, nil
	}
}

// Split breaks a raw array value according to a Swagger collectionFormat.
// "multi" values arrive already split, so they are returned as a single item.
func Split(raw, collectionFormat string) []string {
	var sep string
	switch collectionFormat {
	case "", "csv":
		sep = ","
	case "ssv":
		sep = " "
	case "tsv":
		sep = "\t"
	case "pipes":
		sep = "|"
	default:
		return []string{raw}
	}
	if raw == "" {
		return nil
	}
	return strings.Split(raw, sep)
}
