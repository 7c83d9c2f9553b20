package contract

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// decodeInput creates a new Req value and populates it from the bound input.
func decodeInput[Req any](in *Input) (*Req, error) {
	req := new(Req)
	t := reflect.TypeFor[Req]()

	switch classifyRequest(t) {
	case catVoid:
		return req, nil
	case catBodyOnly:
		if err := assign(in.Body, req); err != nil {
			return nil, typedError("body", err)
		}
		return req, nil
	}

	v := reflect.ValueOf(req).Elem()
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		field := v.Field(i)

		switch f.Type {
		case reflect.TypeFor[*Principal]():
			if in.Principal != nil {
				field.Set(reflect.ValueOf(in.Principal))
			}
			continue
		case reflect.TypeFor[RawRequest]():
			field.Set(reflect.ValueOf(RawRequest{Request: in.Request}))
			continue
		}

		if f.Name == "Body" {
			if err := assign(in.Body, field.Addr().Interface()); err != nil {
				return nil, typedError("body", err)
			}
			continue
		}

		for _, pt := range paramTags {
			name := f.Tag.Get(pt.tag)
			if name == "" {
				continue
			}
			val, ok := in.location(pt.in)[name]
			if !ok || val == nil {
				continue
			}
			if err := setField(field, val); err != nil {
				return nil, typedError(name, err)
			}
		}
	}
	return req, nil
}

func typedError(field string, err error) error {
	return &StageError{
		Stage:  StageDispatch,
		Kind:   ErrValidation,
		Fields: []ValidationError{{Field: field, Message: err.Error()}},
		Err:    err,
	}
}

// assign stores a decoded value into the value target points to, directly
// when the types line up and through a JSON round trip otherwise.
func assign(value, target any) error {
	if value == nil {
		return nil
	}
	dst := reflect.ValueOf(target).Elem()
	src := reflect.ValueOf(value)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}

// setField sets a struct field from a coerced parameter value.
func setField(field reflect.Value, value any) error {
	src := reflect.ValueOf(value)
	if src.Type().AssignableTo(field.Type()) {
		field.Set(src)
		return nil
	}

	if field.Kind() == reflect.Pointer {
		elem := reflect.New(field.Type().Elem())
		if err := setField(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	if fu, ok := value.(*FileUpload); ok && field.Type() == reflect.TypeFor[FileUpload]() {
		field.Set(reflect.ValueOf(*fu))
		return nil
	}

	switch field.Type() {
	case reflect.TypeFor[time.Duration]():
		s, ok := value.(string)
		if !ok {
			break
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(d))
		return nil
	case reflect.TypeFor[time.Time]():
		s, ok := value.(string)
		if !ok {
			break
		}
		ts, err := parseTime(s)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(ts))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(fmt.Sprint(value))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := integer(value)
		if !ok || field.OverflowInt(n) {
			return fmt.Errorf("cannot store %v in %s", value, field.Type())
		}
		field.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := integer(value)
		if !ok || n < 0 || field.OverflowUint(uint64(n)) {
			return fmt.Errorf("cannot store %v in %s", value, field.Type())
		}
		field.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		switch x := value.(type) {
		case float64:
			field.SetFloat(x)
		case int64:
			field.SetFloat(float64(x))
		default:
			return fmt.Errorf("cannot store %v in %s", value, field.Type())
		}
		return nil
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
			return nil
		}
		if s, ok := value.(string); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return err
			}
			field.SetBool(b)
			return nil
		}
	case reflect.Slice:
		items, ok := value.([]any)
		if !ok {
			break
		}
		out := reflect.MakeSlice(field.Type(), len(items), len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			if err := setField(out.Index(i), item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		field.Set(out)
		return nil
	}
	return fmt.Errorf("unsupported type: %s", field.Type())
}

func integer(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
