package convert

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

var (
	durationType        = reflect.TypeFor[time.Duration]()
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	stringerType        = reflect.TypeFor[fmt.Stringer]()
)

// builtin handles the primitive round trips that must work with no
// registered converters.
type builtin struct{}

func (builtin) CanConvert(from, to reflect.Type) bool {
	if from == nil || to == nil {
		return false
	}
	switch {
	case from == bytesType:
		return to.Kind() == reflect.String
	case from.Kind() == reflect.String && to == bytesType:
		return true
	case from.Kind() == reflect.String:
		return parsable(to)
	case to.Kind() == reflect.String:
		return formattable(from)
	}
	return false
}

func (builtin) Convert(value any, to reflect.Type) (any, error) {
	v := reflect.ValueOf(value)

	switch {
	case v.Type() == bytesType:
		out := reflect.New(to).Elem()
		out.SetString(string(v.Bytes()))
		return out.Interface(), nil

	case v.Kind() == reflect.String && to == bytesType:
		return []byte(v.String()), nil

	case v.Kind() == reflect.String:
		return parse(v.String(), to)

	default:
		s, err := format(v)
		if err != nil {
			return nil, err
		}
		out := reflect.New(to).Elem()
		out.SetString(s)
		return out.Interface(), nil
	}
}

// parsable reports whether a string can be parsed into t.
func parsable(t reflect.Type) bool {
	if t == durationType || reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// formattable reports whether t has a string representation.
func formattable(t reflect.Type) bool {
	if t.Implements(textMarshalerType) || t.Implements(stringerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func parse(s string, to reflect.Type) (any, error) {
	if to == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	if reflect.PointerTo(to).Implements(textUnmarshalerType) {
		ptr := reflect.New(to)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return nil, err
		}
		return ptr.Elem().Interface(), nil
	}

	out := reflect.New(to).Elem()
	switch to.Kind() {
	case reflect.String:
		out.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, to.Bits())
		if err != nil {
			return nil, err
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, to.Bits())
		if err != nil {
			return nil, err
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, to.Bits())
		if err != nil {
			return nil, err
		}
		out.SetFloat(f)
	default:
		return nil, fmt.Errorf("%w: string -> %s", ErrNotConvertible, to)
	}
	return out.Interface(), nil
}

func format(v reflect.Value) (string, error) {
	if v.Type().Implements(textMarshalerType) {
		b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	if v.Type().Implements(stringerType) {
		return v.Interface().(fmt.Stringer).String(), nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, v.Type().Bits()), nil
	}
	return "", fmt.Errorf("%w: %s -> string", ErrNotConvertible, v.Type())
}
