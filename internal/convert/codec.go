package convert

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// codec converts between []byte payloads and structured values (structs,
// maps, slices, arrays and pointers to them).
type codec struct {
	name      string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

// JSON returns a Converter that encodes and decodes structured values as JSON.
func JSON() Converter {
	return &codec{name: "json", marshal: json.Marshal, unmarshal: json.Unmarshal}
}

// Msgpack returns a Converter that encodes and decodes structured values
// as MessagePack.
func Msgpack() Converter {
	return &codec{name: "msgpack", marshal: msgpack.Marshal, unmarshal: msgpack.Unmarshal}
}

// Codec returns the named payload codec: "json", "msgpack", or nil for
// "none" and "".
func Codec(name string) (Converter, error) {
	switch name {
	case "json":
		return JSON(), nil
	case "msgpack":
		return Msgpack(), nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("convert: unknown payload codec %q", name)
	}
}

func (c *codec) String() string { return c.name }

func (c *codec) CanConvert(from, to reflect.Type) bool {
	switch {
	case from == bytesType:
		return structured(to)
	case to == bytesType:
		return structured(from)
	}
	return false
}

func (c *codec) Convert(value any, to reflect.Type) (any, error) {
	if to == bytesType {
		b, err := c.marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%s encode: %w", c.name, err)
		}
		return b, nil
	}

	payload, ok := value.([]byte)
	if !ok {
		return nil, ErrNotConvertible
	}
	ptr := reflect.New(to)
	if err := c.unmarshal(payload, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%s decode: %w", c.name, err)
	}
	return ptr.Elem().Interface(), nil
}

func structured(t reflect.Type) bool {
	if t == nil || t == bytesType {
		return false
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		return true
	case reflect.Pointer:
		return structured(t.Elem())
	}
	return false
}
