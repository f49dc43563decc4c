package convert

import (
	"reflect"
)

// Converter converts values between two types.
type Converter interface {
	// CanConvert reports whether the converter handles from -> to.
	CanConvert(from, to reflect.Type) bool

	// Convert converts value, whose type satisfied CanConvert, to a value
	// of type to.
	Convert(value any, to reflect.Type) (any, error)
}

// funcConverter adapts a typed function.
type funcConverter[S, T any] struct {
	src reflect.Type
	dst reflect.Type
	fn  func(S) (T, error)
}

// Func returns a Converter for exactly S -> T backed by fn.
//
//	reg.Register(convert.Func(func(b []byte) (Reading, error) {
//	    return parseReading(b)
//	}))
func Func[S, T any](fn func(S) (T, error)) Converter {
	return &funcConverter[S, T]{
		src: reflect.TypeFor[S](),
		dst: reflect.TypeFor[T](),
		fn:  fn,
	}
}

func (f *funcConverter[S, T]) CanConvert(from, to reflect.Type) bool {
	return from != nil && from.AssignableTo(f.src) && to == f.dst
}

func (f *funcConverter[S, T]) Convert(value any, _ reflect.Type) (any, error) {
	s, ok := value.(S)
	if !ok {
		return nil, ErrNotConvertible
	}
	return f.fn(s)
}

// Commonly used types.
var (
	bytesType  = reflect.TypeFor[[]byte]()
	stringType = reflect.TypeFor[string]()
)
