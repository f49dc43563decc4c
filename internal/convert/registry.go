package convert

import (
	"fmt"
	"reflect"
	"sync"
)

// Logger is the logging interface used by the registry.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Registry is an ordered chain of converters.
//
// Thread Safety: lookups take a read lock; Register takes the write lock.
// Converters are expected to be registered at startup.
type Registry struct {
	mu         sync.RWMutex
	converters []Converter
	fallback   Converter
	logger     Logger
}

// NewRegistry creates a registry with the given converters registered in
// order ahead of the built-ins.
func NewRegistry(converters ...Converter) *Registry {
	r := &Registry{
		fallback: builtin{},
		logger:   noopLogger{},
	}
	for _, c := range converters {
		r.Register(c)
	}
	return r
}

// Register appends a converter. Converters registered earlier win.
func (r *Registry) Register(c Converter) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.converters = append(r.converters, c)
	r.mu.Unlock()
}

// Len returns the number of registered converters, not counting built-ins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.converters)
}

// SetLogger sets the logger used to report conversion failures.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

func (r *Registry) getLogger() Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}

// find returns the first converter that handles from -> to.
func (r *Registry) find(from, to reflect.Type) Converter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.converters {
		if c.CanConvert(from, to) {
			return c
		}
	}
	if r.fallback.CanConvert(from, to) {
		return r.fallback
	}
	return nil
}

// CanConvert reports whether a direct converter exists for from -> to.
func (r *Registry) CanConvert(from, to reflect.Type) bool {
	return r.find(from, to) != nil
}

// direct runs the first applicable converter, if any.
func (r *Registry) direct(value any, from, to reflect.Type) (out any, found bool, err error) {
	c := r.find(from, to)
	if c == nil {
		return nil, false, nil
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("converter panic: %v", p)
		}
	}()

	out, err = c.Convert(value, to)
	if err == nil && out == nil {
		err = fmt.Errorf("%w: converter returned no value", ErrNotConvertible)
	}
	return out, true, err
}

// ToBytes converts an outbound value to a payload.
//
// A []byte is passed through. Otherwise the first converter to []byte is
// used, and failing that the value's string form is encoded. A nil value or
// a failed conversion returns (nil, false).
func (r *Registry) ToBytes(value any) ([]byte, bool) {
	if value == nil {
		r.getLogger().Debug("no payload to convert")
		return nil, false
	}
	if b, ok := value.([]byte); ok {
		return b, true
	}

	from := reflect.TypeOf(value)
	out, found, err := r.direct(value, from, bytesType)
	if found {
		if err != nil {
			r.failed(from, bytesType, err)
			return nil, false
		}
		return out.([]byte), true
	}

	s, ok := r.toString(value, from)
	if !ok {
		return nil, false
	}
	return []byte(s), true
}

// FromBytes converts an inbound payload to type to.
//
// A []byte target is passed through. Otherwise the first converter from
// []byte is used, and failing that the payload is read as a string and
// converted with FromString.
func (r *Registry) FromBytes(payload []byte, to reflect.Type) (any, bool) {
	if to == nil {
		return nil, false
	}
	if bytesType.AssignableTo(to) {
		return payload, true
	}

	out, found, err := r.direct(payload, bytesType, to)
	if found {
		if err != nil {
			r.failed(bytesType, to, err)
			return nil, false
		}
		return out, true
	}

	return r.FromString(string(payload), to)
}

// FromString converts a string, such as a captured path variable, to type to.
func (r *Registry) FromString(s string, to reflect.Type) (any, bool) {
	if to == nil {
		return nil, false
	}
	if stringType.AssignableTo(to) {
		return s, true
	}

	out, found, err := r.direct(s, stringType, to)
	if !found {
		r.failed(stringType, to, ErrNotConvertible)
		return nil, false
	}
	if err != nil {
		r.failed(stringType, to, err)
		return nil, false
	}
	return out, true
}

// Convert converts an arbitrary value to type to.
//
// A value already assignable to to is returned unchanged. Otherwise a
// direct converter is used, then the string form as an intermediate.
func (r *Registry) Convert(value any, to reflect.Type) (any, bool) {
	if value == nil || to == nil {
		return nil, false
	}

	from := reflect.TypeOf(value)
	if from.AssignableTo(to) {
		return value, true
	}
	if b, ok := value.([]byte); ok {
		return r.FromBytes(b, to)
	}

	out, found, err := r.direct(value, from, to)
	if found {
		if err != nil {
			r.failed(from, to, err)
			return nil, false
		}
		return out, true
	}

	s, ok := r.toString(value, from)
	if !ok {
		return nil, false
	}
	return r.FromString(s, to)
}

func (r *Registry) toString(value any, from reflect.Type) (string, bool) {
	if s, ok := value.(string); ok {
		return s, true
	}

	out, found, err := r.direct(value, from, stringType)
	if !found {
		r.failed(from, stringType, ErrNotConvertible)
		return "", false
	}
	if err != nil {
		r.failed(from, stringType, err)
		return "", false
	}
	return out.(string), true
}

func (r *Registry) failed(from, to reflect.Type, err error) {
	r.getLogger().Warn("value conversion failed",
		"from", typeName(from),
		"to", typeName(to),
		"error", err,
	)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// To converts value to T using r.Convert.
func To[T any](r *Registry, value any) (T, bool) {
	var zero T
	out, ok := r.Convert(value, reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	t, ok := out.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// FromString converts s to T using r.FromString.
func FromString[T any](r *Registry, s string) (T, bool) {
	var zero T
	out, ok := r.FromString(s, reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	t, ok := out.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// FromBytes converts payload to T using r.FromBytes.
func FromBytes[T any](r *Registry, payload []byte) (T, bool) {
	var zero T
	out, ok := r.FromBytes(payload, reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	t, ok := out.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
