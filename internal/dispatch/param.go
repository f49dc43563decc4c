package dispatch

import (
	"fmt"
	"reflect"
	"time"

	"github.com/nerrad567/gray-logic-mqttroute/internal/topic"
)

// Source says where a parameter takes its value from.
type Source int

const (
	// SourceInfer binds by type: a string receives the topic and a single
	// structured parameter receives the payload.
	SourceInfer Source = iota

	// SourcePayload binds the converted message payload.
	SourcePayload

	// SourcePath binds a named placeholder captured from the topic.
	SourcePath

	// SourceMessage binds the untouched Message.
	SourceMessage
)

// String returns the lowercase name of the source.
func (s Source) String() string {
	switch s {
	case SourcePayload:
		return "payload"
	case SourcePath:
		return "path"
	case SourceMessage:
		return "message"
	default:
		return "infer"
	}
}

// Transform pre-processes a payload before general conversion. It
// receives the raw []byte payload (or the previous transform's output).
// Returning a nil value means the parameter cannot be resolved.
type Transform func(value any) (any, error)

// Param describes one handler parameter.
type Param struct {
	// Source selects the binding rule.
	Source Source

	// Name is the placeholder name for SourcePath.
	Name string

	// Type is the declared Go type of the argument.
	Type reflect.Type

	// Required prevents invocation when no value can be resolved.
	Required bool

	// Transforms run in order on the payload for SourcePayload and for an
	// inferred payload parameter.
	Transforms []Transform
}

// ParamOption configures a Param.
type ParamOption func(*Param)

// Required marks the parameter as required.
func Required() ParamOption {
	return func(p *Param) { p.Required = true }
}

// WithTransforms appends payload transforms.
func WithTransforms(transforms ...Transform) ParamOption {
	return func(p *Param) { p.Transforms = append(p.Transforms, transforms...) }
}

// NewParam builds a Param from an explicit type. It is the non-generic
// form used when types are only known at runtime.
func NewParam(source Source, name string, typ reflect.Type, opts ...ParamOption) Param {
	p := Param{Source: source, Name: name, Type: typ}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Payload binds the message payload converted to T.
func Payload[T any](opts ...ParamOption) Param {
	return NewParam(SourcePayload, "", reflect.TypeFor[T](), opts...)
}

// PathVar binds the {name} placeholder converted to T.
func PathVar[T any](name string, opts ...ParamOption) Param {
	return NewParam(SourcePath, name, reflect.TypeFor[T](), opts...)
}

// RawMessage binds the Message itself.
func RawMessage() Param {
	return NewParam(SourceMessage, "", messageType)
}

// Infer binds by type alone.
func Infer[T any](opts ...ParamOption) Param {
	return NewParam(SourceInfer, "", reflect.TypeFor[T](), opts...)
}

// Topic binds the topic the message arrived on.
func Topic() Param {
	return Infer[string]()
}

var (
	messageType    = reflect.TypeFor[Message]()
	messagePtrType = reflect.TypeFor[*Message]()
	stringType     = reflect.TypeFor[string]()
	durationType   = reflect.TypeFor[time.Duration]()
)

// Signature is the validated parameter list of one handler.
type Signature struct {
	params     []Param
	defaults   []any
	hasPayload bool
	inferIndex int
}

// NewSignature validates params and precomputes defaults and the payload
// inference target.
func NewSignature(params []Param) (Signature, error) {
	s := Signature{
		params:     make([]Param, len(params)),
		defaults:   make([]any, len(params)),
		inferIndex: -1,
	}
	copy(s.params, params)

	for i, p := range s.params {
		if p.Type == nil {
			return Signature{}, fmt.Errorf("%w: parameter %d has no type", ErrInvalidParam, i)
		}
		switch p.Source {
		case SourcePath:
			if p.Name == "" {
				return Signature{}, fmt.Errorf("%w: parameter %d: path variable needs a name", ErrInvalidParam, i)
			}
		case SourceMessage:
			if !isMessageType(p.Type) {
				return Signature{}, fmt.Errorf("%w: parameter %d: raw message type must be Message or *Message, got %s", ErrInvalidParam, i, p.Type)
			}
		case SourcePayload:
			s.hasPayload = true
		case SourceInfer:
		default:
			return Signature{}, fmt.Errorf("%w: parameter %d: unknown source %d", ErrInvalidParam, i, p.Source)
		}

		s.defaults[i] = reflect.Zero(p.Type).Interface()
	}

	if !s.hasPayload {
		for i, p := range s.params {
			if p.Source == SourceInfer && !isMessageType(p.Type) && !primitive(p.Type) {
				s.inferIndex = i
				break
			}
		}
	}

	return s, nil
}

// Len returns the number of parameters.
func (s Signature) Len() int { return len(s.params) }

// Params returns a copy of the parameter list.
func (s Signature) Params() []Param {
	out := make([]Param, len(s.params))
	copy(out, s.params)
	return out
}

// Kinds maps each path variable name to the placeholder kind implied by
// its declared type.
func (s Signature) Kinds() map[string]topic.ParamKind {
	kinds := make(map[string]topic.ParamKind)
	for _, p := range s.params {
		if p.Source != SourcePath {
			continue
		}
		if numeric(p.Type) {
			kinds[p.Name] = topic.KindNumber
		} else {
			kinds[p.Name] = topic.KindText
		}
	}
	return kinds
}

func isMessageType(t reflect.Type) bool {
	return t == messageType || t == messagePtrType
}

// primitive reports whether t looks like a scalar value rather than a
// payload document.
func primitive(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String:
		return true
	}
	return numeric(t)
}

func numeric(t reflect.Type) bool {
	if t == durationType {
		return false
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
