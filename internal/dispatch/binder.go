package dispatch

import (
	"fmt"
	"reflect"

	"github.com/nerrad567/gray-logic-mqttroute/internal/convert"
)

// Binder resolves handler arguments from a message and its path variables.
type Binder struct {
	registry *convert.Registry
}

// NewBinder creates a Binder that converts values with registry.
func NewBinder(registry *convert.Registry) *Binder {
	if registry == nil {
		registry = convert.NewRegistry()
	}
	return &Binder{registry: registry}
}

// Registry returns the conversion registry used by the binder.
func (b *Binder) Registry() *convert.Registry { return b.registry }

// Bind resolves every parameter of sig in order. Each parameter is tried
// against these rules, first hit wins:
//
//  1. Message or *Message type: the message itself
//  2. SourcePayload: the payload, through its transforms and the registry
//  3. SourcePath with the variable present: the captured text, converted
//  4. SourceInfer with type string: the topic
//  5. SourceInfer chosen as the payload target: as in rule 2
//
// An unresolved parameter takes its zero value, unless it is Required, in
// which case Bind returns ErrMissingRequired.
func (b *Binder) Bind(sig Signature, msg Message, vars map[string]string) ([]any, error) {
	values := make([]any, len(sig.params))

	for i, p := range sig.params {
		v, ok := b.resolve(sig, i, p, &msg, vars)
		if !ok {
			if p.Required {
				return nil, fmt.Errorf("%w: %s", ErrMissingRequired, describe(i, p))
			}
			v = sig.defaults[i]
		}
		values[i] = v
	}

	return values, nil
}

func (b *Binder) resolve(sig Signature, i int, p Param, msg *Message, vars map[string]string) (any, bool) {
	switch {
	case p.Type == messageType:
		return *msg, true
	case p.Type == messagePtrType:
		cp := *msg
		return &cp, true
	case p.Source == SourcePayload:
		return b.payload(p, msg.Payload)
	case p.Source == SourcePath:
		raw, ok := vars[p.Name]
		if !ok {
			return nil, false
		}
		return b.registry.FromString(raw, p.Type)
	case p.Source == SourceInfer && p.Type == stringType:
		return msg.Topic, true
	case p.Source == SourceInfer && i == sig.inferIndex:
		return b.payload(p, msg.Payload)
	}
	return nil, false
}

// payload runs the transforms, then converts the result to the declared
// type when it is not already assignable.
func (b *Binder) payload(p Param, payload []byte) (any, bool) {
	if len(p.Transforms) == 0 {
		return b.registry.FromBytes(payload, p.Type)
	}

	var value any = payload
	for _, tr := range p.Transforms {
		out, err := tr(value)
		if err != nil || out == nil {
			return nil, false
		}
		value = out
	}

	if reflect.TypeOf(value).AssignableTo(p.Type) {
		return value, true
	}
	return b.registry.Convert(value, p.Type)
}

func describe(i int, p Param) string {
	if p.Name != "" {
		return fmt.Sprintf("#%d %q (%s %s)", i, p.Name, p.Source, p.Type)
	}
	return fmt.Sprintf("#%d (%s %s)", i, p.Source, p.Type)
}
