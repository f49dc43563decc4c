package dispatch

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-mqttroute/internal/convert"
)

type sensorReading struct {
	Value float64 `json:"value"`
}

func mustSignature(t *testing.T, params ...Param) Signature {
	t.Helper()
	sig, err := NewSignature(params)
	if err != nil {
		t.Fatalf("NewSignature() error = %v", err)
	}
	return sig
}

// =============================================================================
// Binding precedence
// =============================================================================

func TestBind_Precedence(t *testing.T) {
	binder := NewBinder(convert.NewRegistry(convert.JSON()))
	msg := Message{Topic: "sensors/kitchen/7", Payload: []byte(`{"value":21.5}`), QoS: 1}
	vars := map[string]string{"room": "kitchen", "id": "7"}

	sig := mustSignature(t,
		RawMessage(),
		PathVar[string]("room"),
		PathVar[int]("id"),
		Topic(),
		Infer[sensorReading](),
		Infer[*Message](),
	)

	got, err := binder.Bind(sig, msg, vars)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if m, ok := got[0].(Message); !ok || m.Topic != msg.Topic || m.QoS != 1 {
		t.Errorf("arg 0 = %#v, want the message", got[0])
	}
	if got[1] != "kitchen" {
		t.Errorf("arg 1 = %v, want kitchen", got[1])
	}
	if got[2] != 7 {
		t.Errorf("arg 2 = %v (%T), want 7", got[2], got[2])
	}
	if got[3] != msg.Topic {
		t.Errorf("arg 3 = %v, want topic", got[3])
	}
	if r, ok := got[4].(sensorReading); !ok || r.Value != 21.5 {
		t.Errorf("arg 4 = %#v, want decoded payload", got[4])
	}
	if m, ok := got[5].(*Message); !ok || m.Topic != msg.Topic {
		t.Errorf("arg 5 = %#v, want *Message", got[5])
	}
}

func TestBind_PathVarOutranksPayload(t *testing.T) {
	binder := NewBinder(nil)
	sig := mustSignature(t, PathVar[string]("name"))

	got, err := binder.Bind(sig, Message{Topic: "x/alice", Payload: []byte("bob")}, map[string]string{"name": "alice"})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if got[0] != "alice" {
		t.Errorf("Bind() = %v, want alice", got[0])
	}
}

func TestBind_PayloadScalar(t *testing.T) {
	binder := NewBinder(nil)
	sig := mustSignature(t, Payload[float64](), Payload[string](), Payload[[]byte]())

	got, err := binder.Bind(sig, Message{Topic: "t", Payload: []byte("-3.5")}, nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if got[0] != -3.5 {
		t.Errorf("float payload = %v, want -3.5", got[0])
	}
	if got[1] != "-3.5" {
		t.Errorf("string payload = %v, want \"-3.5\"", got[1])
	}
	if b, ok := got[2].([]byte); !ok || string(b) != "-3.5" {
		t.Errorf("bytes payload = %v", got[2])
	}
}

func TestBind_ExplicitPayloadDisablesInference(t *testing.T) {
	binder := NewBinder(convert.NewRegistry(convert.JSON()))
	sig := mustSignature(t, Payload[string](), Infer[sensorReading]())

	got, err := binder.Bind(sig, Message{Payload: []byte(`{"value":1}`)}, nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if got[1] != (sensorReading{}) {
		t.Errorf("inferred arg = %v, want zero value", got[1])
	}
}

func TestBind_InferOnlyFirstStructured(t *testing.T) {
	binder := NewBinder(convert.NewRegistry(convert.JSON()))
	sig := mustSignature(t, Infer[int](), Infer[sensorReading](), Infer[map[string]any]())

	got, err := binder.Bind(sig, Message{Payload: []byte(`{"value":2}`)}, nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if got[0] != 0 {
		t.Errorf("primitive infer = %v, want default 0", got[0])
	}
	if got[1] != (sensorReading{Value: 2}) {
		t.Errorf("first structured infer = %v", got[1])
	}
	if got[2] != nil && got[2].(map[string]any) != nil {
		t.Errorf("second structured infer = %v, want nil map", got[2])
	}
}

// =============================================================================
// Required and default policy
// =============================================================================

func TestBind_Defaults(t *testing.T) {
	binder := NewBinder(nil)
	sig := mustSignature(t,
		PathVar[int]("absent"),
		PathVar[bool]("bad"),
		PathVar[*int]("ptr"),
		PathVar[string]("missing"),
	)

	got, err := binder.Bind(sig, Message{Topic: "a"}, map[string]string{"bad": "notabool"})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if got[0] != 0 {
		t.Errorf("absent int = %v, want 0", got[0])
	}
	if got[1] != false {
		t.Errorf("unconvertible bool = %v, want false", got[1])
	}
	if p, ok := got[2].(*int); !ok || p != nil {
		t.Errorf("pointer default = %#v, want typed nil", got[2])
	}
	if got[3] != "" {
		t.Errorf("absent string path var = %q, want empty (not the topic)", got[3])
	}
}

func TestBind_RequiredMissing(t *testing.T) {
	tests := []struct {
		name string
		sig  []Param
		vars map[string]string
		msg  Message
	}{
		{
			name: "path variable absent",
			sig:  []Param{PathVar[int]("deviceId", Required())},
			vars: map[string]string{},
		},
		{
			name: "path variable unconvertible",
			sig:  []Param{PathVar[int]("deviceId", Required())},
			vars: map[string]string{"deviceId": "abc"},
		},
		{
			name: "payload unconvertible",
			sig:  []Param{Payload[int](Required())},
			msg:  Message{Payload: []byte("x")},
		},
		{
			name: "transform returns nothing",
			sig: []Param{Payload[string](Required(), WithTransforms(func(any) (any, error) {
				return nil, nil
			}))},
			msg: Message{Payload: []byte("x")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBinder(nil).Bind(mustSignature(t, tt.sig...), tt.msg, tt.vars)
			if !errors.Is(err, ErrMissingRequired) {
				t.Errorf("Bind() error = %v, want ErrMissingRequired", err)
			}
		})
	}
}

// =============================================================================
// Transforms
// =============================================================================

func TestBind_Transforms(t *testing.T) {
	upper := func(v any) (any, error) {
		return strings.ToUpper(string(v.([]byte))), nil
	}
	trim := func(v any) (any, error) {
		return strings.TrimSpace(v.(string)), nil
	}
	failing := func(any) (any, error) { return nil, errors.New("nope") }

	binder := NewBinder(nil)

	sig := mustSignature(t,
		Payload[string](WithTransforms(upper, trim)),
		Payload[int](WithTransforms(trim2bytes)),
		Payload[string](WithTransforms(failing)),
	)

	got, err := binder.Bind(sig, Message{Payload: []byte("  42 ")}, nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if got[0] != "42" {
		t.Errorf("chained transforms = %q, want %q", got[0], "42")
	}
	if got[1] != 42 {
		t.Errorf("transform then registry = %v (%T), want 42", got[1], got[1])
	}
	if got[2] != "" {
		t.Errorf("failing transform = %q, want default", got[2])
	}
}

// trim2bytes returns trimmed bytes so the registry has to finish the job.
func trim2bytes(v any) (any, error) {
	return []byte(strings.TrimSpace(string(v.([]byte)))), nil
}

// =============================================================================
// Signature validation
// =============================================================================

func TestNewSignature_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params []Param
	}{
		{"nil type", []Param{{Source: SourcePayload}}},
		{"path without name", []Param{PathVar[int]("")}},
		{"message with wrong type", []Param{NewParam(SourceMessage, "", reflect.TypeFor[string]())}},
		{"unknown source", []Param{NewParam(Source(42), "", reflect.TypeFor[string]())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSignature(tt.params); !errors.Is(err, ErrInvalidParam) {
				t.Errorf("NewSignature() error = %v, want ErrInvalidParam", err)
			}
		})
	}
}

func TestSignature_Kinds(t *testing.T) {
	sig := mustSignature(t,
		PathVar[int]("n"),
		PathVar[float32]("f"),
		PathVar[string]("s"),
		Payload[int](),
	)
	kinds := sig.Kinds()
	if len(kinds) != 3 {
		t.Fatalf("Kinds() = %v, want 3 entries", kinds)
	}
	if kinds["n"].String() != "number" || kinds["f"].String() != "number" || kinds["s"].String() != "text" {
		t.Errorf("Kinds() = %v", kinds)
	}
}
