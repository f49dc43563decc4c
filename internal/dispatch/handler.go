package dispatch

import "context"

// Handler is application code invoked for a matched message.
type Handler interface {
	Invoke(ctx context.Context, args Args) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args Args) error

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, args Args) error {
	return f(ctx, args)
}

// Args carries the bound arguments of one invocation together with the
// context they were resolved from.
type Args struct {
	// ClientID identifies the connection the message arrived on.
	ClientID string

	// RouteID is the ID of the route being invoked.
	RouteID string

	// Pattern is the template that matched.
	Pattern string

	// Message is the inbound message.
	Message Message

	// Vars holds every placeholder captured by Pattern.
	Vars map[string]string

	values []any
}

// Len returns the number of bound arguments.
func (a Args) Len() int { return len(a.values) }

// Value returns argument i, or nil when i is out of range.
func (a Args) Value(i int) any {
	if i < 0 || i >= len(a.values) {
		return nil
	}
	return a.values[i]
}

// Values returns a copy of the bound arguments.
func (a Args) Values() []any {
	out := make([]any, len(a.values))
	copy(out, a.values)
	return out
}

// Arg returns argument i as T. It returns the zero T when the argument is
// absent or of another type.
func Arg[T any](a Args, i int) T {
	v, _ := a.Value(i).(T)
	return v
}
