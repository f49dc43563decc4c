package dispatch

import "errors"

// Domain-specific errors for registration and dispatch.
var (
	// ErrNoHandler is returned when a definition has no handler.
	ErrNoHandler = errors.New("dispatch: handler is required")

	// ErrNoTopics is returned when a definition declares no topics.
	ErrNoTopics = errors.New("dispatch: at least one topic is required")

	// ErrInvalidParam is returned for an unusable parameter description.
	ErrInvalidParam = errors.New("dispatch: invalid parameter")

	// ErrMissingRequired reports that a required parameter could not be
	// resolved. The handler is not invoked for that message.
	ErrMissingRequired = errors.New("dispatch: missing required parameter")

	// ErrHandlerPanic wraps a panic recovered from a handler.
	ErrHandlerPanic = errors.New("dispatch: handler panicked")

	// ErrRouteNotFound is returned when no route has the requested ID.
	ErrRouteNotFound = errors.New("dispatch: route not found")
)
