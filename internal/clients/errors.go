package clients

import "errors"

// Domain-specific errors for client management.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDisabled is returned by Publish when MQTT is disabled in configuration.
	ErrDisabled = errors.New("clients: mqtt is disabled")

	// ErrUnknownClient is returned when a client ID is not configured.
	ErrUnknownClient = errors.New("clients: unknown client")

	// ErrNoClients is returned when the manager has no client to use.
	ErrNoClients = errors.New("clients: no clients configured")

	// ErrNoPayload is returned when a publish payload converts to nothing.
	// No message is sent.
	ErrNoPayload = errors.New("clients: payload produced no bytes")

	// ErrNotStarted is returned when publishing before Start.
	ErrNotStarted = errors.New("clients: manager not started")
)
