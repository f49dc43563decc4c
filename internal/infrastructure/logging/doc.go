// Package logging builds the service's structured logger.
//
// Logger wraps log/slog. Every entry carries service=mqttroute and the
// build version; Component adds a component attribute so dispatch,
// client and API output can be told apart.
//
// Configuration comes from the logging section:
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr
//
// Library packages (dispatch, clients, convert, journal) do not import
// this package. They accept any value with Debug/Info/Warn/Error methods,
// which *Logger satisfies.
//
// Payloads are never logged in full; dispatch logs sizes and topics only.
package logging
