// Package api implements the admin HTTP API and live event stream for mqttroute.
//
// This package provides:
//   - Read endpoints for the route table, subscription plans, metrics and
//     the failure journal
//   - A match endpoint that reports which routes would handle a topic
//   - A publish endpoint that sends through the managed MQTT clients
//   - A WebSocket hub that streams dispatch events
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Security
//
// The API binds to localhost by default. When api.auth.jwt_secret is set,
// publishing and the event stream require an HS256 bearer token. WebSocket
// connections authenticate with single-use tickets so tokens never appear in
// URLs.
//
// # Graceful Degradation
//
// The server operates without MQTT, the journal or telemetry. Endpoints that
// depend on a missing component answer 503.
package api
