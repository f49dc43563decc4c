// Package actions turns declarative route configuration into dispatch
// routes.
//
// Two actions are built in. The log action writes every matched message to
// the application log at a configurable level. The republish action
// forwards the payload to a target topic, which may reuse the placeholders
// captured by the matched pattern:
//
//	routes:
//	  - id: bridge-temps
//	    topics: ["site/{site}/sensors/{sensor}/temp"]
//	    types: {sensor: number}
//	    action:
//	      type: republish
//	      target: "telemetry/{site}/{sensor}"
//
// Republishing is asynchronous. The message handler never waits for the
// broker acknowledgement, so a route can republish through the client it
// is receiving on.
package actions
