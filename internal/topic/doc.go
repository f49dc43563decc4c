// Package topic compiles MQTT subscription templates into matchers.
//
// A template is an MQTT topic filter that may also carry named placeholders
// written as {name}. Each placeholder occupies part (or all) of one topic
// level and is captured when a concrete topic is matched:
//
//	"devices/{deviceID}/state"  ->  filter "devices/+/state", vars {deviceID}
//	"sensors/{room}/#"          ->  filter "sensors/+/#",     vars {room}
//
// Templates without placeholders skip regular expression construction and
// are matched with plain MQTT wildcard semantics (see Matches).
//
// The package also provides:
//   - SortBySpecificity, which orders a handler's patterns so that the ones
//     with more placeholders are tried first
//   - Merge, which collapses the patterns of one client connection into the
//     smallest set of broker-level filters
//   - Shared-subscription helpers for the $share/<group>/ and $queue/ prefixes
//
// Everything in this package is pure and safe for concurrent use once a
// Pattern has been compiled.
package topic
