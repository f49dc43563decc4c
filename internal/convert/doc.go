// Package convert translates between raw MQTT payloads and typed values.
//
// A Registry holds an ordered list of Converters. Lookups try registered
// converters first, in registration order, and fall back to the built-in
// converters, which are always present:
//
//   - []byte <-> string
//   - string <-> bool, signed and unsigned integers, floats
//   - string <-> time.Duration
//   - string <-> encoding.TextMarshaler / encoding.TextUnmarshaler
//   - fmt.Stringer -> string
//
// Conversions never return errors to the caller. A failed conversion is
// logged and reported as (nil, false), which callers treat as "no output".
//
// Usage:
//
//	reg := convert.NewRegistry(convert.JSON())
//	b, ok := reg.ToBytes(reading)            // outbound
//	v, ok := reg.FromBytes(payload, typ)     // inbound
//	n, ok := convert.FromString[int](reg, "42")
package convert
