package topic

import "errors"

// Configuration errors returned by Compile. They are reported at
// registration time and never during message dispatch.
var (
	// ErrEmptyTopic is returned when a template has no topic string.
	ErrEmptyTopic = errors.New("topic: topic cannot be empty")

	// ErrInvalidQoS is returned for QoS levels outside 0..2.
	ErrInvalidQoS = errors.New("topic: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidFilter is returned when the wildcard structure of a template
	// is not a valid MQTT topic filter.
	ErrInvalidFilter = errors.New("topic: invalid topic filter")

	// ErrInvalidTopic is returned by ValidateTopic for names that cannot
	// be published to.
	ErrInvalidTopic = errors.New("topic: invalid topic name")

	// ErrMalformedPlaceholder is returned for unbalanced braces, empty or
	// non-word placeholder names, and names used twice in one template.
	ErrMalformedPlaceholder = errors.New("topic: malformed placeholder")
)
