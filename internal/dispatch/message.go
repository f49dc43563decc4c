package dispatch

// Message is an inbound MQTT message as delivered by the transport.
//
// It is also the raw-message parameter type: a parameter declared with
// RawMessage (or with type Message or *Message) receives it unchanged.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	MessageID uint16
}
