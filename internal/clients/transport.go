package clients

import (
	"context"

	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/mqtt"
)

// Transport is the broker connection used by a Manager.
// *mqtt.Client satisfies it.
type Transport interface {
	SubscribeMultiple(filters map[string]byte) error
	Unsubscribe(topics ...string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishAsync(topic string, payload []byte, qos byte, retained bool, done func(error)) error
	SetMessageHandler(handler mqtt.MessageHandler)
	SetOnConnect(callback func())
	SetLogger(logger mqtt.Logger)
	IsConnected() bool
	HealthCheck(ctx context.Context) error
	Close() error
}

// Dialer opens a Transport for a resolved client configuration.
type Dialer func(cfg config.ClientConfig) (Transport, error)

// DialMQTT connects with the paho-backed mqtt package.
func DialMQTT(cfg config.ClientConfig) (Transport, error) {
	c, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

var _ Transport = (*mqtt.Client)(nil)
