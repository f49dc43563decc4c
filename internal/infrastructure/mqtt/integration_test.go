//go:build integration

package mqtt

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
)

// Integration tests against a live broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(t *testing.T, id string) config.ClientConfig {
	t.Helper()
	cfg, err := config.Resolve(config.ConnectionConfig{
		ID:             id,
		URIs:           []string{"tcp://127.0.0.1:1883"},
		ConnectTimeout: ptr(5),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return cfg
}

func ptr[T any](v T) *T { return &v }

func connect(t *testing.T, id string) *Client {
	t.Helper()
	client, err := Connect(integrationConfig(t, id))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_Connect(t *testing.T) {
	client := connect(t, "mqttroute-int-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}
	if client.ID() != "mqttroute-int-connect" {
		t.Errorf("ID() = %q", client.ID())
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := integrationConfig(t, "mqttroute-int-refused")
	cfg.URIs = []string{"tcp://127.0.0.1:19999"}
	cfg.AutoReconnect = false
	cfg.ConnectTimeout = 2 * time.Second

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connect(t, "mqttroute-int-sub-track")

	filters := map[string]byte{
		"mqttroute/int/test/topic1": 1,
		"mqttroute/int/test/+":      0,
		"mqttroute/int/#":           2,
	}
	if err := client.SubscribeMultiple(filters); err != nil {
		t.Fatalf("SubscribeMultiple() error = %v", err)
	}

	if client.SubscriptionCount() != len(filters) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(filters))
	}
	for topic := range filters {
		if !client.HasSubscription(topic) {
			t.Errorf("HasSubscription(%s) = false, want true", topic)
		}
	}

	if err := client.Unsubscribe("mqttroute/int/#"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription("mqttroute/int/#") {
		t.Error("HasSubscription() = true after unsubscribe")
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	pubClient := connect(t, "mqttroute-int-pub")
	subClient := connect(t, "mqttroute-int-sub")

	topic := "mqttroute/int/roundtrip/42"
	expected := "test-message-12345"

	received := make(chan Message, 1)
	var once sync.Once

	subClient.SetMessageHandler(func(msg Message) error {
		once.Do(func() { received <- msg })
		return nil
	})
	if err := subClient.Subscribe("mqttroute/int/roundtrip/+", 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pubClient.Publish(topic, []byte(expected), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg.Topic != topic || string(msg.Payload) != expected {
			t.Errorf("Received %s = %q, want %s = %q", msg.Topic, msg.Payload, topic, expected)
		}
		if msg.QoS != 1 {
			t.Errorf("QoS = %d, want 1", msg.QoS)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}
}

func TestIntegration_OverlappingFiltersDeliverOnce(t *testing.T) {
	pubClient := connect(t, "mqttroute-int-overlap-pub")
	subClient := connect(t, "mqttroute-int-overlap-sub")

	var count atomic.Int32
	subClient.SetMessageHandler(func(Message) error {
		count.Add(1)
		return nil
	})
	filters := map[string]byte{
		"mqttroute/int/overlap/+": 0,
		"mqttroute/int/overlap/x": 1,
	}
	if err := subClient.SubscribeMultiple(filters); err != nil {
		t.Fatalf("SubscribeMultiple() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pubClient.Publish("mqttroute/int/overlap/x", []byte("1"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Mosquitto sends one copy per matching subscription unless
	// allow_duplicate_messages is off, so more than two is a local fan-out.
	time.Sleep(500 * time.Millisecond)
	if got := count.Load(); got < 1 || got > 2 {
		t.Errorf("deliveries = %d, want one per broker copy", got)
	}
}

func TestIntegration_PublishAsync(t *testing.T) {
	client := connect(t, "mqttroute-int-async")

	done := make(chan error, 1)
	if err := client.PublishAsync("mqttroute/int/async", []byte("x"), 1, false, func(err error) { done <- err }); err != nil {
		t.Fatalf("PublishAsync() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("completion error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for publish completion")
	}
}

func TestIntegration_LoggerSet(t *testing.T) {
	client := connect(t, "mqttroute-int-logger")

	client.SetLogger(&mockLogger{})
	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}

	client.SetLogger(nil)
	if client.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}
