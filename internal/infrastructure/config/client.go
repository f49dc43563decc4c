package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Connection defaults applied by Resolve when neither the client nor the
// shared defaults set a value.
const (
	DefaultURI               = "tcp://127.0.0.1:1883"
	DefaultClientName        = "default"
	DefaultKeepAlive         = 60
	DefaultConnectTimeout    = 30
	DefaultMaxReconnectDelay = 60
)

var validate = validator.New()

// MQTTConfig declares the broker connections.
type MQTTConfig struct {
	// Disable turns the whole MQTT layer off. Publishing reports an error
	// and no connections are opened.
	Disable bool `yaml:"disable"`

	// DefaultClient is the client used when a route or publish names none.
	// Empty selects the first declared client.
	DefaultClient string `yaml:"default_client"`

	// Defaults is inherited by every entry in Clients.
	Defaults ConnectionConfig `yaml:"defaults"`

	// Clients lists named connections. When empty a single client named
	// "default" is created from Defaults.
	Clients []ConnectionConfig `yaml:"clients"`
}

// ConnectionConfig is one layer of broker connection settings.
//
// Pointer fields distinguish "not set" from the zero value so that layers
// can be merged with Merge.
type ConnectionConfig struct {
	ID                 string      `yaml:"id"`
	URIs               []string    `yaml:"uri"`
	Username           *string     `yaml:"username"`
	Password           *string     `yaml:"password"`
	KeepAlive          *int        `yaml:"keep_alive"`
	ConnectTimeout     *int        `yaml:"connect_timeout"`
	MaxReconnectDelay  *int        `yaml:"max_reconnect_delay"`
	CleanSession       *bool       `yaml:"clean_session"`
	AutoReconnect      *bool       `yaml:"auto_reconnect"`
	SharedSubscription *bool       `yaml:"shared_subscription"`
	UniqueClientID     *bool       `yaml:"unique_client_id"`
	PublishQoS         *int        `yaml:"publish_qos"`
	PublishRate        *float64    `yaml:"publish_rate"`
	PublishBurst       *int        `yaml:"publish_burst"`
	TLS                *TLSConfig  `yaml:"tls"`
	Will               *WillConfig `yaml:"will"`
}

// TLSConfig holds broker TLS settings.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile            string `yaml:"key_file" validate:"required_with=CertFile"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// WillConfig is the last-will message registered at connect time.
type WillConfig struct {
	Topic    string `yaml:"topic" validate:"required"`
	Payload  string `yaml:"payload"`
	QoS      int    `yaml:"qos" validate:"gte=0,lte=2"`
	Retained bool   `yaml:"retained"`
}

// ClientConfig is the effective, validated configuration of one client.
// It is produced by Resolve and is not modified afterwards.
type ClientConfig struct {
	// ID is the routing identifier used by route declarations.
	ID string `validate:"required"`

	// ClientID is the identifier presented to the broker.
	ClientID string `validate:"required"`

	URIs              []string `validate:"required,min=1,dive,uri"`
	Username          string   `validate:"required_with=Password"`
	Password          string
	KeepAlive         time.Duration `validate:"gte=0"`
	ConnectTimeout    time.Duration `validate:"gt=0"`
	MaxReconnectDelay time.Duration `validate:"gt=0"`

	CleanSession       bool
	AutoReconnect      bool
	SharedSubscription bool

	PublishQoS   byte    `validate:"lte=2"`
	PublishRate  float64 `validate:"gte=0"`
	PublishBurst int     `validate:"gte=0"`

	TLS  TLSConfig
	Will *WillConfig `validate:"omitempty"`
}

// Merge layers override on top of parent and returns the result.
// Fields set in override win; unset fields are inherited. Neither
// argument is modified and the result shares no pointers with them.
func Merge(parent, override ConnectionConfig) ConnectionConfig {
	out := ConnectionConfig{
		ID:                 parent.ID,
		URIs:               cloneStrings(parent.URIs),
		Username:           pick(override.Username, parent.Username),
		Password:           pick(override.Password, parent.Password),
		KeepAlive:          pick(override.KeepAlive, parent.KeepAlive),
		ConnectTimeout:     pick(override.ConnectTimeout, parent.ConnectTimeout),
		MaxReconnectDelay:  pick(override.MaxReconnectDelay, parent.MaxReconnectDelay),
		CleanSession:       pick(override.CleanSession, parent.CleanSession),
		AutoReconnect:      pick(override.AutoReconnect, parent.AutoReconnect),
		SharedSubscription: pick(override.SharedSubscription, parent.SharedSubscription),
		UniqueClientID:     pick(override.UniqueClientID, parent.UniqueClientID),
		PublishQoS:         pick(override.PublishQoS, parent.PublishQoS),
		PublishRate:        pick(override.PublishRate, parent.PublishRate),
		PublishBurst:       pick(override.PublishBurst, parent.PublishBurst),
		TLS:                pick(override.TLS, parent.TLS),
		Will:               pick(override.Will, parent.Will),
	}
	if override.ID != "" {
		out.ID = override.ID
	}
	if len(override.URIs) > 0 {
		out.URIs = cloneStrings(override.URIs)
	}
	return out
}

// pick returns a copy of the first non-nil value.
func pick[T any](override, parent *T) *T {
	src := override
	if src == nil {
		src = parent
	}
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// Resolve applies connection defaults to c and validates the result.
//
// Defaults: uri tcp://127.0.0.1:1883, keep alive 60s, connect timeout 30s,
// max reconnect delay 60s, clean session and auto reconnect on, shared
// subscriptions off, publish QoS 0.
func Resolve(c ConnectionConfig) (ClientConfig, error) {
	id := c.ID
	if id == "" {
		id = DefaultClientName
	}

	cc := ClientConfig{
		ID:                 id,
		ClientID:           id,
		URIs:               cloneStrings(c.URIs),
		Username:           deref(c.Username, ""),
		Password:           deref(c.Password, ""),
		KeepAlive:          seconds(deref(c.KeepAlive, DefaultKeepAlive)),
		ConnectTimeout:     seconds(deref(c.ConnectTimeout, DefaultConnectTimeout)),
		MaxReconnectDelay:  seconds(deref(c.MaxReconnectDelay, DefaultMaxReconnectDelay)),
		CleanSession:       deref(c.CleanSession, true),
		AutoReconnect:      deref(c.AutoReconnect, true),
		SharedSubscription: deref(c.SharedSubscription, false),
		PublishRate:        deref(c.PublishRate, 0),
		PublishBurst:       deref(c.PublishBurst, 1),
	}
	if len(cc.URIs) == 0 {
		cc.URIs = []string{DefaultURI}
	}
	if deref(c.UniqueClientID, false) {
		cc.ClientID = id + "-" + uuid.NewString()[:8]
	}

	qos := deref(c.PublishQoS, 0)
	if qos < 0 || qos > 2 {
		return ClientConfig{}, fmt.Errorf("mqtt client %s: publish_qos must be 0, 1, or 2", id)
	}
	cc.PublishQoS = byte(qos)

	if c.TLS != nil {
		cc.TLS = *c.TLS
	}
	if c.Will != nil {
		w := *c.Will
		cc.Will = &w
	}

	if err := validate.Struct(cc); err != nil {
		return ClientConfig{}, fmt.Errorf("mqtt client %s: %w", id, err)
	}
	return cc, nil
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ClientConfigs merges every declared client over Defaults and resolves it.
// Without declared clients a single client is built from Defaults alone.
// The default client, if any, is returned first.
func (m MQTTConfig) ClientConfigs() ([]ClientConfig, error) {
	layers := m.Clients
	if len(layers) == 0 {
		layers = []ConnectionConfig{{ID: DefaultClientName}}
	}

	out := make([]ClientConfig, 0, len(layers))
	seen := make(map[string]bool, len(layers))
	var errs []string

	for i, layer := range layers {
		if layer.ID == "" && len(m.Clients) > 0 {
			errs = append(errs, fmt.Sprintf("mqtt.clients[%d].id is required", i))
			continue
		}
		cc, err := Resolve(Merge(m.Defaults, layer))
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if seen[cc.ID] {
			errs = append(errs, fmt.Sprintf("mqtt.clients: duplicate id %q", cc.ID))
			continue
		}
		seen[cc.ID] = true
		out = append(out, cc)
	}

	if m.DefaultClient != "" && len(errs) == 0 && !seen[m.DefaultClient] {
		errs = append(errs, fmt.Sprintf("mqtt.default_client %q is not a declared client", m.DefaultClient))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	if m.DefaultClient != "" {
		for i, cc := range out {
			if cc.ID == m.DefaultClient {
				out[0], out[i] = out[i], out[0]
				break
			}
		}
	}
	return out, nil
}

// DefaultID returns the identifier of the default client.
func (m MQTTConfig) DefaultID() string {
	switch {
	case m.DefaultClient != "":
		return m.DefaultClient
	case len(m.Clients) > 0:
		return m.Clients[0].ID
	default:
		return DefaultClientName
	}
}
