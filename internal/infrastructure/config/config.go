package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minJWTSecretLength is the shortest accepted HS256 signing secret.
const minJWTSecretLength = 32

// Config is the root configuration structure for mqttroute.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig        `yaml:"site"`
	Logging    LoggingConfig     `yaml:"logging"`
	MQTT       MQTTConfig        `yaml:"mqtt"`
	Payload    PayloadConfig     `yaml:"payload"`
	Properties map[string]string `yaml:"properties"`
	EnvFile    string            `yaml:"env_file"`
	Routes     []RouteConfig     `yaml:"routes"`
	Journal    JournalConfig     `yaml:"journal"`
	Database   DatabaseConfig    `yaml:"database"`
	InfluxDB   InfluxDBConfig    `yaml:"influxdb"`
	API        APIConfig         `yaml:"api"`
}

// SiteConfig identifies the deployment.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PayloadConfig selects the codec used for structured payloads.
type PayloadConfig struct {
	// Codec is "json", "msgpack" or "none".
	Codec string `yaml:"codec"`
}

// RouteConfig declares a route handled by a built-in action.
type RouteConfig struct {
	ID      string   `yaml:"id"`
	Topics  []string `yaml:"topics"`
	QoS     []int    `yaml:"qos"`
	Shared  []bool   `yaml:"shared"`
	Groups  []string `yaml:"groups"`
	Clients []string `yaml:"clients"`
	Order   int      `yaml:"order"`

	// Types maps placeholder names to "number" or "text".
	Types map[string]string `yaml:"types"`

	// Required lists placeholder names that must be present.
	Required []string `yaml:"required"`

	Action ActionConfig `yaml:"action"`
}

// ActionConfig configures what a declarative route does.
type ActionConfig struct {
	// Type is "log" (the default) or "republish".
	Type string `yaml:"type"`

	// Target is the republish topic; {name} is replaced by captured values.
	Target string `yaml:"target"`

	// Client publishes through this client. Empty uses the default client.
	Client string `yaml:"client"`

	// QoS overrides the client's publish QoS.
	QoS *int `yaml:"qos"`

	Retained bool `yaml:"retained"`

	// Level is the log level for the log action (default "info").
	Level string `yaml:"level"`
}

// JournalConfig controls the dispatch failure journal.
type JournalConfig struct {
	Enabled         bool `yaml:"enabled"`
	QueueSize       int  `yaml:"queue_size"`
	RecordUnmatched bool `yaml:"record_unmatched"`
	MaxPayload      int  `yaml:"max_payload"`

	// RetentionHours purges entries older than this at startup. 0 keeps everything.
	RetentionHours int `yaml:"retention_hours"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains admin HTTP API settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	Auth      APIAuthConfig    `yaml:"auth"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APIAuthConfig protects the mutating and streaming endpoints with HS256
// bearer tokens. An empty secret leaves the API open.
type APIAuthConfig struct {
	JWTSecret string           `yaml:"jwt_secret"`
	Issuer    string           `yaml:"issuer"`
	TokenTTL  int              `yaml:"token_ttl"` // minutes
	Operators []OperatorConfig `yaml:"operators"`
}

// OperatorConfig is an account allowed to log in to the API. The hash is
// an Argon2id PHC string as printed by "mqttroute hash-password".
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// WebSocketConfig contains settings for the live event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"` // bytes
	PingInterval   int `yaml:"ping_interval"`    // seconds
	PongTimeout    int `yaml:"pong_timeout"`     // seconds
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTROUTE_SECTION_KEY
// For example: MQTTROUTE_MQTT_URI, MQTTROUTE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "mqttroute",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Payload: PayloadConfig{
			Codec: "json",
		},
		Properties: map[string]string{},
		Journal: JournalConfig{
			QueueSize:  256,
			MaxPayload: 4096,
		},
		Database: DatabaseConfig{
			Path:        "./data/mqttroute.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 15,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTROUTE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Logging
	if v := os.Getenv("MQTTROUTE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// MQTT defaults, inherited by every client
	if v := os.Getenv("MQTTROUTE_MQTT_URI"); v != "" {
		cfg.MQTT.Defaults.URIs = splitList(v)
	}
	if v := os.Getenv("MQTTROUTE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Defaults.Username = &v
	}
	if v := os.Getenv("MQTTROUTE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Defaults.Password = &v
	}
	if v := os.Getenv("MQTTROUTE_MQTT_DISABLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Disable = b
		}
	}

	// Database
	if v := os.Getenv("MQTTROUTE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MQTTROUTE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("MQTTROUTE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("MQTTROUTE_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	if v := os.Getenv("MQTTROUTE_ENV_FILE"); v != "" {
		cfg.EnvFile = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}

	switch c.Payload.Codec {
	case "json", "msgpack", "none", "":
	default:
		errs = append(errs, fmt.Sprintf("payload.codec %q must be json, msgpack or none", c.Payload.Codec))
	}

	if !c.MQTT.Disable {
		if _, err := c.MQTT.ClientConfigs(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	errs = append(errs, c.validateRoutes()...)

	if c.Journal.Enabled {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when journal is enabled")
		}
		if c.Journal.QueueSize < 1 {
			errs = append(errs, "journal.queue_size must be at least 1")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && c.API.Auth.JWTSecret != "" && len(c.API.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("api.auth.jwt_secret must be at least %d characters", minJWTSecretLength))
	}
	if c.API.Enabled {
		errs = append(errs, c.validateOperators()...)
	}
	if c.API.Enabled && (c.API.WebSocket.PingInterval < 1 || c.API.WebSocket.PongTimeout < 1 || c.API.WebSocket.MaxMessageSize < 1) {
		errs = append(errs, "api.websocket ping_interval, pong_timeout and max_message_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateOperators() []string {
	auth := c.API.Auth
	if len(auth.Operators) == 0 {
		return nil
	}

	var errs []string
	if auth.JWTSecret == "" {
		errs = append(errs, "api.auth.operators require api.auth.jwt_secret")
	}
	if auth.TokenTTL < 1 {
		errs = append(errs, "api.auth.token_ttl must be at least 1 minute")
	}

	seen := make(map[string]bool, len(auth.Operators))
	for i, op := range auth.Operators {
		switch {
		case op.Username == "":
			errs = append(errs, fmt.Sprintf("api.auth.operators[%d]: username is required", i))
		case seen[op.Username]:
			errs = append(errs, fmt.Sprintf("api.auth.operators[%d]: duplicate username %q", i, op.Username))
		}
		seen[op.Username] = true
		if !strings.HasPrefix(op.PasswordHash, "$argon2id$") {
			errs = append(errs, fmt.Sprintf("api.auth.operators[%d]: password_hash must be an argon2id hash", i))
		}
	}
	return errs
}

func (c *Config) validateRoutes() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Routes))

	for i, r := range c.Routes {
		name := r.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Sprintf("routes[%d].id is required", i))
		} else if seen[r.ID] {
			errs = append(errs, fmt.Sprintf("routes: duplicate id %q", r.ID))
		}
		seen[r.ID] = true

		if len(r.Topics) == 0 {
			errs = append(errs, fmt.Sprintf("route %s: at least one topic is required", name))
		}
		for _, q := range r.QoS {
			if q < 0 || q > 2 {
				errs = append(errs, fmt.Sprintf("route %s: qos must be 0, 1, or 2", name))
				break
			}
		}
		for param, kind := range r.Types {
			switch strings.ToLower(kind) {
			case "number", "numeric", "text", "string", "":
			default:
				errs = append(errs, fmt.Sprintf("route %s: types.%s must be number or text", name, param))
			}
		}

		switch r.Action.Type {
		case "", "log":
		case "republish":
			if r.Action.Target == "" {
				errs = append(errs, fmt.Sprintf("route %s: action.target is required for republish", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("route %s: action.type %q must be log or republish", name, r.Action.Type))
		}
		if q := r.Action.QoS; q != nil && (*q < 0 || *q > 2) {
			errs = append(errs, fmt.Sprintf("route %s: action.qos must be 0, 1, or 2", name))
		}
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
