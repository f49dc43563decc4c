// Package config handles loading and validating mqttroute configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MQTTROUTE_*)
//   - Layering per-client MQTT settings over shared defaults
//   - Validation of required fields
//
// Client configuration is layered with the pure Merge function and turned
// into an immutable ClientConfig by Resolve:
//
//	merged := config.Merge(cfg.MQTT.Defaults, cfg.MQTT.Clients[0])
//	client, err := config.Resolve(merged)
//
// Security Considerations:
//   - Broker passwords and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/mqttroute.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	clients, err := cfg.MQTT.ClientConfigs()
package config
