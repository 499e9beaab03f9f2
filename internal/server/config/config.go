// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the drawbridge server.
//
// Fields:
//   - EndpointAddr: bind address for the HTTP/WebSocket endpoint.
//   - DataDir: directory for the catalog database and the default
//     embedded-file engine.
//   - SecretKey: deployment secret keying the credential vault (AES-256).
//     Rotating it makes previously stored secrets undecryptable.
//   - ConnectTimeout: dial/bootstrap budget for network engines.
//   - ShutdownTimeout: grace period for in-flight requests at shutdown.
type Config struct {
	EndpointAddr    string
	DataDir         string
	SecretKey       string
	ConnectTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: SecretKey is insecure for production and must be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8080"
	c.DataDir = "./data"
	c.SecretKey = "secretKey"
	c.ConnectTimeout = 5 * time.Second
	c.ShutdownTimeout = 10 * time.Second
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
