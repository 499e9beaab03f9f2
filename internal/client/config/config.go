// Package config handles configuration for the client component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the drawbridge client.
type Config struct {
	// ServerEndpointAddr is the base URL of the server's HTTP API.
	ServerEndpointAddr string
	// GatewayAddr is the websocket URL of the sync gateway.
	GatewayAddr string
	// LocalPath is the embedded-file fallback store used when the server
	// is unreachable.
	LocalPath string
	// AutoReload applies collaborators' changes without prompting.
	AutoReload bool
	// Debounce is the quiet period before an edit burst is autosaved.
	Debounce time.Duration
}

// LoadDefaults populates Config with sensible development defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.GatewayAddr = "ws://127.0.0.1:8080/ws"
	c.LocalPath = "./data/local.db"
	c.AutoReload = false
	c.Debounce = time.Second
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
