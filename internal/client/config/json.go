package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/drawbridge-dev/drawbridge/internal/flagx"
	"github.com/drawbridge-dev/drawbridge/internal/timex"
)

// JsonConfig is the intermediate DTO used only for reading JSON config
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "1s" and integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	GatewayAddr        string         `json:"gateway_addr"`
	LocalPath          string         `json:"local_path"`
	AutoReload         bool           `json:"auto_reload"`
	Debounce           timex.Duration `json:"debounce"`
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flags into the provided Config. If no flag is set, nothing is
// loaded. If the file cannot be read or contains invalid JSON, the function
// panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.ServerEndpointAddr = c.ServerEndpointAddr
	config.GatewayAddr = c.GatewayAddr
	config.LocalPath = c.LocalPath
	config.AutoReload = c.AutoReload
	config.Debounce = time.Duration(c.Debounce.Duration)
}
