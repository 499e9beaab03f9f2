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
// both string values such as "5s" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	EndpointAddr    string         `json:"endpoint_addr"`
	DataDir         string         `json:"data_dir"`
	SecretKey       string         `json:"secret_key"`
	ConnectTimeout  timex.Duration `json:"connect_timeout"`
	ShutdownTimeout timex.Duration `json:"shutdown_timeout"`
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

	config.EndpointAddr = c.EndpointAddr
	config.DataDir = c.DataDir
	config.SecretKey = c.SecretKey
	config.ConnectTimeout = time.Duration(c.ConnectTimeout.Duration)
	config.ShutdownTimeout = time.Duration(c.ShutdownTimeout.Duration)
}
