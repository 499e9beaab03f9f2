package config

import (
	"flag"
	"os"
	"time"

	"github.com/drawbridge-dev/drawbridge/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   data directory
//	-s string   vault secret key
//	-t int      network-engine connect timeout, seconds
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DataDir, "d", config.DataDir, "data directory")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "vault secret key")

	connectTimeout := fs.Int("t", int(config.ConnectTimeout.Seconds()), "connect timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.ConnectTimeout = time.Duration(*connectTimeout) * time.Second
}
