package config

import (
	"flag"
	"os"

	"github.com/drawbridge-dev/drawbridge/internal/flagx"
)

// parseFlags populates selected client Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   server API base URL
//	-w string   gateway websocket URL
//	-l string   local fallback store path
//	-r          auto-reload remote changes without prompting
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-l", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ServerEndpointAddr, "a", config.ServerEndpointAddr, "server API base URL")
	fs.StringVar(&config.GatewayAddr, "w", config.GatewayAddr, "gateway websocket URL")
	fs.StringVar(&config.LocalPath, "l", config.LocalPath, "local fallback store path")
	fs.BoolVar(&config.AutoReload, "r", config.AutoReload, "auto-reload remote changes")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
