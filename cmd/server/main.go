package main

import (
	"context"
	"fmt"
	"os"

	"github.com/drawbridge-dev/drawbridge/internal/server"
	"github.com/drawbridge-dev/drawbridge/internal/server/config"
)

var (
	buildVersion = "N/A"
	buildDate    = "N/A"
	buildCommit  = "N/A"
)

func printBuildInfo() {
	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}

func main() {
	printBuildInfo()

	cfg := config.LoadConfig()

	ctx := context.Background()

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	app.Run(ctx)
}
