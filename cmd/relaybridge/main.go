package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/MrSnakeDoc/relaybridge/internal/app"
	"github.com/MrSnakeDoc/relaybridge/internal/config"
	"github.com/MrSnakeDoc/relaybridge/internal/version"
)

func main() {
	showVersion := pflag.BoolP("version", "v", false, "print version information and exit")
	endpoints := pflag.StringP("endpoints", "e", "", "endpoint pair YAML file (overrides RELAY_ENDPOINTS_FILE)")
	listen := pflag.StringP("listen", "l", "", "listen address, ex: :8765 (overrides RELAY_LISTEN_PORT)")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\nRelays new messages between two chat endpoints through a browser automation client.\n\nFlags:\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showVersion {
		fmt.Println("relaybridge " + version.String())
		return
	}

	cfg := config.Load()
	if *endpoints != "" {
		cfg.EndpointsFile = *endpoints
	}
	if *listen != "" {
		cfg.ListenPort = *listen
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ relaybridge failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ relaybridge stopped with error: %v", err)
	}
}
