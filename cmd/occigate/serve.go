package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/occigate/bootstrap"
	"github.com/artpar/occigate/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OCCI server",
	Long: `Start the occigate server.

The server will:
  - Load configuration from occigate.yaml (or --config)
  - Or load configuration from OCCIGATE_* environment variables
  - Open the backend and restore stored entities
  - Serve the OCCI interface, health checks and metrics

Environment variables (for container deployments):
  OCCIGATE_SERVER_PORT      - Server port (default: 8080)
  OCCIGATE_BACKEND_TYPE     - Backend: dummy or sqlite (default: dummy)
  OCCIGATE_SQLITE_DSN       - Inventory database (default: occigate.db)
  OCCIGATE_LOG_LEVEL        - Log level: debug, info, warn, error
  OCCIGATE_NATS_URL         - Forward lifecycle events to NATS

Examples:
  occigate serve
  occigate serve --config /etc/occigate/config.yaml
  occigate serve --hot-reload=false

  # Containers (env vars only):
  OCCIGATE_BACKEND_TYPE=sqlite occigate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	// Hot reload only works with a config file
	if hasConfigFile && hotReload {
		app, err := bootstrap.NewWithHotReload(cfgFile)
		if err != nil {
			return fmt.Errorf("error initializing: %w", err)
		}
		return app.Run()
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if !hasConfigFile {
		fmt.Fprintln(cmd.ErrOrStderr(), "Running with environment variables (no config file)")
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
