package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the usage accounting server",
	Long: `Start the usagegate API server.

The server will:
  - Load configuration from usagegate.yaml (or --config)
  - Or load configuration from USAGEGATE_* environment variables
  - Connect to the database and run migrations
  - Serve the rate limit, usage, and billing API

Environment variables (for Docker deployments):
  USAGEGATE_DATABASE_DSN      - Database path (default: usagegate.db)
  USAGEGATE_DATABASE_DRIVER   - sqlite or memory
  USAGEGATE_SERVER_PORT       - Server port (default: 8080)
  USAGEGATE_KEY_PREFIX        - API key prefix (default: ug_)
  USAGEGATE_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  usagegate serve
  usagegate serve --config /etc/usagegate/config.yaml

  # Docker (env vars only):
  USAGEGATE_DATABASE_DSN=/data/usagegate.db usagegate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{ConfigPath: cfgFile})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
