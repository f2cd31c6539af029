package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/occigate/adapters/sqlite"
	"github.com/artpar/occigate/config"
	"github.com/artpar/occigate/core/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the occigate configuration file.

Checks:
  - YAML syntax is valid
  - Values are in range and consistent
  - Extension definitions parse (when extensions.dir is set)
  - Inventory database is writable (optional)

Examples:
  occigate validate
  occigate validate --config /etc/occigate/config.yaml --check-database`,
	RunE: runValidate,
}

var (
	validateCheckDatabase bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if the inventory database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)

	fmt.Fprintf(out, "  %s Listen: %s:%d\n", checkMark, cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  %s Backend: %s\n", checkMark, cfg.Backend.Type)
	if cfg.Auth.Enabled() {
		fmt.Fprintf(out, "  %s Basic auth: %s\n", checkMark, cfg.Auth.Username)
	}
	if cfg.Events.NATS.URL != "" {
		fmt.Fprintf(out, "  %s Events: %s (%s.*)\n", checkMark, cfg.Events.NATS.URL, cfg.Events.NATS.SubjectPrefix)
	}

	if cfg.Extensions.Dir != "" {
		defs, err := schema.ParseDir(cfg.Extensions.Dir)
		if err != nil {
			fmt.Fprintf(out, "  %s Extensions\n", crossMark)
			return fmt.Errorf("extensions: %w", err)
		}
		fmt.Fprintf(out, "  %s Extensions: %d file(s)\n", checkMark, len(defs))
	}

	if validateCheckDatabase && cfg.Backend.Type == config.BackendSQLite {
		version, err := checkDatabaseWritable(cfg.Backend.SQLite.DSN)
		switch {
		case err != nil:
			fmt.Fprintf(out, "  %s Database writable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		case version == "":
			fmt.Fprintf(out, "  %s Database writable (not migrated yet)\n", checkMark)
		default:
			fmt.Fprintf(out, "  %s Database writable (schema %s)\n", checkMark, version)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

// checkDatabaseWritable writes and drops a throwaway table in the inventory and
// reports its schema version.
func checkDatabaseWritable(dsn string) (string, error) {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return "", err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _occigate_writecheck (id INTEGER); DROP TABLE _occigate_writecheck"); err != nil {
		return "", err
	}
	return db.SchemaVersion()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
