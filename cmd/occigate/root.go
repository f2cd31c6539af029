package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "occigate",
	Short: "OCCI 1.1 server for compute, storage and network resources",
	Long: `occigate serves the Open Cloud Computing Interface over HTTP.

It exposes the OCCI core and infrastructure categories, a query interface
for discovery and user-defined mixins, and a pluggable backend that
provisions the resources.

Quick start:
  occigate serve          # Start the server
  occigate categories     # Print the category catalogue

Management:
  occigate validate       # Validate configuration
  occigate hash-password  # Create a password hash for basic auth
  occigate inventory      # Inspect the sqlite inventory`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "occigate.yaml", "config file path")
}
