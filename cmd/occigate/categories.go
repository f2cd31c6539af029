package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/occigate/adapters/backend/dummy"
	"github.com/artpar/occigate/config"
	"github.com/artpar/occigate/core/rendering"
	"github.com/artpar/occigate/core/runtime"
	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/domain/infrastructure"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Print the category catalogue",
	Long: `Print every kind, mixin and action the server would expose through
the query interface, including extensions from extensions.dir.

User-defined mixins live in the inventory and are not listed.

Examples:
  occigate categories
  occigate categories --config /etc/occigate/config.yaml`,
	RunE: runCategories,
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
}

func runCategories(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	rt := runtime.New(runtime.Config{Logger: zerolog.Nop()})
	cat := infrastructure.New(infrastructure.Deps{
		Delegator:     rt.Delegator(),
		Provider:      dummy.New(zerolog.Nop()),
		OnStateChange: rt.StateChanged,
		Logger:        zerolog.Nop(),
	})
	if err := rt.Bootstrap(cat.Categories()...); err != nil {
		return err
	}
	if cfg.Extensions.Dir != "" {
		defs, err := schema.ParseDir(cfg.Extensions.Dir)
		if err != nil {
			return fmt.Errorf("extensions: %w", err)
		}
		if err := rt.Define(defs...); err != nil {
			return fmt.Errorf("extensions: %w", err)
		}
	}

	for _, t := range rt.Query(nil) {
		fmt.Fprintf(cmd.OutOrStdout(), "Category: %s\n", rendering.RenderCategory(t, true))
	}
	return nil
}
