package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/occigate/adapters/clock"
	"github.com/artpar/occigate/adapters/sqlite"
	"github.com/artpar/occigate/config"
	"github.com/artpar/occigate/core/schema"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Inspect the sqlite inventory",
	Long: `Inspect the entities and action history stored by the sqlite backend.

Examples:
  occigate inventory list
  occigate inventory history /compute/6a1f0c2e-...`,
}

var inventoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored entities",
	Args:  cobra.NoArgs,
	RunE:  runInventoryList,
}

var inventoryHistoryCmd = &cobra.Command{
	Use:   "history <location>",
	Short: "Show the actions triggered on a resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runInventoryHistory,
}

func init() {
	rootCmd.AddCommand(inventoryCmd)
	inventoryCmd.AddCommand(inventoryListCmd)
	inventoryCmd.AddCommand(inventoryHistoryCmd)
}

func openInventory() (*sqlite.Inventory, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Backend.Type != config.BackendSQLite {
		return nil, fmt.Errorf("backend %q keeps no inventory", cfg.Backend.Type)
	}
	db, err := sqlite.Open(cfg.Backend.SQLite.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return sqlite.NewInventory(db, clock.Real{}, zerolog.Nop()), nil
}

func runInventoryList(cmd *cobra.Command, args []string) error {
	inv, err := openInventory()
	if err != nil {
		return err
	}
	defer inv.Close()

	recs, err := inv.Records(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATE\tMIXINS")
	for _, r := range recs {
		state := r.State
		if state == "" {
			state = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Kind, state, strings.Join(r.Mixins, ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d entities\n", len(recs))
	return nil
}

func runInventoryHistory(cmd *cobra.Command, args []string) error {
	inv, err := openInventory()
	if err != nil {
		return err
	}
	defer inv.Close()

	history, err := inv.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No actions recorded for %s\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tSTATE\tPARAMS")
	for _, a := range history {
		params := make([]string, 0, len(a.Params))
		for _, name := range schema.SortedNames(a.Params) {
			params = append(params, name+"="+a.Params.Text(name))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.TriggeredAt.Format(time.RFC3339), a.Action, a.State, strings.Join(params, " "))
	}
	return w.Flush()
}
