package main

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"wpmirror/internal/app"
	"wpmirror/internal/entity"
)

// The synced command queries the redis ledger for items last recorded as
// complete, without opening the archive at all.
func newSyncedCommand(configFlag *string) *cobra.Command {
	var counters bool

	cmd := &cobra.Command{
		Use:   "synced <section>",
		Short: "List items the ledger records as complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section, err := entity.ParseSection(args[0])
			if err != nil {
				return err
			}

			a, err := app.New(*configFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			var entries map[string]string
			if counters {
				entries, err = a.Counters(cmd.Context(), section)
			} else {
				entries, err = a.Synced(cmd.Context(), section)
			}
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(entries))
			for key := range entries {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			tw := table.NewWriter()
			tw.SetStyle(table.StyleRounded)
			if counters {
				tw.AppendHeader(table.Row{"Counter", "Value"})
			} else {
				tw.AppendHeader(table.Row{"Slug", "Last Complete"})
			}
			for _, key := range keys {
				tw.AppendRow(table.Row{key, entries[key]})
			}

			fmt.Fprintln(cmd.OutOrStdout(), tw.Render())

			return nil
		},
	}

	cmd.Flags().BoolVar(&counters, "counters", false, "Show accumulated run counters instead of synced items")

	return cmd
}
