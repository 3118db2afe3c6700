package main

import (
	"os"

	"github.com/spf13/cobra"

	"wpmirror/internal/app"
	"wpmirror/internal/report"
	"wpmirror/internal/runner"
)

// The summary command reports the archive's persisted state and regenerates
// the index page without contacting upstream.
func newSummaryCommand(configFlag *string) *cobra.Command {
	var sections []string
	var output string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Report archive state from persisted status documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedSections, err := parseSections(sections)
			if err != nil {
				return err
			}

			a, err := app.New(*configFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Sync(cmd.Context(), runner.Options{
				Sections: parsedSections,
				Stages:   runner.StageSet{runner.StageSummary: true},
			})
			if err != nil {
				return err
			}

			return summary.Render(os.Stdout, output)
		},
	}

	cmd.Flags().StringSliceVar(&sections, "sections", nil, "Sections to report (core, plugin, theme)")
	cmd.Flags().StringVarP(&output, "output", "o", report.OutputTable, "Output mode (table, json)")

	return cmd
}
