package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"wpmirror/internal/app"
	"wpmirror/internal/entity"
	"wpmirror/internal/report"
	"wpmirror/internal/runner"
)

var errRunHadFailures = errors.New("run finished with failures")

func newSyncCommand(configFlag *string) *cobra.Command {
	var sections []string
	var stages []string
	var force bool
	var rehash bool
	var retry bool
	var output string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the mirror against upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedSections, err := parseSections(sections)
			if err != nil {
				return err
			}
			parsedStages, err := runner.ParseStages(stages)
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
				Stages:   parsedStages,
				Force:    force,
				Rehash:   rehash,
				Retry:    retry,
			})
			if summary != nil {
				if renderErr := summary.Render(os.Stdout, output); renderErr != nil {
					return renderErr
				}
			}
			if err != nil {
				return err
			}
			if summary.HasFailures() {
				return errRunHadFailures
			}

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sections, "sections", nil, "Sections to synchronize (core, plugin, theme)")
	cmd.Flags().StringSliceVar(&stages, "stages", nil, "Stages to include (list, meta, l10n, readOnly, live, summary)")
	cmd.Flags().BoolVar(&force, "force", false, "Refresh cached listings and metadata")
	cmd.Flags().BoolVar(&rehash, "rehash", false, "Re-verify digests of files already on disk")
	cmd.Flags().BoolVar(&retry, "retry", false, "Only revisit items whose last run left failures")
	cmd.Flags().StringVarP(&output, "output", "o", report.OutputTable, "Output mode (table, json)")

	return cmd
}

func parseSections(names []string) ([]entity.Section, error) {
	sections := make([]entity.Section, 0, len(names))
	for _, name := range names {
		section, err := entity.ParseSection(name)
		if err != nil {
			return nil, err
		}
		sections = append(sections, section)
	}

	return sections, nil
}
