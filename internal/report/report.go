// Package report renders run outcomes: a per-section summary for operators
// and a generated index page served from the mirror itself.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"wpmirror/internal/entity"
	"wpmirror/internal/syncer"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// SectionTotals accumulates group outcomes for one section.
type SectionTotals struct {
	Groups     int `json:"groups"`
	Complete   int `json:"complete"`
	Skipped    int `json:"skipped"`
	Incomplete int `json:"incomplete"`
	Downloaded int `json:"downloaded"`
	Failed     int `json:"failed"`
}

// RunSummary aggregates one synchronization run.
type RunSummary struct {
	Started       time.Time                        `json:"started"`
	Finished      time.Time                        `json:"finished"`
	Totals        map[entity.Section]SectionTotals `json:"totals"`
	Results       []syncer.Result                  `json:"results"`
	SectionErrors map[entity.Section]string        `json:"section_errors,omitempty"`
}

func NewRunSummary() *RunSummary {
	return &RunSummary{
		Started: time.Now().UTC(),
		Totals:  make(map[entity.Section]SectionTotals),
	}
}

func (s *RunSummary) Add(res syncer.Result) {
	totals := s.Totals[res.Section]
	totals.Groups++
	switch res.State {
	case syncer.StateComplete:
		totals.Complete++
	case syncer.StateSkippedComplete:
		totals.Skipped++
	default:
		totals.Incomplete++
	}
	totals.Downloaded += res.Downloaded
	totals.Failed += res.FailedFiles
	s.Totals[res.Section] = totals

	s.Results = append(s.Results, res)
}

// AddSectionError records a section whose listing could not be obtained at
// all, so none of its items appear in the totals.
func (s *RunSummary) AddSectionError(section entity.Section, err error) {
	if s.SectionErrors == nil {
		s.SectionErrors = make(map[entity.Section]string)
	}
	s.SectionErrors[section] = err.Error()
}

// HasFailures reports whether anything in the run went wrong; it decides the
// process exit status but never aborts a run early.
func (s *RunSummary) HasFailures() bool {
	if len(s.SectionErrors) > 0 {
		return true
	}
	for _, totals := range s.Totals {
		if totals.Failed > 0 || totals.Incomplete > 0 {
			return true
		}
	}

	return false
}

// Render writes the summary in the requested output mode.
func (s *RunSummary) Render(w io.Writer, mode string) error {
	if mode == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(s)
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Section", "Groups", "Complete", "Skipped", "Incomplete", "Downloaded", "Failed"})

	for _, section := range []entity.Section{entity.SectionCore, entity.SectionPlugin, entity.SectionTheme} {
		totals, exists := s.Totals[section]
		if !exists {
			continue
		}
		tw.AppendRow(table.Row{
			string(section), totals.Groups, totals.Complete, totals.Skipped,
			totals.Incomplete, totals.Downloaded, totals.Failed,
		})
	}

	columns := make([]table.ColumnConfig, 0, 7)
	for i := 2; i <= 7; i++ {
		columns = append(columns, table.ColumnConfig{Number: i, Align: text.AlignRight})
	}
	tw.SetColumnConfigs(columns)

	if _, err := fmt.Fprintln(w, tw.Render()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "run: %s .. %s\n",
		s.Started.Format(time.RFC3339), s.Finished.Format(time.RFC3339)); err != nil {
		return err
	}

	for _, section := range []entity.Section{entity.SectionCore, entity.SectionPlugin, entity.SectionTheme} {
		if msg, exists := s.SectionErrors[section]; exists {
			if _, err := fmt.Fprintf(w, "%s: %s\n", section, msg); err != nil {
				return err
			}
		}
	}

	return nil
}
