// Package runner drives a full synchronization run: it takes the single-run
// lock, lists the catalog per section, plans a group per item and hands each
// group to the syncer. Stages gate what a run includes, so a listing-only or
// summary-only run stays cheap.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"wpmirror/internal/catalog"
	"wpmirror/internal/common"
	"wpmirror/internal/config"
	"wpmirror/internal/entity"
	"wpmirror/internal/layout"
	"wpmirror/internal/ledger"
	"wpmirror/internal/report"
	"wpmirror/internal/state"
	"wpmirror/internal/syncer"
)

// Options select what a run covers.
type Options struct {
	Sections []entity.Section
	Stages   StageSet
	Force    bool
	Rehash   bool
	// Retry limits the run to items whose previous run left failures
	// behind; everything already complete is reported as skipped.
	Retry bool
}

type Runner struct {
	cfg      *config.Config
	layout   *layout.Layout
	builders map[entity.Section]catalog.Builder
	sync     *syncer.Syncer
	store    *state.Store
	ledger   *ledger.Ledger
	index    *report.IndexWriter
	log      *slog.Logger
}

func New(cfg *config.Config, lay *layout.Layout, builders map[entity.Section]catalog.Builder,
	sync *syncer.Syncer, store *state.Store, led *ledger.Ledger, index *report.IndexWriter,
	log *slog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		layout:   lay,
		builders: builders,
		sync:     sync,
		store:    store,
		ledger:   led,
		index:    index,
		log:      log.With(slog.String("item", "Runner")),
	}
}

// Run executes one synchronization pass and returns its summary. Only one
// run may touch the archive at a time; a second invocation fails fast with
// ErrSyncAlreadyRunning instead of queueing.
func (r *Runner) Run(ctx context.Context, opt Options) (*report.RunSummary, error) {
	lock := flock.New(r.cfg.LockFilePath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot acquire run lock: %w", err)
	}
	if !locked {
		return nil, common.ErrSyncAlreadyRunning
	}
	defer lock.Unlock() //nolint:errcheck

	if len(opt.Sections) == 0 {
		opt.Sections = []entity.Section{entity.SectionCore, entity.SectionPlugin, entity.SectionTheme}
	}
	if opt.Stages == nil {
		opt.Stages = AllStages()
	}

	summary := report.NewRunSummary()

	for _, section := range opt.Sections {
		if ctx.Err() != nil {
			break
		}
		if err := r.runSection(ctx, section, opt, summary); err != nil {
			if errors.Is(err, common.ErrInvariant) {
				return summary, err
			}
			// An unreachable or empty section fails alone; the run moves on
			// to the remaining sections.
			r.log.Error("Section failed", slog.String("section", string(section)), slog.Any("error", err))
			summary.AddSectionError(section, err)
		}
	}

	summary.Finished = time.Now().UTC()

	if opt.Stages.Has(StageSummary) && ctx.Err() == nil {
		mdLoc := r.layout.IndexPage("index.md")
		htmlLoc := r.layout.IndexPage("index.html")
		if err := r.index.WriteIndex(summary, r.cfg.SourceName, mdLoc, htmlLoc); err != nil {
			r.log.Error("Cannot write index page", slog.Any("error", err))
		}
	}

	return summary, nil
}

func (r *Runner) runSection(ctx context.Context, section entity.Section, opt Options, summary *report.RunSummary) error {
	builder, ok := r.builders[section]
	if !ok {
		return fmt.Errorf("no builder for section %q: %w", section, common.ErrInvariant)
	}

	log := r.log.With(slog.String("section", string(section)))

	items, err := builder.ListItems(ctx, opt.Force && opt.Stages.Has(StageList))
	if err != nil {
		return fmt.Errorf("cannot list %s items: %w", section, err)
	}
	if len(items) == 0 {
		return fmt.Errorf("%s: %w", section, common.ErrNoItemsFound)
	}

	log.Info("Section listed", slog.Int("items", len(items)))

	buildOpt := catalog.BuildOptions{
		Force:        opt.Force,
		WithMeta:     opt.Stages.Has(StageMeta),
		WithL10n:     opt.Stages.Has(StageL10n),
		WithLive:     opt.Stages.Has(StageLive),
		MarkReadOnly: opt.Stages.Has(StageReadOnly),
		KeepVersions: r.cfg.Sync.KeepVersions,
		Locales:      r.cfg.Sync.Locales,
	}
	syncOpt := syncer.Options{
		Force:  opt.Force,
		Rehash: opt.Rehash,
		Prune:  r.cfg.Sync.KeepVersions > 0,
	}

	if !opt.Stages.HasContent() {
		// A listing-only or summary-only run reports persisted state
		// without touching the archive.
		for _, item := range items {
			summary.Add(r.persistedResult(section, item.Slug))
		}

		return nil
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		if opt.Retry && r.cleanLastRun(section, item.Slug) {
			summary.Add(syncer.Result{Section: section, Slug: item.Slug, State: syncer.StateSkippedComplete})
			continue
		}

		group, err := builder.BuildGroup(ctx, item, buildOpt)
		if err != nil {
			return fmt.Errorf("cannot plan %s/%s: %w", section, item.Slug, err)
		}

		res, err := r.sync.SyncGroup(ctx, group, syncOpt)
		if err != nil {
			return fmt.Errorf("cannot sync %s/%s: %w", section, item.Slug, err)
		}

		summary.Add(res)
		if r.ledger.Enabled() {
			r.ledger.RecordGroup(ctx, res)
		}
	}

	return nil
}

// cleanLastRun reports whether the item's previous run finished complete
// with no failed files, making it skippable in retry mode.
func (r *Runner) cleanLastRun(section entity.Section, slug string) bool {
	st := r.store.Load(r.layout.StatusDoc(section, slug), r.cfg.SourceName, section, slug)
	return st.IsComplete && len(st.FailedKeys()) == 0
}

// persistedResult reflects an item's stored status document as a run result.
func (r *Runner) persistedResult(section entity.Section, slug string) syncer.Result {
	st := r.store.Load(r.layout.StatusDoc(section, slug), r.cfg.SourceName, section, slug)

	res := syncer.Result{Section: section, Slug: slug, FailedFiles: len(st.FailedKeys())}
	if st.IsComplete {
		res.State = syncer.StateSkippedComplete
	} else {
		res.State = syncer.StateIncomplete
	}

	return res
}
