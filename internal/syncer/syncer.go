// Package syncer brings one request group to completion: it decides whether
// the group can be skipped from persisted state alone, drives the transfer
// primitive over a bounded worker pool, resolves live assets, and persists
// the resulting status document exactly once.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wpmirror/internal/entity"
	"wpmirror/internal/mirrorsink"
	"wpmirror/internal/state"
)

const (
	StateSkippedComplete GroupState = "skipped-complete"
	StateComplete        GroupState = "complete"
	StateIncomplete      GroupState = "incomplete"
)

// GroupState is the terminal state of one group in one run.
type GroupState string

// Fetcher is the digest & transfer primitive.
type Fetcher interface {
	Fetch(ctx context.Context, loc entity.ResourceLocator, prior *entity.FileSummary, force, needHash bool) (entity.FileSummary, error)
}

// LiveResolver stores mutable assets under content-addressed names.
type LiveResolver interface {
	Download(ctx context.Context, slot entity.LiveSlot, sourceURL string, middleLength int, st *entity.GroupStatus) (entity.LiveFileSummary, error)
}

// StatusStore loads and persists group status documents.
type StatusStore interface {
	Load(loc entity.ResourceLocator, sourceName string, section entity.Section, slug string) *entity.GroupStatus
	Save(st *entity.GroupStatus, loc entity.ResourceLocator) error
}

// KeyMapper resolves local paths and sink keys for mirrored resources.
type KeyMapper interface {
	LocalPath(host, relPath string) (string, error)
	SinkKey(host, relPath string) string
}

// Options select per-run behavior.
type Options struct {
	Force  bool
	Rehash bool
	// Prune marks persisted resources absent from the plan uninteresting,
	// used when the retained-version limit shrinks an item's request set.
	Prune bool
}

// Result summarizes one group after a run.
type Result struct {
	Section      entity.Section `json:"section"`
	Slug         string         `json:"slug"`
	State        GroupState     `json:"state"`
	Downloaded   int            `json:"downloaded"`
	SkippedFiles int            `json:"skipped_files"`
	FailedFiles  int            `json:"failed_files"`
	LiveStored   int            `json:"live_stored"`
	Err          string         `json:"error,omitempty"`
}

type Syncer struct {
	fetcher Fetcher
	live    LiveResolver
	store   StatusStore
	paths   KeyMapper
	sink    mirrorsink.ObjectStore
	workers int
	log     *slog.Logger
}

func New(fetcher Fetcher, live LiveResolver, store StatusStore, paths KeyMapper, sink mirrorsink.ObjectStore, workers int, log *slog.Logger) *Syncer {
	if workers < 1 {
		workers = 1
	}

	return &Syncer{
		fetcher: fetcher,
		live:    live,
		store:   store,
		paths:   paths,
		sink:    sink,
		workers: workers,
		log:     log.With(slog.String("item", "Syncer")),
	}
}

// SyncGroup runs one group to a terminal state. The status document is
// written once, after all outstanding work for the group has finished; a
// cancelled run writes nothing, leaving the previous document in place. An
// abandoned group records its upstream contract violation in the document
// and leaves every file entry untouched.
func (s *Syncer) SyncGroup(ctx context.Context, g *entity.RequestGroup, opt Options) (Result, error) {
	res := Result{Section: g.Section, Slug: g.Slug}
	log := s.log.With(slog.String("section", string(g.Section)), slog.String("slug", g.Slug))

	if g.Err != "" {
		log.Error("Group abandoned", slog.String("op", "sync_group"), slog.String("detail", g.Err))
		res.State = StateIncomplete
		res.Err = g.Err

		// The prior document is kept as is, only the error is recorded.
		st := s.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
		st.Err = g.Err
		if err := s.store.Save(st, g.StatusLocator); err != nil {
			log.Error("Cannot save status document", slog.Any("error", err))
		}

		return res, nil
	}

	st := s.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	keys := g.Keys()

	if !opt.Force && !opt.Rehash && len(g.Live) == 0 && st.IsComplete && st.HasAll(keys) {
		log.Debug("Group already complete, skipping")
		res.State = StateSkippedComplete

		return res, nil
	}

	fatal := s.downloadAll(ctx, g, st, opt, &res)
	if fatal != nil {
		return res, fatal
	}

	liveOK := true
	for _, lr := range g.Live {
		sum, err := s.live.Download(ctx, lr.Slot, lr.SourceURL, lr.MiddleLength, st)
		if err != nil {
			return res, err
		}
		if sum.Complete() {
			res.LiveStored++
		} else {
			res.FailedFiles++
			liveOK = false
		}
	}

	if ctx.Err() != nil {
		log.Warn("Run cancelled, status not written")
		res.State = StateIncomplete

		return res, nil
	}

	if opt.Prune {
		planned := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			planned[key] = struct{}{}
		}
		for key, sum := range st.Files {
			if _, wanted := planned[key]; !wanted && sum.Status != entity.StatusUninteresting {
				sum.Status = entity.StatusUninteresting
				st.Files[key] = sum
			}
		}
	}

	st.IsComplete = st.AllComplete(keys) && liveOK
	st.When = time.Now().UTC()
	st.Err = ""
	if g.Updated != "" {
		st.Updated = g.Updated
	}

	if err := s.store.Save(st, g.StatusLocator); err != nil {
		log.Error("Cannot save status document", slog.Any("error", err))
		res.State = StateIncomplete
		res.Err = err.Error()

		return res, nil
	}

	if st.IsComplete {
		res.State = StateComplete
	} else {
		res.State = StateIncomplete
	}

	log.Info("Group synchronized",
		slog.String("state", string(res.State)),
		slog.Int("downloaded", res.Downloaded),
		slog.Int("failed", res.FailedFiles),
		slog.Int("skipped", res.SkippedFiles))

	return res, nil
}

type fetchOutcome struct {
	loc   entity.ResourceLocator
	fresh entity.FileSummary
	err   error
}

// downloadAll drives the transfer primitive over the group's fixed
// resources with a bounded worker pool. Each destination path appears at
// most once in a group, so workers never contend on a file.
func (s *Syncer) downloadAll(ctx context.Context, g *entity.RequestGroup, st *entity.GroupStatus, opt Options, res *Result) error {
	type fetchTask struct {
		loc   entity.ResourceLocator
		prior *entity.FileSummary
	}

	// Priors are captured before the pool starts; workers must not touch
	// the status maps while the collector merges into them.
	var tasks []fetchTask
	for _, loc := range g.Resources {
		prior, known := st.Files[loc.Key()]
		if known && prior.Complete() && !opt.Force && !opt.Rehash {
			res.SkippedFiles++

			continue
		}
		task := fetchTask{loc: loc}
		if known {
			pc := prior
			task.prior = &pc
		}
		tasks = append(tasks, task)
	}

	if len(tasks) == 0 {
		return nil
	}

	in := make(chan fetchTask, len(tasks))
	out := make(chan fetchOutcome, len(tasks))
	for _, task := range tasks {
		in <- task
	}
	close(in)

	workers := s.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go func() {
			defer wg.Done()

			for task := range in {
				if ctx.Err() != nil {
					return
				}

				fresh, err := s.fetcher.Fetch(ctx, task.loc, task.prior, opt.Force, opt.Rehash)
				out <- fetchOutcome{loc: task.loc, fresh: fresh, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var fatal error
	for outcome := range out {
		if outcome.err != nil {
			if fatal == nil {
				fatal = outcome.err
			}

			continue
		}

		key := outcome.loc.Key()
		st.Files[key] = state.Merge(st.Files[key], outcome.fresh)

		if outcome.fresh.Complete() {
			res.Downloaded++
			s.mirror(outcome.loc)
		} else {
			res.FailedFiles++
		}
	}

	return fatal
}

// mirror copies a freshly written resource to the object-store sink. Sink
// failures never fail local synchronization.
func (s *Syncer) mirror(loc entity.ResourceLocator) {
	if s.sink == nil {
		return
	}

	key := s.paths.SinkKey(loc.Host, loc.Path)
	exists, err := s.sink.Exists(key)
	if err == nil && exists {
		return
	}

	localPath, err := s.paths.LocalPath(loc.Host, loc.Path)
	if err != nil {
		return
	}

	if err := s.sink.CopyFile(localPath, key); err != nil {
		s.log.Error("Cannot mirror object to sink", slog.String("key", key), slog.Any("error", err))
	}
}
