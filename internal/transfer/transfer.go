// Package transfer implements the idempotent fetch-to-file primitive with
// streaming integrity hashing. Transport and write failures are recorded in
// the returned summary, never surfaced as errors; only configuration and
// invariant violations abort a run.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"wpmirror/internal/common"
	"wpmirror/internal/entity"
)

// PathResolver maps a host tag plus relative path to a local storage path.
type PathResolver interface {
	LocalPath(host, relPath string) (string, error)
}

type Fetcher struct {
	fs     afero.Fs
	client *http.Client
	paths  PathResolver
	log    *slog.Logger
}

func New(paths PathResolver, timeout time.Duration, log *slog.Logger) *Fetcher {
	return NewWithFS(afero.NewOsFs(), paths, timeout, log)
}

func NewWithFS(fs afero.Fs, paths PathResolver, timeout time.Duration, log *slog.Logger) *Fetcher {
	return &Fetcher{
		fs:     fs,
		client: &http.Client{Timeout: timeout},
		paths:  paths,
		log:    log.With(slog.String("item", "Fetcher")),
	}
}

// Fetch brings one fixed-content resource into the archive and reports the
// outcome. An existing destination is trusted unless force is set; digests
// are recomputed only when needHash asks for them and the prior record does
// not already vouch for read-only content. The returned summary is complete
// or failed; error returns are reserved for invariant violations.
func (f *Fetcher) Fetch(ctx context.Context, loc entity.ResourceLocator, prior *entity.FileSummary, force, needHash bool) (entity.FileSummary, error) {
	localPath, err := f.paths.LocalPath(loc.Host, loc.Path)
	if err != nil {
		return entity.FileSummary{}, fmt.Errorf("%w: cannot resolve %s: %v", common.ErrInvariant, loc.Key(), err)
	}

	sum := entity.FileSummary{
		Key:      loc.Key(),
		ReadOnly: loc.ReadOnly,
		When:     time.Now().UTC(),
	}

	exists, err := afero.Exists(f.fs, localPath)
	if err != nil {
		exists = false
	}

	if exists && !force {
		f.trustExisting(localPath, loc, prior, needHash, &sum)

		return f.checked(sum)
	}

	if loc.LocalOnly() {
		if !exists {
			f.fail(&sum, loc, "local-only artifact is missing", nil)

			return sum, nil
		}
		// force on a local-only artifact means re-hash, there is nothing
		// to fetch.
		f.trustExisting(localPath, loc, prior, true, &sum)

		return f.checked(sum)
	}

	f.download(ctx, loc, localPath, &sum)

	return f.checked(sum)
}

// trustExisting marks an already-present file complete, carrying prior
// digests forward when they are still good enough.
func (f *Fetcher) trustExisting(localPath string, loc entity.ResourceLocator, prior *entity.FileSummary, needHash bool, sum *entity.FileSummary) {
	sum.Status = entity.StatusComplete

	if prior != nil && prior.HasDigests() {
		sum.MD5, sum.SHA1, sum.SHA256 = prior.MD5, prior.SHA1, prior.SHA256
		if !prior.When.IsZero() {
			sum.When = prior.When
		}
		// Read-only content that was already verified once is never
		// re-streamed.
		if !needHash || loc.ReadOnly {
			return
		}
	}

	if err := HashFile(f.fs, localPath, sum); err != nil {
		f.fail(sum, loc, "cannot hash existing file", err)
	}
}

func (f *Fetcher) download(ctx context.Context, loc entity.ResourceLocator, localPath string, sum *entity.FileSummary) {
	if err := f.fs.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		f.fail(sum, loc, "cannot create destination directory", err)

		return
	}

	// A stale destination from an interrupted run must not survive.
	if err := f.fs.RemoveAll(localPath); err != nil {
		f.fail(sum, loc, "cannot remove stale destination", err)

		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.SourceURL, nil)
	if err != nil {
		f.fail(sum, loc, "cannot build request", err)

		return
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.fail(sum, loc, "request failed", err)

		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.fail(sum, loc, fmt.Sprintf("unexpected response status %d", resp.StatusCode), nil)

		return
	}

	file, err := f.fs.Create(localPath)
	if err != nil {
		f.fail(sum, loc, "cannot create destination file", err)

		return
	}

	digests := NewDigestSet()
	_, err = io.Copy(io.MultiWriter(file, digests.Writer()), resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = f.fs.RemoveAll(localPath)
		f.fail(sum, loc, "cannot write destination file", err)

		return
	}

	digests.Apply(sum)
	sum.Status = entity.StatusComplete
	sum.When = time.Now().UTC()

	f.log.Info("Downloaded resource",
		slog.String("key", loc.Key()),
		slog.String("source_url", loc.SourceURL),
		slog.String("sha256", sum.SHA256))
}

func (f *Fetcher) fail(sum *entity.FileSummary, loc entity.ResourceLocator, detail string, err error) {
	sum.Status = entity.StatusFailed

	f.log.Error("Transfer failed",
		slog.String("op", "fetch"),
		slog.String("key", loc.Key()),
		slog.String("source_url", loc.SourceURL),
		slog.String("detail", detail),
		slog.Any("error", err))
}

// checked enforces the primitive's postcondition: the summary is complete
// with all three digests, or failed. Anything else is an internal bug.
func (f *Fetcher) checked(sum entity.FileSummary) (entity.FileSummary, error) {
	switch sum.Status {
	case entity.StatusComplete:
		if !sum.HasDigests() {
			return sum, fmt.Errorf("%w: complete summary for %s is missing digests", common.ErrInvariant, sum.Key)
		}
	case entity.StatusFailed:
	default:
		return sum, fmt.Errorf("%w: transfer produced status %q for %s", common.ErrInvariant, sum.Status, sum.Key)
	}

	return sum, nil
}
