// Package liveasset stores mutable upstream assets under content-addressed
// names. The true identity of a live asset is its content hash, known only
// after the bytes are fetched; the stored name embeds a hash stamp so that
// unchanged content is recognized and never stored twice.
package liveasset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"wpmirror/internal/common"
	"wpmirror/internal/entity"
	"wpmirror/internal/transfer"
)

// Locations resolves storage paths and mirror URLs for live slots.
type Locations interface {
	LocalPath(host, relPath string) (string, error)
	FileURL(host, relPath string) (string, error)
}

type Resolver struct {
	fs     afero.Fs
	client *http.Client
	paths  Locations
	log    *slog.Logger

	mu    sync.Mutex
	names map[string]*sync.Mutex
}

func New(paths Locations, timeout time.Duration, log *slog.Logger) *Resolver {
	return NewWithFS(afero.NewOsFs(), paths, timeout, log)
}

func NewWithFS(fs afero.Fs, paths Locations, timeout time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{
		fs:     fs,
		client: &http.Client{Timeout: timeout},
		paths:  paths,
		log:    log.With(slog.String("item", "LiveResolver")),
		names:  make(map[string]*sync.Mutex),
	}
}

// lockName serializes work on one final filename so that two workers
// fetching identical content cannot race the rename.
func (r *Resolver) lockName(name string) func() {
	r.mu.Lock()
	lock, exists := r.names[name]
	if !exists {
		lock = &sync.Mutex{}
		r.names[name] = lock
	}
	r.mu.Unlock()

	lock.Lock()

	return lock.Unlock
}

// Download fetches a live asset, names it by its content hash and records
// the outcome in the group status. Content-identical bytes leave the archive
// and the generation counter untouched. middleLength is the number of hex
// characters of the SHA-256 used as the name stamp, capped at the digest
// length; zero disables stamping and overwrites the literal name in place.
func (r *Resolver) Download(ctx context.Context, slot entity.LiveSlot, sourceURL string, middleLength int, st *entity.GroupStatus) (entity.LiveFileSummary, error) {
	dirPath, err := r.paths.LocalPath(slot.Host, slot.Dir)
	if err != nil {
		return entity.LiveFileSummary{}, fmt.Errorf("%w: cannot resolve live slot %s/%s: %v", common.ErrInvariant, slot.Dir, slot.Front, err)
	}

	if st.Live == nil {
		st.Live = make(map[string]entity.LiveFileSummary)
	}

	if err := r.fs.MkdirAll(dirPath, 0o755); err != nil {
		return r.failed(slot, "cannot create slot directory", err), nil
	}

	tmpPath := filepath.Join(dirPath, ".tmp-"+uuid.NewString())
	sum, digests, ok := r.fetchToTemp(ctx, slot, sourceURL, tmpPath)
	if !ok {
		return sum, nil
	}

	stamp := ""
	if middleLength > 0 {
		stamp = digests.SHA256Hex()
		if middleLength < len(stamp) {
			stamp = stamp[:middleLength]
		}
	}
	finalName := slot.FileName(stamp)
	finalPath := filepath.Join(dirPath, finalName)
	key := slot.Key(stamp)
	sum.Key = key

	unlock := r.lockName(finalPath)
	defer unlock()

	if middleLength == 0 {
		// Literal naming: replace in place, keep whatever generation the
		// slot already had.
		if prior, exists := st.Live[key]; exists {
			sum.Generation = prior.Generation
		}
		if err := r.fs.Rename(tmpPath, finalPath); err != nil {
			_ = r.fs.RemoveAll(tmpPath)

			return r.failed(slot, "cannot move live asset into place", err), nil
		}
		st.Live[key] = sum

		return sum, nil
	}

	exists, _ := afero.Exists(r.fs, finalPath)
	if exists {
		// Content unchanged: the archive already holds these bytes under
		// this name. Discard the download and keep the prior record with
		// its timestamps.
		_ = r.fs.RemoveAll(tmpPath)

		if prior, recorded := st.Live[key]; recorded {
			return prior, nil
		}
		// The file predates the status document (state was lost); adopt it.
		sum.Generation = st.NextGeneration
		st.Live[key] = sum
		st.NextGeneration++

		return sum, nil
	}

	if err := r.fs.Rename(tmpPath, finalPath); err != nil {
		_ = r.fs.RemoveAll(tmpPath)

		return r.failed(slot, "cannot move live asset into place", err), nil
	}

	sum.Generation = st.NextGeneration
	st.Live[key] = sum
	st.NextGeneration++

	r.log.Info("Stored live asset",
		slog.String("key", key),
		slog.Int("generation", sum.Generation),
		slog.String("source_url", sourceURL))

	return sum, nil
}

func (r *Resolver) fetchToTemp(ctx context.Context, slot entity.LiveSlot, sourceURL, tmpPath string) (entity.LiveFileSummary, *transfer.DigestSet, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return r.failed(slot, "cannot build request", err), nil, false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return r.failed(slot, "request failed", err), nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return r.failed(slot, fmt.Sprintf("unexpected response status %d", resp.StatusCode), nil), nil, false
	}

	file, err := r.fs.Create(tmpPath)
	if err != nil {
		return r.failed(slot, "cannot create temporary file", err), nil, false
	}

	digests := transfer.NewDigestSet()
	_, err = io.Copy(io.MultiWriter(file, digests.Writer()), resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = r.fs.RemoveAll(tmpPath)

		return r.failed(slot, "cannot write temporary file", err), nil, false
	}

	sum := entity.LiveFileSummary{
		FileSummary: entity.FileSummary{
			Status: entity.StatusComplete,
			When:   time.Now().UTC(),
		},
	}
	digests.Apply(&sum.FileSummary)

	return sum, digests, true
}

func (r *Resolver) failed(slot entity.LiveSlot, detail string, err error) entity.LiveFileSummary {
	r.log.Error("Live asset transfer failed",
		slog.String("op", "live_download"),
		slog.String("slot", slot.Dir+"/"+slot.Front),
		slog.String("detail", detail),
		slog.Any("error", err))

	return entity.LiveFileSummary{
		FileSummary: entity.FileSummary{
			Key:    slot.Key(""),
			Status: entity.StatusFailed,
			When:   time.Now().UTC(),
		},
	}
}

// ResolveCurrent returns the mirror URL a slot currently serves, from
// persisted state alone. Among recorded entries matching the slot's shape
// the highest generation wins; with no match the unstamped fallback URL is
// returned so metadata-only probes can still rewrite links.
func (r *Resolver) ResolveCurrent(slot entity.LiveSlot, live map[string]entity.LiveFileSummary) (string, error) {
	prefix := slot.Host + ":" + slot.Dir + "/" + slot.Front + "-"
	suffix := "." + slot.Ext

	best := ""
	bestGen := -1
	for key, sum := range live {
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
			continue
		}
		stamp := key[len(prefix) : len(key)-len(suffix)]
		if !isHex(stamp) {
			continue
		}
		if sum.Generation > bestGen {
			bestGen = sum.Generation
			best = key
		}
	}

	if best != "" {
		return r.paths.FileURL(slot.Host, strings.TrimPrefix(best, slot.Host+":"))
	}

	return r.paths.FileURL(slot.Host, slot.RelPath(""))
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}
