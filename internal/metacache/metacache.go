// Package metacache decides whether one upstream JSON document must be
// re-fetched and, when it is, rewrites its embedded references for the
// mirror. Both the verbatim upstream form and the migrated form are cached;
// a fresh cache answers a probe with zero network calls.
package metacache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"wpmirror/internal/entity"
	"wpmirror/internal/transfer"
)

type Cache struct {
	fs     afero.Fs
	client *http.Client
	paths  transfer.PathResolver
	log    *slog.Logger
}

// Result is the outcome of one probe.
type Result struct {
	Raw      []byte
	Migrated []byte
	Changed  bool
}

func New(paths transfer.PathResolver, timeout time.Duration, log *slog.Logger) *Cache {
	return NewWithFS(afero.NewOsFs(), paths, timeout, log)
}

func NewWithFS(fs afero.Fs, paths transfer.PathResolver, timeout time.Duration, log *slog.Logger) *Cache {
	return &Cache{
		fs:     fs,
		client: &http.Client{Timeout: timeout},
		paths:  paths,
		log:    log.With(slog.String("item", "MetaCache")),
	}
}

// Probe returns the raw and migrated forms of an upstream document. A
// present migrated cache means the document is unchanged and nothing is
// fetched, unless force is set. A corrupt cached document is treated as
// absent and triggers a full redo.
func (c *Cache) Probe(ctx context.Context, rawLoc, migratedLoc entity.ResourceLocator, tr Transform, force bool) (Result, error) {
	rawPath, err := c.paths.LocalPath(rawLoc.Host, rawLoc.Path)
	if err != nil {
		return Result{}, fmt.Errorf("cannot resolve raw cache path: %w", err)
	}
	migratedPath, err := c.paths.LocalPath(migratedLoc.Host, migratedLoc.Path)
	if err != nil {
		return Result{}, fmt.Errorf("cannot resolve migrated cache path: %w", err)
	}

	if !force {
		if res, ok := c.cached(rawPath, migratedPath); ok {
			return res, nil
		}
	}

	raw, err := c.fetch(ctx, rawLoc.SourceURL)
	if err != nil {
		return Result{}, err
	}

	migrated, err := Migrate(raw, tr)
	if err != nil {
		return Result{}, fmt.Errorf("cannot migrate %s: %w", rawLoc.Key(), err)
	}

	if err := c.persist(rawPath, raw); err != nil {
		return Result{}, err
	}
	if err := c.persist(migratedPath, migrated); err != nil {
		return Result{}, err
	}

	c.log.Info("Migrated metadata document",
		slog.String("key", rawLoc.Key()),
		slog.String("source_url", rawLoc.SourceURL))

	return Result{Raw: raw, Migrated: migrated, Changed: true}, nil
}

// cached loads both cached forms, validating that they still parse. Any
// problem reads as "no cache".
func (c *Cache) cached(rawPath, migratedPath string) (Result, bool) {
	migrated, err := afero.ReadFile(c.fs, migratedPath)
	if err != nil || !json.Valid(migrated) {
		return Result{}, false
	}

	raw, err := afero.ReadFile(c.fs, rawPath)
	if err != nil || !json.Valid(raw) {
		return Result{}, false
	}

	return Result{Raw: raw, Migrated: migrated, Changed: false}, true
}

func (c *Cache) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot build metadata request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("cannot fetch metadata: unexpected response status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read metadata response: %w", err)
	}

	return raw, nil
}

func (c *Cache) persist(path string, content []byte) error {
	if err := c.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create cache directory: %w", err)
	}

	if err := afero.WriteFile(c.fs, path, content, 0o644); err != nil {
		return fmt.Errorf("cannot write cache document: %w", err)
	}

	return nil
}
