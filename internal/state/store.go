// Package state persists per-item synchronization status as one JSON
// document per catalog item.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"wpmirror/internal/entity"
	"wpmirror/internal/transfer"
)

type Store struct {
	fs    afero.Fs
	paths transfer.PathResolver
	log   *slog.Logger
}

func New(paths transfer.PathResolver, log *slog.Logger) *Store {
	return NewWithFS(afero.NewOsFs(), paths, log)
}

func NewWithFS(fs afero.Fs, paths transfer.PathResolver, log *slog.Logger) *Store {
	return &Store{
		fs:    fs,
		paths: paths,
		log:   log.With(slog.String("item", "StateStore")),
	}
}

// Load reads the persisted status of an item. An absent or unparsable
// document means the item was never synchronized; that is a fresh empty
// status, never an error.
func (s *Store) Load(loc entity.ResourceLocator, sourceName string, section entity.Section, slug string) *entity.GroupStatus {
	fresh := entity.NewGroupStatus(sourceName, section, slug)

	localPath, err := s.paths.LocalPath(loc.Host, loc.Path)
	if err != nil {
		s.log.Debug("Cannot resolve status path", slog.String("key", loc.Key()), slog.Any("error", err))

		return fresh
	}

	content, err := afero.ReadFile(s.fs, localPath)
	if err != nil {
		return fresh
	}

	var st entity.GroupStatus
	if err := json.Unmarshal(content, &st); err != nil {
		s.log.Warn("Status document is unreadable, treating item as never synchronized",
			slog.String("slug", slug), slog.Any("error", err))

		return fresh
	}

	if st.Files == nil {
		st.Files = make(map[string]entity.FileSummary)
	}
	if st.Live == nil {
		st.Live = make(map[string]entity.LiveFileSummary)
	}

	return &st
}

// Save writes the full status document. The write goes through a temporary
// file and a rename, so a cancelled run leaves either the previous document
// or nothing.
func (s *Store) Save(st *entity.GroupStatus, loc entity.ResourceLocator) error {
	localPath, err := s.paths.LocalPath(loc.Host, loc.Path)
	if err != nil {
		return fmt.Errorf("cannot resolve status path %s: %w", loc.Key(), err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("cannot create status directory: %w", err)
	}

	content, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal status document: %w", err)
	}

	tmpPath := localPath + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, content, 0o644); err != nil {
		return fmt.Errorf("cannot write status document: %w", err)
	}

	if err := s.fs.Rename(tmpPath, localPath); err != nil {
		_ = s.fs.RemoveAll(tmpPath)

		return fmt.Errorf("cannot move status document into place: %w", err)
	}

	return nil
}

// Merge combines a just-produced summary with prior state. The fresh status
// and timestamp win; digests the fresh attempt did not compute carry forward
// from the prior record, so a no-rehash run never loses digests. Merge is
// idempotent and never drops a digest present in the fresh summary.
func Merge(prior, fresh entity.FileSummary) entity.FileSummary {
	out := fresh

	if out.Key == "" {
		out.Key = prior.Key
	}
	if out.Status == "" || out.Status == entity.StatusUnknown {
		out.Status = prior.Status
	}
	if out.When.IsZero() {
		out.When = prior.When
	}
	if out.MD5 == "" {
		out.MD5 = prior.MD5
	}
	if out.SHA1 == "" {
		out.SHA1 = prior.SHA1
	}
	if out.SHA256 == "" {
		out.SHA256 = prior.SHA256
	}
	out.ReadOnly = out.ReadOnly || prior.ReadOnly

	return out
}
