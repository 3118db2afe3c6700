package report

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
	"gopkg.in/yaml.v2"

	"wpmirror/internal/entity"
	"wpmirror/internal/syncer"
)

// Locations resolves where index documents are stored.
type Locations interface {
	LocalPath(host, relPath string) (string, error)
}

// IndexWriter renders the mirror's index page: a markdown document with
// YAML frontmatter, plus its HTML form for direct serving.
type IndexWriter struct {
	fs    afero.Fs
	paths Locations
	md    goldmark.Markdown
	log   *slog.Logger
}

type indexFrontmatter struct {
	Title     string `yaml:"title"`
	Generated string `yaml:"generated"`
	Source    string `yaml:"source"`
	Groups    int    `yaml:"groups"`
	Failed    int    `yaml:"failed"`
}

func NewIndexWriter(paths Locations, log *slog.Logger) *IndexWriter {
	return NewIndexWriterWithFS(afero.NewOsFs(), paths, log)
}

func NewIndexWriterWithFS(fs afero.Fs, paths Locations, log *slog.Logger) *IndexWriter {
	md := goldmark.New(
		goldmark.WithExtensions(
			&frontmatter.Extender{},
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &IndexWriter{
		fs:    fs,
		paths: paths,
		md:    md,
		log:   log.With(slog.String("item", "IndexWriter")),
	}
}

// WriteIndex persists index.md and index.html for the run.
func (w *IndexWriter) WriteIndex(summary *RunSummary, sourceName string, mdLoc, htmlLoc entity.ResourceLocator) error {
	content, err := w.buildMarkdown(summary, sourceName)
	if err != nil {
		return err
	}

	if err := w.persist(mdLoc, content); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := w.md.Convert(content, &buf); err != nil {
		return fmt.Errorf("cannot convert index markdown: %w", err)
	}

	if err := w.persist(htmlLoc, buf.Bytes()); err != nil {
		return err
	}

	w.log.Info("Wrote mirror index",
		slog.String("markdown", mdLoc.Key()),
		slog.String("html", htmlLoc.Key()))

	return nil
}

func (w *IndexWriter) buildMarkdown(summary *RunSummary, sourceName string) ([]byte, error) {
	groups, failed := 0, 0
	for _, totals := range summary.Totals {
		groups += totals.Groups
		failed += totals.Failed
	}

	fm, err := yaml.Marshal(indexFrontmatter{
		Title:     sourceName + " mirror",
		Generated: summary.Finished.Format(time.RFC3339),
		Source:    sourceName,
		Groups:    groups,
		Failed:    failed,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot marshal index frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")

	fmt.Fprintf(&buf, "# %s mirror\n\n", sourceName)
	fmt.Fprintf(&buf, "Last synchronized %s.\n\n", summary.Finished.Format(time.RFC1123))

	buf.WriteString("| Section | Items | Complete | Failed files |\n")
	buf.WriteString("|---|---|---|---|\n")
	for _, section := range []entity.Section{entity.SectionCore, entity.SectionPlugin, entity.SectionTheme} {
		totals, exists := summary.Totals[section]
		if !exists {
			continue
		}
		fmt.Fprintf(&buf, "| %s | %d | %d | %d |\n",
			section, totals.Groups, totals.Complete+totals.Skipped, totals.Failed)
	}

	var incomplete []syncer.Result
	for _, res := range summary.Results {
		if res.State == syncer.StateIncomplete {
			incomplete = append(incomplete, res)
		}
	}
	if len(incomplete) > 0 {
		buf.WriteString("\n## Incomplete items\n\n")
		for _, res := range incomplete {
			if res.Err != "" {
				fmt.Fprintf(&buf, "- `%s/%s`: %s\n", res.Section, res.Slug, res.Err)
			} else {
				fmt.Fprintf(&buf, "- `%s/%s`\n", res.Section, res.Slug)
			}
		}
	}

	return buf.Bytes(), nil
}

func (w *IndexWriter) persist(loc entity.ResourceLocator, content []byte) error {
	path, err := w.paths.LocalPath(loc.Host, loc.Path)
	if err != nil {
		return fmt.Errorf("cannot resolve index path %s: %w", loc.Key(), err)
	}

	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create index directory: %w", err)
	}

	if err := afero.WriteFile(w.fs, path, content, 0o644); err != nil {
		return fmt.Errorf("cannot write index document: %w", err)
	}

	return nil
}
