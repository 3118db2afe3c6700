// Package catalog turns catalog items into request groups, one builder per
// section. Builders go through the metadata probe/migrate cache, so repeated
// runs against unchanged upstream metadata plan their groups with zero
// network calls.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"wpmirror/internal/config"
	"wpmirror/internal/entity"
	"wpmirror/internal/layout"
	"wpmirror/internal/liveasset"
	"wpmirror/internal/metacache"
	"wpmirror/internal/state"
)

// Item is one catalog entry to be mirrored: a core version or a
// plugin/theme slug.
type Item struct {
	Slug    string
	Version string
	Updated string
}

// BuildOptions narrow what a builder plans into a group.
type BuildOptions struct {
	Force        bool
	WithMeta     bool
	WithL10n     bool
	WithLive     bool
	MarkReadOnly bool
	KeepVersions int
	Locales      []string
}

// Builder plans the work for one section.
type Builder interface {
	Section() entity.Section
	ListItems(ctx context.Context, force bool) ([]Item, error)
	BuildGroup(ctx context.Context, item Item, opt BuildOptions) (*entity.RequestGroup, error)
}

// deps is the shared collaborator set of all builders.
type deps struct {
	cfg    *config.Config
	layout *layout.Layout
	cache  *metacache.Cache
	store  *state.Store
	live   *liveasset.Resolver
	log    *slog.Logger
}

// New returns the builders for the requested sections.
func New(cfg *config.Config, lay *layout.Layout, cache *metacache.Cache, store *state.Store, live *liveasset.Resolver, log *slog.Logger) map[entity.Section]Builder {
	d := &deps{
		cfg:    cfg,
		layout: lay,
		cache:  cache,
		store:  store,
		live:   live,
		log:    log.With(slog.String("item", "Catalog")),
	}

	return map[entity.Section]Builder{
		entity.SectionCore:   &coreBuilder{deps: d},
		entity.SectionPlugin: &pluginBuilder{deps: d},
		entity.SectionTheme:  &themeBuilder{deps: d},
	}
}

func (d *deps) apiURL(p string, query url.Values) string {
	base := strings.TrimRight(d.cfg.Upstream.APIBaseURL, "/") + p
	if len(query) == 0 {
		return base
	}

	return base + "?" + query.Encode()
}

// abandoned builds a group carrying an upstream contract violation; it will
// be skipped without downloads.
func (d *deps) abandoned(section entity.Section, item Item, detail string) *entity.RequestGroup {
	slug := item.Slug
	if section == entity.SectionCore {
		slug = item.Version
	}

	return &entity.RequestGroup{
		SourceName:    d.cfg.SourceName,
		Section:       section,
		Slug:          slug,
		StatusLocator: d.layout.StatusDoc(section, slug),
		Err:           detail,
	}
}

// fileNameFromURL extracts the stored file name from an upstream URL.
func fileNameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return path.Base(rawURL)
	}

	return path.Base(parsed.Path)
}

// extFromURL extracts a lowercase extension without the dot; it falls back
// to png for extension-less asset URLs.
func extFromURL(rawURL string) string {
	ext := strings.TrimPrefix(path.Ext(fileNameFromURL(rawURL)), ".")
	if ext == "" {
		return "png"
	}

	return strings.ToLower(ext)
}

// sortVersionsDesc orders version strings newest first. Dotted numeric parts
// compare numerically, anything else lexically.
func sortVersionsDesc(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})
}

func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	for i := 0; i < len(as) || i < len(bs); i++ {
		var ap, bp string
		if i < len(as) {
			ap = as[i]
		}
		if i < len(bs) {
			bp = bs[i]
		}

		an, aerr := strconv.Atoi(ap)
		bn, berr := strconv.Atoi(bp)
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				if an > bn {
					return 1
				}

				return -1
			}
		default:
			if ap != bp {
				if ap > bp {
					return 1
				}

				return -1
			}
		}
	}

	return 0
}

// allowedLocale applies the configured locale allow-list; an empty list
// allows everything.
func allowedLocale(locale string, allow []string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, tag := range allow {
		if strings.EqualFold(strings.ReplaceAll(tag, "-", "_"), locale) {
			return true
		}
	}

	return false
}

// translationEntries is the typed view of a translations document, decoded
// once at the cache boundary.
type translationEntries struct {
	Translations []struct {
		Language string `json:"language"`
		Version  string `json:"version"`
		Package  string `json:"package"`
	} `json:"translations"`
}

func decodeTranslations(raw []byte) (translationEntries, error) {
	var doc translationEntries
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("cannot decode translations document: %w", err)
	}

	return doc, nil
}

// translationEndpoints maps a section to its upstream translations API path.
var translationEndpoints = map[entity.Section]string{
	entity.SectionCore:   "/translations/core/1.0/",
	entity.SectionPlugin: "/translations/plugins/1.0/",
	entity.SectionTheme:  "/translations/themes/1.0/",
}

// addTranslations plans an item's per-locale translation packages and caches
// the translations document with its package links rewritten to the mirror.
// An unreachable translations endpoint degrades the item, never the run.
func (d *deps) addTranslations(ctx context.Context, g *entity.RequestGroup, section entity.Section, slug, version string, opt BuildOptions) error {
	query := url.Values{"slug": {slug}, "version": {version}}
	sourceURL := d.apiURL(translationEndpoints[section], query)
	rawLoc, migratedLoc := d.layout.TranslationPair(section, slug, sourceURL)

	res, err := d.cache.Probe(ctx, rawLoc, migratedLoc, d.translationsTransform(section, slug, version), opt.Force && opt.WithL10n)
	if err != nil {
		d.log.Warn("Cannot probe translations",
			slog.String("section", string(section)), slog.String("slug", slug), slog.Any("error", err))

		return nil
	}
	g.NoChanges = g.NoChanges && !res.Changed

	if err := d.cache.FilterLocales(rawLoc, migratedLoc, opt.Locales); err != nil {
		return err
	}

	entries, err := decodeTranslations(res.Raw)
	if err != nil {
		return nil
	}

	for _, entry := range entries.Translations {
		if !allowedLocale(entry.Language, opt.Locales) || entry.Package == "" {
			continue
		}
		g.Resources = append(g.Resources,
			d.layout.TranslationFile(section, slug, entryVersion(entry.Version, version), entry.Language, entry.Package, opt.MarkReadOnly))
	}

	return nil
}

// translationsTransform rewrites translation package links to the mirror's
// own address scheme. Entries name their own package version; fallbackVersion
// covers entries that omit it.
func (d *deps) translationsTransform(section entity.Section, slug, fallbackVersion string) metacache.Transform {
	return metacache.Transform{
		"translations": metacache.MapArray(func(entry json.RawMessage) (json.RawMessage, error) {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(entry, &fields); err != nil {
				return nil, err
			}

			var language, version string
			if raw, exists := fields["language"]; exists {
				if err := json.Unmarshal(raw, &language); err != nil {
					return nil, err
				}
			}
			if raw, exists := fields["version"]; exists {
				if err := json.Unmarshal(raw, &version); err != nil {
					return nil, err
				}
			}
			if language == "" {
				return entry, nil
			}

			mirrored := d.layout.TranslationFile(section, slug, entryVersion(version, fallbackVersion), language, "", false)
			packageURL, err := json.Marshal(mirrored.URL)
			if err != nil {
				return nil, err
			}
			fields["package"] = packageURL

			return json.Marshal(fields)
		}),
	}
}

func entryVersion(version, fallback string) string {
	if version == "" {
		return fallback
	}

	return version
}
