package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"wpmirror/internal/entity"
	"wpmirror/internal/metacache"
)

type themeBuilder struct {
	*deps
}

func (b *themeBuilder) Section() entity.Section {
	return entity.SectionTheme
}

// themeInfo is the typed view of a theme information document.
type themeInfo struct {
	Slug          string            `json:"slug"`
	Version       string            `json:"version"`
	DownloadLink  string            `json:"download_link"`
	LastUpdated   string            `json:"last_updated"`
	Versions      map[string]string `json:"versions"`
	ScreenshotURL string            `json:"screenshot_url"`
}

func (b *themeBuilder) ListItems(ctx context.Context, force bool) ([]Item, error) {
	query := url.Values{"action": {"query_themes"}, "browse": {"updated"}}
	sourceURL := b.apiURL("/themes/info/1.2/", query)
	rawLoc, migratedLoc := b.layout.ListDoc(entity.SectionTheme, sourceURL)

	res, err := b.cache.Probe(ctx, rawLoc, migratedLoc, metacache.Transform{}, force)
	if err != nil {
		return nil, fmt.Errorf("cannot list themes: %w", err)
	}

	var doc struct {
		Themes []struct {
			Slug        string `json:"slug"`
			Version     string `json:"version"`
			LastUpdated string `json:"last_updated"`
		} `json:"themes"`
	}
	if err := json.Unmarshal(res.Raw, &doc); err != nil {
		return nil, fmt.Errorf("cannot decode theme listing: %w", err)
	}

	items := make([]Item, 0, len(doc.Themes))
	for _, t := range doc.Themes {
		if t.Slug == "" {
			continue
		}
		items = append(items, Item{Slug: t.Slug, Version: t.Version, Updated: t.LastUpdated})
	}

	return items, nil
}

// BuildGroup plans one theme: retained version archives, per-locale
// translation packages and the preview screenshot as a content-addressed
// live slot.
func (b *themeBuilder) BuildGroup(ctx context.Context, item Item, opt BuildOptions) (*entity.RequestGroup, error) {
	g := &entity.RequestGroup{
		SourceName:    b.cfg.SourceName,
		Section:       entity.SectionTheme,
		Slug:          item.Slug,
		StatusLocator: b.layout.StatusDoc(entity.SectionTheme, item.Slug),
	}

	prior := b.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)

	query := url.Values{"action": {"theme_information"}, "slug": {item.Slug}}
	sourceURL := b.apiURL("/themes/info/1.2/", query)
	rawLoc, migratedLoc := b.layout.MetaPair(entity.SectionTheme, item.Slug, sourceURL)

	res, err := b.cache.Probe(ctx, rawLoc, migratedLoc, b.infoTransform(item.Slug, prior.Live), opt.Force && opt.WithMeta)
	if err != nil {
		return b.abandoned(entity.SectionTheme, item, fmt.Sprintf("cannot probe theme information: %v", err)), nil
	}
	g.NoChanges = !res.Changed

	var info themeInfo
	if err := json.Unmarshal(res.Raw, &info); err != nil {
		return b.abandoned(entity.SectionTheme, item, fmt.Sprintf("cannot decode theme information: %v", err)), nil
	}

	if info.Slug != item.Slug {
		return b.abandoned(entity.SectionTheme, item,
			fmt.Sprintf("upstream answered for %q, requested %q", info.Slug, item.Slug)), nil
	}
	if info.DownloadLink == "" {
		return b.abandoned(entity.SectionTheme, item, "theme information has no download link"), nil
	}

	g.Updated = info.LastUpdated

	for _, version := range retainedVersions(info.Version, info.Versions, opt.KeepVersions) {
		source := info.Versions[version]
		if version == info.Version && source == "" {
			source = info.DownloadLink
		}
		if source == "" {
			continue
		}

		readOnly := opt.MarkReadOnly && version != info.Version
		g.Resources = append(g.Resources,
			b.layout.ArchiveFile(entity.SectionTheme, item.Slug, fileNameFromURL(source), source, readOnly))
	}

	if opt.WithL10n {
		if err := b.addTranslations(ctx, g, entity.SectionTheme, item.Slug, info.Version, opt); err != nil {
			return nil, err
		}
	}

	if opt.WithLive && info.ScreenshotURL != "" && (res.Changed || opt.Force) {
		g.Live = append(g.Live, entity.LiveRequest{
			Slot:         b.layout.ScreenshotSlot(entity.SectionTheme, item.Slug, "preview", extFromURL(info.ScreenshotURL)),
			SourceURL:    info.ScreenshotURL,
			MiddleLength: b.cfg.Sync.StampLength,
		})
	}

	return g, nil
}

func (b *themeBuilder) infoTransform(slug string, live map[string]entity.LiveFileSummary) metacache.Transform {
	rewriteArchive := metacache.MapString(func(source string) (string, error) {
		if source == "" {
			return source, nil
		}

		return b.layout.ArchiveFile(entity.SectionTheme, slug, fileNameFromURL(source), "", false).URL, nil
	})

	return metacache.Transform{
		"download_link": rewriteArchive,
		"versions": metacache.MapMembers(func(version string, value json.RawMessage) (json.RawMessage, bool, error) {
			var source string
			if err := json.Unmarshal(value, &source); err != nil {
				return nil, false, err
			}
			if source == "" {
				return value, true, nil
			}

			mirrored, err := json.Marshal(b.layout.ArchiveFile(entity.SectionTheme, slug, fileNameFromURL(source), "", false).URL)

			return mirrored, true, err
		}),
		"ratings":     metacache.SetValue(0),
		"num_ratings": metacache.SetValue(0),
		"reviews_url": metacache.Drop(),
		"screenshot_url": metacache.MapString(func(source string) (string, error) {
			if source == "" {
				return source, nil
			}

			slot := b.layout.ScreenshotSlot(entity.SectionTheme, slug, "preview", extFromURL(source))

			return b.live.ResolveCurrent(slot, live)
		}),
	}
}
