package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"wpmirror/internal/entity"
	"wpmirror/internal/metacache"
)

type pluginBuilder struct {
	*deps
}

func (b *pluginBuilder) Section() entity.Section {
	return entity.SectionPlugin
}

// pluginInfo is the typed view of a plugin information document, decoded
// once at the cache boundary. Downstream code never inspects the raw form.
type pluginInfo struct {
	Slug         string            `json:"slug"`
	Version      string            `json:"version"`
	DownloadLink string            `json:"download_link"`
	LastUpdated  string            `json:"last_updated"`
	Versions     map[string]string `json:"versions"`
	Screenshots  map[string]struct {
		Src string `json:"src"`
	} `json:"screenshots"`
}

func (b *pluginBuilder) ListItems(ctx context.Context, force bool) ([]Item, error) {
	query := url.Values{"action": {"query_plugins"}, "browse": {"updated"}}
	sourceURL := b.apiURL("/plugins/info/1.2/", query)
	rawLoc, migratedLoc := b.layout.ListDoc(entity.SectionPlugin, sourceURL)

	res, err := b.cache.Probe(ctx, rawLoc, migratedLoc, metacache.Transform{}, force)
	if err != nil {
		return nil, fmt.Errorf("cannot list plugins: %w", err)
	}

	var doc struct {
		Plugins []struct {
			Slug        string `json:"slug"`
			Version     string `json:"version"`
			LastUpdated string `json:"last_updated"`
		} `json:"plugins"`
	}
	if err := json.Unmarshal(res.Raw, &doc); err != nil {
		return nil, fmt.Errorf("cannot decode plugin listing: %w", err)
	}

	items := make([]Item, 0, len(doc.Plugins))
	for _, p := range doc.Plugins {
		if p.Slug == "" {
			continue
		}
		items = append(items, Item{Slug: p.Slug, Version: p.Version, Updated: p.LastUpdated})
	}

	return items, nil
}

// BuildGroup plans one plugin: the retained version archives as fixed
// resources, screenshots as live slots, and the migrated information
// document with its links rewritten to the mirror.
func (b *pluginBuilder) BuildGroup(ctx context.Context, item Item, opt BuildOptions) (*entity.RequestGroup, error) {
	g := &entity.RequestGroup{
		SourceName:    b.cfg.SourceName,
		Section:       entity.SectionPlugin,
		Slug:          item.Slug,
		StatusLocator: b.layout.StatusDoc(entity.SectionPlugin, item.Slug),
	}

	prior := b.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)

	query := url.Values{"action": {"plugin_information"}, "slug": {item.Slug}}
	sourceURL := b.apiURL("/plugins/info/1.2/", query)
	rawLoc, migratedLoc := b.layout.MetaPair(entity.SectionPlugin, item.Slug, sourceURL)

	res, err := b.cache.Probe(ctx, rawLoc, migratedLoc, b.infoTransform(item.Slug, prior.Live), opt.Force && opt.WithMeta)
	if err != nil {
		return b.abandoned(entity.SectionPlugin, item, fmt.Sprintf("cannot probe plugin information: %v", err)), nil
	}
	g.NoChanges = !res.Changed

	var info pluginInfo
	if err := json.Unmarshal(res.Raw, &info); err != nil {
		return b.abandoned(entity.SectionPlugin, item, fmt.Sprintf("cannot decode plugin information: %v", err)), nil
	}

	if info.Slug != item.Slug {
		return b.abandoned(entity.SectionPlugin, item,
			fmt.Sprintf("upstream answered for %q, requested %q", info.Slug, item.Slug)), nil
	}
	if info.DownloadLink == "" {
		return b.abandoned(entity.SectionPlugin, item, "plugin information has no download link"), nil
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
			b.layout.ArchiveFile(entity.SectionPlugin, item.Slug, fileNameFromURL(source), source, readOnly))
	}

	if opt.WithL10n {
		if err := b.addTranslations(ctx, g, entity.SectionPlugin, item.Slug, info.Version, opt); err != nil {
			return nil, err
		}
	}

	if opt.WithLive && (res.Changed || opt.Force) {
		for index, shot := range info.Screenshots {
			if shot.Src == "" {
				continue
			}
			g.Live = append(g.Live, entity.LiveRequest{
				Slot:         b.layout.ScreenshotSlot(entity.SectionPlugin, item.Slug, index, extFromURL(shot.Src)),
				SourceURL:    shot.Src,
				MiddleLength: b.cfg.Sync.StampLength,
			})
		}
	}

	return g, nil
}

// infoTransform is the migration table for plugin information documents:
// download links move to the mirror, rating counters are zeroed, the
// reviews section is stripped and screenshot links resolve to their current
// content-addressed names without any network access.
func (b *pluginBuilder) infoTransform(slug string, live map[string]entity.LiveFileSummary) metacache.Transform {
	rewriteArchive := metacache.MapString(func(source string) (string, error) {
		if source == "" {
			return source, nil
		}

		return b.layout.ArchiveFile(entity.SectionPlugin, slug, fileNameFromURL(source), "", false).URL, nil
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

			mirrored, err := json.Marshal(b.layout.ArchiveFile(entity.SectionPlugin, slug, fileNameFromURL(source), "", false).URL)

			return mirrored, true, err
		}),
		"ratings": metacache.MapMembers(func(string, json.RawMessage) (json.RawMessage, bool, error) {
			return json.RawMessage("0"), true, nil
		}),
		"num_ratings":              metacache.SetValue(0),
		"support_threads":          metacache.SetValue(0),
		"support_threads_resolved": metacache.SetValue(0),
		"active_installs":          metacache.SetValue(0),
		"sections": metacache.MapMembers(func(name string, value json.RawMessage) (json.RawMessage, bool, error) {
			if name == "reviews" {
				return nil, false, nil
			}

			return value, true, nil
		}),
		"screenshots": metacache.MapMembers(func(index string, value json.RawMessage) (json.RawMessage, bool, error) {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(value, &fields); err != nil {
				return nil, false, err
			}

			var src string
			if raw, exists := fields["src"]; exists {
				if err := json.Unmarshal(raw, &src); err != nil {
					return nil, false, err
				}
			}
			if src == "" {
				return value, true, nil
			}

			slot := b.layout.ScreenshotSlot(entity.SectionPlugin, slug, index, extFromURL(src))
			current, err := b.live.ResolveCurrent(slot, live)
			if err != nil {
				return nil, false, err
			}

			mirrored, err := json.Marshal(current)
			if err != nil {
				return nil, false, err
			}
			fields["src"] = mirrored

			out, err := json.Marshal(fields)

			return out, true, err
		}),
	}
}

// retainedVersions picks the archive versions kept for an item: the current
// version plus the newest others up to the limit. A non-positive limit
// keeps everything. The mutable trunk pointer is never mirrored.
func retainedVersions(current string, versions map[string]string, limit int) []string {
	var others []string
	for version := range versions {
		if version == "trunk" || version == current || version == "" {
			continue
		}
		others = append(others, version)
	}
	sortVersionsDesc(others)

	retained := []string{}
	if current != "" {
		retained = append(retained, current)
	}
	for _, version := range others {
		if limit > 0 && len(retained) >= limit {
			break
		}
		retained = append(retained, version)
	}

	return retained
}
