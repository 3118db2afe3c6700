package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"wpmirror/internal/entity"
	"wpmirror/internal/metacache"
)

type coreBuilder struct {
	*deps
}

func (b *coreBuilder) Section() entity.Section {
	return entity.SectionCore
}

// ListItems enumerates mirrored core versions from the cached version-check
// document.
func (b *coreBuilder) ListItems(ctx context.Context, force bool) ([]Item, error) {
	sourceURL := b.apiURL("/core/version-check/1.7/", nil)
	rawLoc, migratedLoc := b.layout.ListDoc(entity.SectionCore, sourceURL)

	res, err := b.cache.Probe(ctx, rawLoc, migratedLoc, metacache.Transform{}, force)
	if err != nil {
		return nil, fmt.Errorf("cannot list core versions: %w", err)
	}

	var doc struct {
		Offers []struct {
			Version string `json:"version"`
		} `json:"offers"`
	}
	if err := json.Unmarshal(res.Raw, &doc); err != nil {
		return nil, fmt.Errorf("cannot decode version-check document: %w", err)
	}

	seen := make(map[string]struct{})
	var items []Item
	for _, offer := range doc.Offers {
		if offer.Version == "" {
			continue
		}
		if _, dup := seen[offer.Version]; dup {
			continue
		}
		seen[offer.Version] = struct{}{}
		items = append(items, Item{Slug: offer.Version, Version: offer.Version})
	}

	return items, nil
}

// BuildGroup plans one core release: the fixed release archives with their
// digest sidecars, plus per-locale translation packages and the per-locale
// checksum, credits and importer documents for the release version.
func (b *coreBuilder) BuildGroup(ctx context.Context, item Item, opt BuildOptions) (*entity.RequestGroup, error) {
	version := item.Version
	g := &entity.RequestGroup{
		SourceName:    b.cfg.SourceName,
		Section:       entity.SectionCore,
		Slug:          version,
		StatusLocator: b.layout.StatusDoc(entity.SectionCore, version),
		NoChanges:     true,
	}

	downloadBase := b.cfg.Upstream.DownloadBaseURL
	for _, name := range coreArchiveNames(version) {
		source := downloadBase + "/release/" + name
		g.Resources = append(g.Resources,
			b.layout.ArchiveFile(entity.SectionCore, version, name, source, opt.MarkReadOnly))
	}

	if !opt.WithL10n {
		return g, nil
	}

	query := url.Values{"version": {version}}
	sourceURL := b.apiURL("/translations/core/1.0/", query)
	rawLoc, migratedLoc := b.layout.TranslationPair(entity.SectionCore, version, sourceURL)

	res, err := b.cache.Probe(ctx, rawLoc, migratedLoc, b.translationsTransform(entity.SectionCore, version, version), opt.Force && opt.WithL10n)
	if err != nil {
		return b.abandoned(entity.SectionCore, item, fmt.Sprintf("cannot probe translations: %v", err)), nil
	}
	g.NoChanges = g.NoChanges && !res.Changed

	if err := b.cache.FilterLocales(rawLoc, migratedLoc, opt.Locales); err != nil {
		return nil, err
	}

	entries, err := decodeTranslations(res.Raw)
	if err != nil {
		return b.abandoned(entity.SectionCore, item, err.Error()), nil
	}

	for _, entry := range entries.Translations {
		if !allowedLocale(entry.Language, opt.Locales) {
			continue
		}

		g.Resources = append(g.Resources,
			b.layout.TranslationFile(entity.SectionCore, version, entryVersion(entry.Version, version), entry.Language, entry.Package, opt.MarkReadOnly))

		for kind, endpoint := range coreSidecarEndpoints {
			q := url.Values{"version": {version}, "locale": {entry.Language}}
			g.Resources = append(g.Resources,
				b.layout.LocaleSidecar(version, entry.Language, kind, b.apiURL(endpoint, q)))
		}
	}

	return g, nil
}

var coreSidecarEndpoints = map[string]string{
	"checksums": "/core/checksums/1.0/",
	"credits":   "/core/credits/1.1/",
	"importers": "/core/importers/1.1/",
}

// coreArchiveNames lists the fixed release artifacts of a version: each
// archive flavor plus its md5 and sha1 sidecars.
func coreArchiveNames(version string) []string {
	bases := []string{
		"wordpress-" + version + ".zip",
		"wordpress-" + version + ".tar.gz",
		"wordpress-" + version + "-no-content.zip",
		"wordpress-" + version + "-new-bundled.zip",
	}

	names := make([]string, 0, len(bases)*3)
	for _, base := range bases {
		names = append(names, base, base+".md5", base+".sha1")
	}

	return names
}
