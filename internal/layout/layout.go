// Package layout is the only place storage paths and mirror URLs are built.
// Every mapping is a pure function of the configured hosts plus the item
// identity; the engine itself never constructs paths.
package layout

import (
	"fmt"
	"strings"

	"wpmirror/internal/common"
	"wpmirror/internal/config"
	"wpmirror/internal/entity"
)

const (
	HostFiles = "files"
	HostMeta  = "meta"
)

type Layout struct {
	cfg *config.LayoutConfig
}

func New(cfg *config.LayoutConfig) (*Layout, error) {
	for _, tag := range []string{HostFiles, HostMeta} {
		if _, exists := cfg.Hosts[tag]; !exists {
			return nil, fmt.Errorf("%w: %s", common.ErrUnknownHost, tag)
		}
	}

	return &Layout{cfg: cfg}, nil
}

// FileURL is the externally reachable URL of a stored path.
func (l *Layout) FileURL(host, relPath string) (string, error) {
	hc, exists := l.cfg.Hosts[host]
	if !exists {
		return "", fmt.Errorf("%w: %s", common.ErrUnknownHost, host)
	}

	return strings.TrimRight(hc.BaseURL, "/") + "/" + relPath, nil
}

// LocalPath is the absolute storage path of a stored path. A host without a
// storage root cannot be written to; that is a configuration error.
func (l *Layout) LocalPath(host, relPath string) (string, error) {
	hc, exists := l.cfg.Hosts[host]
	if !exists {
		return "", fmt.Errorf("%w: %s", common.ErrUnknownHost, host)
	}
	if hc.Root == "" {
		return "", fmt.Errorf("%w: %s", common.ErrNoStorageRoot, host)
	}

	return strings.TrimRight(hc.Root, "/") + "/" + relPath, nil
}

// SinkKey is the object-store key of a stored path, prefixed with the host's
// sink id when one is configured.
func (l *Layout) SinkKey(host, relPath string) string {
	if hc, exists := l.cfg.Hosts[host]; exists && hc.SinkID != "" {
		return hc.SinkID + "/" + relPath
	}

	return host + "/" + relPath
}

// Shard buckets a slug into a short directory prefix so large catalogs do
// not collapse into one flat directory. Slugs that do not start with an
// ASCII letter or digit land in the non-ASCII bucket.
func (l *Layout) Shard(section entity.Section, slug string) string {
	n := l.cfg.ShardPrefixLen[string(section)]
	if n <= 0 || slug == "" {
		return ""
	}

	runes := []rune(strings.ToLower(slug))
	if !isASCIIWord(runes[0]) {
		return "_" + l.cfg.NonASCIIBucket
	}

	if len(runes) > n {
		runes = runes[:n]
	}
	for _, r := range runes {
		if !isASCIIWord(r) {
			return "_" + l.cfg.NonASCIIBucket
		}
	}

	return string(runes)
}

func isASCIIWord(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

// itemDir is the storage directory of one catalog item.
func (l *Layout) itemDir(section entity.Section, slug string) string {
	if shard := l.Shard(section, slug); shard != "" {
		return fmt.Sprintf("%s/%s/%s", section, shard, slug)
	}

	return fmt.Sprintf("%s/%s", section, slug)
}

func (l *Layout) locator(host, relPath, sourceURL string, readOnly bool) entity.ResourceLocator {
	url, err := l.FileURL(host, relPath)
	if err != nil {
		// Hosts are validated in New; an unknown tag here cannot happen.
		url = relPath
	}

	return entity.ResourceLocator{
		Host:      host,
		Path:      relPath,
		URL:       url,
		SourceURL: sourceURL,
		ReadOnly:  readOnly,
	}
}

// ArchiveFile locates one fixed-content archive file of an item.
func (l *Layout) ArchiveFile(section entity.Section, slug, name, sourceURL string, readOnly bool) entity.ResourceLocator {
	return l.locator(HostFiles, l.itemDir(section, slug)+"/"+name, sourceURL, readOnly)
}

// StatusDoc locates the persisted synchronization state of an item. Status
// documents are local-only artifacts.
func (l *Layout) StatusDoc(section entity.Section, slug string) entity.ResourceLocator {
	return l.locator(HostMeta, "status/"+l.itemDir(section, slug)+".json", "", false)
}

// MetaPair locates the raw and migrated cached forms of an item's upstream
// metadata document.
func (l *Layout) MetaPair(section entity.Section, slug, sourceURL string) (raw, migrated entity.ResourceLocator) {
	base := "cache/" + l.itemDir(section, slug)
	raw = l.locator(HostMeta, base+".json", sourceURL, false)
	migrated = l.locator(HostMeta, base+".migrated.json", "", false)

	return raw, migrated
}

// ListDoc locates the cached catalog listing of a section.
func (l *Layout) ListDoc(section entity.Section, sourceURL string) (raw, migrated entity.ResourceLocator) {
	base := fmt.Sprintf("cache/%s/index", section)
	raw = l.locator(HostMeta, base+".json", sourceURL, false)
	migrated = l.locator(HostMeta, base+".migrated.json", "", false)

	return raw, migrated
}

// TranslationPair locates the raw and migrated cached forms of an item's
// translations document.
func (l *Layout) TranslationPair(section entity.Section, slug, sourceURL string) (raw, migrated entity.ResourceLocator) {
	base := "cache/" + l.itemDir(section, slug) + ".l10n"
	raw = l.locator(HostMeta, base+".json", sourceURL, false)
	migrated = l.locator(HostMeta, base+".migrated.json", "", false)

	return raw, migrated
}

// TranslationFile locates one locale's translation package.
func (l *Layout) TranslationFile(section entity.Section, slug, version, locale, sourceURL string, readOnly bool) entity.ResourceLocator {
	name := fmt.Sprintf("l10n/%s-%s.zip", version, locale)

	return l.locator(HostFiles, l.itemDir(section, slug)+"/"+name, sourceURL, readOnly)
}

// LocaleSidecar locates one per-locale JSON sidecar of a core release, such
// as the checksums, credits or importers document for a version.
func (l *Layout) LocaleSidecar(version, locale, kind, sourceURL string) entity.ResourceLocator {
	name := fmt.Sprintf("l10n/%s-%s.json", kind, locale)

	return l.locator(HostFiles, l.itemDir(entity.SectionCore, version)+"/"+name, sourceURL, false)
}

// ScreenshotSlot locates the content-addressed slot of one screenshot. The
// stored name is unknown until the bytes are fetched.
func (l *Layout) ScreenshotSlot(section entity.Section, slug, index, ext string) entity.LiveSlot {
	return entity.LiveSlot{
		Host:  HostFiles,
		Dir:   l.itemDir(section, slug) + "/screenshots",
		Front: "screenshot-" + index,
		Ext:   ext,
	}
}

// IndexPage locates the generated mirror index page.
func (l *Layout) IndexPage(name string) entity.ResourceLocator {
	return l.locator(HostMeta, name, "", false)
}
