package entity

import "fmt"

const (
	SectionCore   Section = "core"
	SectionPlugin Section = "plugin"
	SectionTheme  Section = "theme"
)

// Section is the catalog kind an item belongs to.
type Section string

func ParseSection(s string) (Section, error) {
	switch Section(s) {
	case SectionCore, SectionPlugin, SectionTheme:
		return Section(s), nil
	}

	return "", fmt.Errorf("unknown section: %q", s)
}

// ResourceLocator identifies one fixed-content resource: where its bytes live
// upstream, where they are stored under a logical host and how the stored
// copy is reached on the mirror. Built by the layout package, immutable after
// construction.
type ResourceLocator struct {
	Host      string // logical host tag, resolved by layout
	Path      string // storage path relative to the host root
	URL       string // externally reachable mirror URL
	SourceURL string // upstream URL; empty for local-only artifacts
	ReadOnly  bool
}

// Key is the combined host+path identity used in status documents.
func (l ResourceLocator) Key() string {
	return l.Host + ":" + l.Path
}

// LocalOnly reports whether the resource is produced by the mirror itself
// and has nothing to fetch.
func (l ResourceLocator) LocalOnly() bool {
	return l.SourceURL == ""
}

// LiveSlot identifies a mutable asset. Its stored name depends on the
// content hash, so only the name-independent parts are known up front.
type LiveSlot struct {
	Host  string
	Dir   string
	Front string
	Ext   string
}

// FileName builds the stored name for a content stamp. An empty stamp yields
// the unstamped literal name.
func (s LiveSlot) FileName(stamp string) string {
	if stamp == "" {
		return s.Front + "." + s.Ext
	}

	return s.Front + "-" + stamp + "." + s.Ext
}

// RelPath is the storage path of the named variant relative to the host root.
func (s LiveSlot) RelPath(stamp string) string {
	return s.Dir + "/" + s.FileName(stamp)
}

// Key is the status-document key of the named variant.
func (s LiveSlot) Key(stamp string) string {
	return s.Host + ":" + s.RelPath(stamp)
}
