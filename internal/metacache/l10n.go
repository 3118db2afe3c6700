package metacache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/language"

	"wpmirror/internal/entity"
)

const translationsField = "translations"

// FilterLocales narrows the translations array of both cached forms of a
// translations document to the allow-list and re-persists them. Locale tags
// are canonicalized on both sides, so `de_DE` in the document matches
// `de-DE` in the configuration. An empty allow-list keeps everything.
func (c *Cache) FilterLocales(rawLoc, migratedLoc entity.ResourceLocator, allow []string) error {
	if len(allow) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allow))
	for _, tag := range allow {
		allowed[canonicalLocale(tag)] = struct{}{}
	}

	for _, loc := range []entity.ResourceLocator{rawLoc, migratedLoc} {
		path, err := c.paths.LocalPath(loc.Host, loc.Path)
		if err != nil {
			return fmt.Errorf("cannot resolve translations cache path: %w", err)
		}

		content, err := afero.ReadFile(c.fs, path)
		if err != nil {
			// Nothing cached for this form, nothing to narrow.
			continue
		}

		narrowed, kept, total, err := filterTranslations(content, allowed)
		if err != nil {
			c.log.Warn("Translations document is unreadable, leaving it untouched",
				slog.String("key", loc.Key()), slog.Any("error", err))

			continue
		}

		if err := c.persist(path, narrowed); err != nil {
			return err
		}

		c.log.Info("Narrowed translations document",
			slog.String("key", loc.Key()),
			slog.Int("kept", kept),
			slog.Int("total", total))
	}

	return nil
}

func filterTranslations(content []byte, allowed map[string]struct{}) ([]byte, int, int, error) {
	doc, err := parseDocument(content)
	if err != nil {
		return nil, 0, 0, err
	}

	kept, total := 0, 0
	out := make(document, 0, len(doc))
	for _, m := range doc {
		if m.name != translationsField {
			out = append(out, m)

			continue
		}

		var entries []json.RawMessage
		if err := json.Unmarshal(m.value, &entries); err != nil {
			return nil, 0, 0, fmt.Errorf("translations field is not an array: %w", err)
		}

		total = len(entries)
		filtered := make([]json.RawMessage, 0, len(entries))
		for _, entry := range entries {
			var header struct {
				Language string `json:"language"`
			}
			if err := json.Unmarshal(entry, &header); err != nil {
				return nil, 0, 0, fmt.Errorf("cannot read translation entry: %w", err)
			}

			if _, ok := allowed[canonicalLocale(header.Language)]; ok {
				filtered = append(filtered, entry)
			}
		}
		kept = len(filtered)

		value, err := json.Marshal(filtered)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("cannot marshal translations: %w", err)
		}

		out = append(out, member{name: translationsField, value: value})
	}

	result, err := out.marshal()

	return result, kept, total, err
}

// canonicalLocale normalizes a locale tag for comparison. Upstream uses
// underscore forms like de_DE; configuration may use BCP 47.
func canonicalLocale(tag string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")

	parsed, err := language.Parse(normalized)
	if err != nil {
		return strings.ToLower(normalized)
	}

	return strings.ToLower(parsed.String())
}
