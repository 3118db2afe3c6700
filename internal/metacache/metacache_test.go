package metacache

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"wpmirror/internal/entity"
)

type testPaths struct{}

func (testPaths) LocalPath(host, relPath string) (string, error) {
	return "/data/" + host + "/" + relPath, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func probeLocs(sourceURL string) (raw, migrated entity.ResourceLocator) {
	raw = entity.ResourceLocator{Host: "meta", Path: "plugin/ak/akismet/akismet.info.orig.json", SourceURL: sourceURL}
	migrated = entity.ResourceLocator{Host: "meta", Path: "plugin/ak/akismet/akismet.info.json"}

	return raw, migrated
}

func TestProbeFetchesAndMigrates(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"slug":"akismet","rating":92,"download_link":"https://upstream.example/akismet.zip"}`))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	cache := NewWithFS(fs, testPaths{}, 5*time.Second, testLogger())
	rawLoc, migratedLoc := probeLocs(srv.URL)

	tr := Transform{
		"rating": SetValue(0),
		"download_link": MapString(func(string) (string, error) {
			return "https://mirror.example/akismet.zip", nil
		}),
	}

	res, err := cache.Probe(context.Background(), rawLoc, migratedLoc, tr, false)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.EqualValues(t, 1, requests.Load())

	require.JSONEq(t,
		`{"slug":"akismet","rating":92,"download_link":"https://upstream.example/akismet.zip"}`,
		string(res.Raw), "raw form stays verbatim")
	require.JSONEq(t,
		`{"slug":"akismet","rating":0,"download_link":"https://mirror.example/akismet.zip"}`,
		string(res.Migrated))

	persisted, err := afero.ReadFile(fs, "/data/meta/plugin/ak/akismet/akismet.info.json")
	require.NoError(t, err)
	require.Equal(t, string(res.Migrated), string(persisted))
}

func TestProbeCachedZeroNetwork(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"slug":"akismet"}`))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	cache := NewWithFS(fs, testPaths{}, 5*time.Second, testLogger())
	rawLoc, migratedLoc := probeLocs(srv.URL)

	_, err := cache.Probe(context.Background(), rawLoc, migratedLoc, Transform{}, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, requests.Load())

	res, err := cache.Probe(context.Background(), rawLoc, migratedLoc, Transform{}, false)
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.EqualValues(t, 1, requests.Load(), "a fresh cache answers without a fetch")
}

func TestProbeForceRefetches(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"slug":"akismet"}`))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	cache := NewWithFS(fs, testPaths{}, 5*time.Second, testLogger())
	rawLoc, migratedLoc := probeLocs(srv.URL)

	_, err := cache.Probe(context.Background(), rawLoc, migratedLoc, Transform{}, false)
	require.NoError(t, err)

	res, err := cache.Probe(context.Background(), rawLoc, migratedLoc, Transform{}, true)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.EqualValues(t, 2, requests.Load())
}

func TestProbeCorruptCacheRedoes(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"slug":"akismet"}`))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs,
		"/data/meta/plugin/ak/akismet/akismet.info.json", []byte("{truncated"), 0o644))
	require.NoError(t, afero.WriteFile(fs,
		"/data/meta/plugin/ak/akismet/akismet.info.orig.json", []byte(`{"slug":"akismet"}`), 0o644))

	cache := NewWithFS(fs, testPaths{}, 5*time.Second, testLogger())
	rawLoc, migratedLoc := probeLocs(srv.URL)

	res, err := cache.Probe(context.Background(), rawLoc, migratedLoc, Transform{}, false)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.EqualValues(t, 1, requests.Load(), "a corrupt cached form reads as absent")
}

func TestProbeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewWithFS(afero.NewMemMapFs(), testPaths{}, 5*time.Second, testLogger())
	rawLoc, migratedLoc := probeLocs(srv.URL)

	_, err := cache.Probe(context.Background(), rawLoc, migratedLoc, Transform{}, false)
	require.Error(t, err)
}

func TestMigratePreservesFieldOrder(t *testing.T) {
	raw := []byte(`{"zeta":1,"alpha":2,"mid":3}`)

	out, err := Migrate(raw, Transform{"mid": SetValue("x")})
	require.NoError(t, err)
	require.Equal(t, `{"zeta":1,"alpha":2,"mid":"x"}`, string(out))
}

func TestMigrateDrop(t *testing.T) {
	raw := []byte(`{"keep":1,"gone":2}`)

	out, err := Migrate(raw, Transform{"gone": Drop()})
	require.NoError(t, err)
	require.Equal(t, `{"keep":1}`, string(out))
}

func TestMigrateMapMembers(t *testing.T) {
	raw := []byte(`{"ratings":{"5":120,"4":30,"1":7}}`)

	zero := MapMembers(func(name string, _ json.RawMessage) (json.RawMessage, bool, error) {
		return json.RawMessage("0"), true, nil
	})

	out, err := Migrate(raw, Transform{"ratings": zero})
	require.NoError(t, err)
	require.Equal(t, `{"ratings":{"5":0,"4":0,"1":0}}`, string(out))
}

func TestFilterLocales(t *testing.T) {
	doc := `{"translations":[` +
		`{"language":"de_DE","package":"https://mirror.example/de.zip"},` +
		`{"language":"fr_FR","package":"https://mirror.example/fr.zip"},` +
		`{"language":"pt_BR","package":"https://mirror.example/pt.zip"}]}`

	fs := afero.NewMemMapFs()
	rawLoc := entity.ResourceLocator{Host: "meta", Path: "core/6.5/translations.orig.json"}
	migratedLoc := entity.ResourceLocator{Host: "meta", Path: "core/6.5/translations.json"}
	require.NoError(t, afero.WriteFile(fs, "/data/meta/core/6.5/translations.orig.json", []byte(doc), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/meta/core/6.5/translations.json", []byte(doc), 0o644))

	cache := NewWithFS(fs, testPaths{}, 5*time.Second, testLogger())
	require.NoError(t, cache.FilterLocales(rawLoc, migratedLoc, []string{"de-DE", "pt_BR"}))

	narrowed, err := afero.ReadFile(fs, "/data/meta/core/6.5/translations.json")
	require.NoError(t, err)
	require.Contains(t, string(narrowed), "de_DE")
	require.Contains(t, string(narrowed), "pt_BR")
	require.NotContains(t, string(narrowed), "fr_FR")
}

func TestFilterLocalesEmptyAllowKeepsAll(t *testing.T) {
	doc := `{"translations":[{"language":"de_DE"}]}`

	fs := afero.NewMemMapFs()
	rawLoc := entity.ResourceLocator{Host: "meta", Path: "core/6.5/translations.orig.json"}
	migratedLoc := entity.ResourceLocator{Host: "meta", Path: "core/6.5/translations.json"}
	require.NoError(t, afero.WriteFile(fs, "/data/meta/core/6.5/translations.json", []byte(doc), 0o644))

	cache := NewWithFS(fs, testPaths{}, 5*time.Second, testLogger())
	require.NoError(t, cache.FilterLocales(rawLoc, migratedLoc, nil))

	content, err := afero.ReadFile(fs, "/data/meta/core/6.5/translations.json")
	require.NoError(t, err)
	require.Equal(t, doc, string(content))
}

func TestCanonicalLocale(t *testing.T) {
	require.Equal(t, canonicalLocale("de_DE"), canonicalLocale("de-DE"))
	require.Equal(t, canonicalLocale("PT_br"), canonicalLocale("pt-BR"))
	require.NotEqual(t, canonicalLocale("de-DE"), canonicalLocale("de-AT"))
}
