package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"wpmirror/internal/entity"
	"wpmirror/internal/liveasset"
	"wpmirror/internal/state"
	"wpmirror/internal/transfer"
)

type testPaths struct{}

func (testPaths) LocalPath(host, relPath string) (string, error) {
	return "/data/" + host + "/" + relPath, nil
}

func (testPaths) FileURL(host, relPath string) (string, error) {
	return "https://" + host + ".mirror.example/" + relPath, nil
}

func (testPaths) SinkKey(host, relPath string) string {
	return host + "/" + relPath
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type harness struct {
	fs       afero.Fs
	syncer   *Syncer
	store    *state.Store
	requests *atomic.Int32
	srv      *httptest.Server
}

// newHarness wires a syncer over a memory filesystem and a test server that
// serves content derived from the request path, with selectable failures.
func newHarness(t *testing.T, failPaths ...string) *harness {
	t.Helper()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		for _, bad := range failPaths {
			if strings.HasSuffix(r.URL.Path, bad) {
				w.WriteHeader(http.StatusNotFound)

				return
			}
		}
		_, _ = fmt.Fprintf(w, "content of %s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	fs := afero.NewMemMapFs()
	log := testLogger()
	paths := testPaths{}

	fetcher := transfer.NewWithFS(fs, paths, 5*time.Second, log)
	live := liveasset.NewWithFS(fs, paths, 5*time.Second, log)
	store := state.NewWithFS(fs, paths, log)

	return &harness{
		fs:       fs,
		syncer:   New(fetcher, live, store, paths, nil, 4, log),
		store:    store,
		requests: &requests,
		srv:      srv,
	}
}

// coreGroup plans a release with twelve fixed archives and five translation
// packages, seventeen keys in all.
func (h *harness) coreGroup() *entity.RequestGroup {
	g := &entity.RequestGroup{
		SourceName:    "source",
		Section:       entity.SectionCore,
		Slug:          "6.6.2",
		StatusLocator: entity.ResourceLocator{Host: "meta", Path: "status/core/6.6.2.json"},
	}

	var names []string
	for _, base := range []string{"wordpress-6.6.2.zip", "wordpress-6.6.2.tar.gz", "wordpress-6.6.2-no-content.zip", "wordpress-6.6.2-new-bundled.zip"} {
		names = append(names, base, base+".md5", base+".sha1")
	}
	for _, locale := range []string{"de_DE", "fr_FR", "es_ES", "pt_BR", "ja"} {
		names = append(names, "l10n/6.6.2-"+locale+".zip")
	}

	for _, name := range names {
		g.Resources = append(g.Resources, entity.ResourceLocator{
			Host:      "files",
			Path:      "core/6.6.2/" + name,
			SourceURL: h.srv.URL + "/" + name,
		})
	}

	return g
}

func TestSyncGroupCompletesAllKeys(t *testing.T) {
	h := newHarness(t)
	g := h.coreGroup()
	require.Len(t, g.Keys(), 17)

	res, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)
	require.Equal(t, StateComplete, res.State)
	require.Equal(t, 17, res.Downloaded)
	require.Zero(t, res.FailedFiles)
	require.EqualValues(t, 17, h.requests.Load())

	st := h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	require.True(t, st.IsComplete)
	require.True(t, st.AllComplete(g.Keys()))
	for _, key := range g.Keys() {
		require.True(t, st.Files[key].HasDigests(), key)
	}
}

func TestSyncGroupSkipsCompleteWithZeroNetwork(t *testing.T) {
	h := newHarness(t)
	g := h.coreGroup()

	_, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)
	h.requests.Store(0)

	res, err := h.syncer.SyncGroup(context.Background(), h.coreGroup(), Options{})
	require.NoError(t, err)
	require.Equal(t, StateSkippedComplete, res.State)
	require.Zero(t, res.Downloaded)
	require.EqualValues(t, 0, h.requests.Load(), "a complete group is skipped without any fetch")
}

func TestSyncGroupClearedDigest(t *testing.T) {
	h := newHarness(t)
	g := h.coreGroup()

	_, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)

	// Drop one translation's digests from the persisted document.
	brokenKey := "files:core/6.6.2/l10n/6.6.2-ja.zip"
	st := h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	sum := st.Files[brokenKey]
	sum.MD5, sum.SHA1, sum.SHA256 = "", "", ""
	st.Files[brokenKey] = sum
	require.NoError(t, h.store.Save(st, g.StatusLocator))
	h.requests.Store(0)

	// Without rehash the group still reads complete and is left untouched.
	res, err := h.syncer.SyncGroup(context.Background(), h.coreGroup(), Options{})
	require.NoError(t, err)
	require.Equal(t, StateSkippedComplete, res.State)
	require.EqualValues(t, 0, h.requests.Load())

	// Rehash restores the digests from disk without refetching anything.
	res, err = h.syncer.SyncGroup(context.Background(), h.coreGroup(), Options{Rehash: true})
	require.NoError(t, err)
	require.Equal(t, StateComplete, res.State)
	require.EqualValues(t, 0, h.requests.Load(), "rehash reads from disk, not upstream")

	st = h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	require.True(t, st.Files[brokenKey].HasDigests())
}

func TestSyncGroupPartialFailure(t *testing.T) {
	h := newHarness(t, "wordpress-6.6.2-new-bundled.zip.sha1")
	g := h.coreGroup()

	res, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)
	require.Equal(t, StateIncomplete, res.State)
	require.Equal(t, 16, res.Downloaded)
	require.Equal(t, 1, res.FailedFiles)

	st := h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	require.False(t, st.IsComplete)
	require.Equal(t, []string{"files:core/6.6.2/wordpress-6.6.2-new-bundled.zip.sha1"}, st.FailedKeys())
}

func TestSyncGroupRetryAfterFailure(t *testing.T) {
	h := newHarness(t, "wordpress-6.6.2.zip.md5")
	g := h.coreGroup()

	_, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)

	// Upstream recovers; only the failed file is fetched on the next run.
	hRecovered := newHarnessSameFS(t, h)

	res, err := hRecovered.syncer.SyncGroup(context.Background(), hRecovered.coreGroup(), Options{})
	require.NoError(t, err)
	require.Equal(t, StateComplete, res.State)
	require.Equal(t, 1, res.Downloaded)
	require.Equal(t, 16, res.SkippedFiles)
	require.EqualValues(t, 1, hRecovered.requests.Load())
}

// newHarnessSameFS rebuilds the syncer over an existing harness's filesystem
// with a healthy upstream server.
func newHarnessSameFS(t *testing.T, prior *harness) *harness {
	t.Helper()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = fmt.Fprintf(w, "content of %s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	log := testLogger()
	paths := testPaths{}
	fetcher := transfer.NewWithFS(prior.fs, paths, 5*time.Second, log)
	live := liveasset.NewWithFS(prior.fs, paths, 5*time.Second, log)
	store := state.NewWithFS(prior.fs, paths, log)

	return &harness{
		fs:       prior.fs,
		syncer:   New(fetcher, live, store, paths, nil, 4, log),
		store:    store,
		requests: &requests,
		srv:      srv,
	}
}

func TestSyncGroupAbandonedRecordsError(t *testing.T) {
	h := newHarness(t)

	_, err := h.syncer.SyncGroup(context.Background(), h.coreGroup(), Options{})
	require.NoError(t, err)

	g := h.coreGroup()
	g.Err = "upstream listed a different slug"

	res, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)
	require.Equal(t, StateIncomplete, res.State)
	require.Equal(t, g.Err, res.Err)
	require.EqualValues(t, 17, h.requests.Load(), "an abandoned group downloads nothing")

	// The document carries the recorded error; everything else survives.
	st := h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	require.Equal(t, g.Err, st.Err)
	require.True(t, st.IsComplete)
	require.Len(t, st.Files, 17)

	// The next successful run clears it again.
	_, err = h.syncer.SyncGroup(context.Background(), h.coreGroup(), Options{Force: true})
	require.NoError(t, err)
	st = h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	require.Empty(t, st.Err)
}

func TestSyncGroupAbandonedFreshItem(t *testing.T) {
	h := newHarness(t)
	g := h.coreGroup()
	g.Err = "plugin information has no download link"

	_, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 0, h.requests.Load())

	st := h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	require.Equal(t, g.Err, st.Err)
	require.False(t, st.IsComplete)
	require.Empty(t, st.Files)
}

func TestSyncGroupCancelledWritesNothing(t *testing.T) {
	h := newHarness(t)
	g := h.coreGroup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.syncer.SyncGroup(ctx, g, Options{})
	require.NoError(t, err)
	require.Equal(t, StateIncomplete, res.State)

	exists, err := afero.Exists(h.fs, "/data/meta/status/core/6.6.2.json")
	require.NoError(t, err)
	require.False(t, exists, "a cancelled run leaves the previous document in place")
}

func TestSyncGroupPruneMarksUnplanned(t *testing.T) {
	h := newHarness(t)
	g := h.coreGroup()

	_, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)

	// The next plan no longer carries the last translation.
	smaller := h.coreGroup()
	dropped := smaller.Resources[len(smaller.Resources)-1]
	smaller.Resources = smaller.Resources[:len(smaller.Resources)-1]

	res, err := h.syncer.SyncGroup(context.Background(), smaller, Options{Force: true, Prune: true})
	require.NoError(t, err)
	require.Equal(t, StateComplete, res.State)

	st := h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	require.Equal(t, entity.StatusUninteresting, st.Files[dropped.Key()].Status)
	require.True(t, st.IsComplete, "an uninteresting key does not block completion")
}

func TestSyncGroupWithLiveAssets(t *testing.T) {
	h := newHarness(t)
	g := h.coreGroup()
	g.Live = []entity.LiveRequest{{
		Slot:         entity.LiveSlot{Host: "files", Dir: "core/6.6.2/screenshots", Front: "screenshot-1", Ext: "png"},
		SourceURL:    h.srv.URL + "/screenshot-1.png",
		MiddleLength: 8,
	}}

	res, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)
	require.Equal(t, StateComplete, res.State)
	require.Equal(t, 1, res.LiveStored)

	st := h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	require.Equal(t, 1, st.NextGeneration)
	require.Len(t, st.Live, 1)
}

func TestSyncGroupUpdatedMarker(t *testing.T) {
	h := newHarness(t)
	g := h.coreGroup()
	g.Updated = "2026-08-20 9:00am GMT"

	_, err := h.syncer.SyncGroup(context.Background(), g, Options{})
	require.NoError(t, err)

	st := h.store.Load(g.StatusLocator, g.SourceName, g.Section, g.Slug)
	require.Equal(t, g.Updated, st.Updated)
}
