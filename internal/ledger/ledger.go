// Package ledger keeps a best-effort redis record of synchronized items, so
// "what is already mirrored" can be answered without scanning thousands of
// status documents. The ledger is optional and purely advisory: every
// failure here is logged and swallowed, local synchronization is the source
// of truth.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"wpmirror/internal/common"
	"wpmirror/internal/entity"
	"wpmirror/internal/syncer"
)

const (
	keyPrefix    = "wpm"
	keySynced    = "synced"   // HASH wpm:synced:<section>  slug -> timestamp
	keyCounters  = "counters" // HASH wpm:counters:<section> field -> count
	keySeparator = ":"

	pingTimeout = 5 * time.Second
)

type Ledger struct {
	cl  *redis.Client
	log *slog.Logger
}

func New(redisURL string, log *slog.Logger) (*Ledger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse redis url: %w", err)
	}

	cl := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if _, err := cl.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("cannot reach redis: %w", err)
	}

	return &Ledger{
		cl:  cl,
		log: log.With(slog.String("item", "Ledger")),
	}, nil
}

func (l *Ledger) Enabled() bool {
	return l != nil && l.cl != nil
}

// RecordGroup notes one group outcome. Best effort only.
func (l *Ledger) RecordGroup(ctx context.Context, res syncer.Result) {
	if !l.Enabled() {
		return
	}

	syncedKey := getKey(keySynced, string(res.Section))
	countersKey := getKey(keyCounters, string(res.Section))

	pipe := l.cl.Pipeline()
	switch res.State {
	case syncer.StateComplete, syncer.StateSkippedComplete:
		pipe.HSet(ctx, syncedKey, res.Slug, time.Now().UTC().Format(time.RFC3339))
	default:
		pipe.HDel(ctx, syncedKey, res.Slug)
	}
	pipe.HIncrBy(ctx, countersKey, string(res.State), 1)
	if res.Downloaded > 0 {
		pipe.HIncrBy(ctx, countersKey, "files_downloaded", int64(res.Downloaded))
	}
	if res.FailedFiles > 0 {
		pipe.HIncrBy(ctx, countersKey, "files_failed", int64(res.FailedFiles))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Error("Cannot record group in ledger",
			slog.String("section", string(res.Section)),
			slog.String("slug", res.Slug),
			slog.Any("error", err))
	}
}

// Synced lists items recorded as complete for a section with their last
// completion timestamps.
func (l *Ledger) Synced(ctx context.Context, section entity.Section) (map[string]string, error) {
	if !l.Enabled() {
		return nil, common.ErrLedgerNotConfigured
	}

	synced, err := l.cl.HGetAll(ctx, getKey(keySynced, string(section))).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot read ledger: %w", err)
	}

	return synced, nil
}

// Counters returns the accumulated per-section counters.
func (l *Ledger) Counters(ctx context.Context, section entity.Section) (map[string]string, error) {
	if !l.Enabled() {
		return nil, common.ErrLedgerNotConfigured
	}

	counters, err := l.cl.HGetAll(ctx, getKey(keyCounters, string(section))).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot read ledger counters: %w", err)
	}

	return counters, nil
}

func (l *Ledger) Close() error {
	if !l.Enabled() {
		return nil
	}

	return l.cl.Close()
}

func getKey(keys ...string) string {
	out := keyPrefix
	for _, key := range keys {
		out += keySeparator + key
	}

	return out
}
