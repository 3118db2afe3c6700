package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
source_name: mirror.example
upstream:
  api_base_url: https://api.upstream.example
  download_base_url: https://downloads.upstream.example
layout:
  hosts:
    files:
      base_url: https://files.mirror.example
      root: /srv/mirror/files
    meta:
      base_url: https://meta.mirror.example
      root: /srv/mirror/meta
`

func writeConfig(t *testing.T, content string) (afero.Fs, string) {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/wpmirror/config.yml", []byte(content), 0o644))

	return fs, "/etc/wpmirror/config.yml"
}

func TestLoadDefaults(t *testing.T) {
	fs, path := writeConfig(t, minimalConfig)

	cfg, err := LoadWithFS(fs, path)
	require.NoError(t, err)

	require.Equal(t, LogLevelInfo, cfg.LogLevel)
	require.Equal(t, 4, cfg.Sync.Workers)
	require.Equal(t, 90*time.Second, cfg.Sync.RequestTimeout)
	require.Equal(t, 8, cfg.Sync.StampLength)
	require.Equal(t, 2, cfg.Layout.ShardPrefixLen["plugin"])
	require.Equal(t, 2, cfg.Layout.ShardPrefixLen["theme"])
	require.Equal(t, "misc", cfg.Layout.NonASCIIBucket)
}

func TestLoadOverrides(t *testing.T) {
	fs, path := writeConfig(t, minimalConfig+`
log_level: debug
sync:
  workers: 16
  request_timeout: 30s
  keep_versions: 5
  locales: [de_DE, fr_FR]
`)

	cfg, err := LoadWithFS(fs, path)
	require.NoError(t, err)

	require.Equal(t, LogLevelDebug, cfg.LogLevel)
	require.Equal(t, 16, cfg.Sync.Workers)
	require.Equal(t, 30*time.Second, cfg.Sync.RequestTimeout)
	require.Equal(t, 5, cfg.Sync.KeepVersions)
	require.Equal(t, []string{"de_DE", "fr_FR"}, cfg.Sync.Locales)
}

func TestLoadStampLength(t *testing.T) {
	fs, path := writeConfig(t, minimalConfig+`
sync:
  stamp_length: 0
`)

	cfg, err := LoadWithFS(fs, path)
	require.NoError(t, err)
	require.Zero(t, cfg.Sync.StampLength, "an explicit zero disables stamping")

	fs, path = writeConfig(t, minimalConfig+`
sync:
  stamp_length: 64
`)
	cfg, err = LoadWithFS(fs, path)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.Sync.StampLength)

	for _, bad := range []string{"100", "-1"} {
		fs, path = writeConfig(t, minimalConfig+`
sync:
  stamp_length: `+bad+`
`)
		_, err = LoadWithFS(fs, path)
		require.Error(t, err, "stamp_length %s is out of range", bad)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"missing source name", `
upstream:
  api_base_url: https://api.upstream.example
layout:
  hosts:
    files: {base_url: https://files.mirror.example}
`},
		{"missing api base url", `
source_name: mirror.example
layout:
  hosts:
    files: {base_url: https://files.mirror.example}
`},
		{"no hosts", `
source_name: mirror.example
upstream:
  api_base_url: https://api.upstream.example
`},
		{"host without base url", `
source_name: mirror.example
upstream:
  api_base_url: https://api.upstream.example
layout:
  hosts:
    files: {root: /srv/mirror/files}
`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs, path := writeConfig(t, tc.content)

			_, err := LoadWithFS(fs, path)
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadWithFS(afero.NewMemMapFs(), "/nope.yml")
	require.Error(t, err)
}

func TestRedisURLFromEnv(t *testing.T) {
	t.Setenv("WPMIRROR_REDIS_URL", "redis://localhost:6379/1")
	fs, path := writeConfig(t, minimalConfig)

	cfg, err := LoadWithFS(fs, path)
	require.NoError(t, err)
	require.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
}

func TestLockFilePath(t *testing.T) {
	fs, path := writeConfig(t, minimalConfig)

	cfg, err := LoadWithFS(fs, path)
	require.NoError(t, err)
	require.Contains(t, cfg.LockFilePath(), ".wpmirror.lock")

	cfg.LockFile = "/run/wpmirror.lock"
	require.Equal(t, "/run/wpmirror.lock", cfg.LockFilePath())
}
