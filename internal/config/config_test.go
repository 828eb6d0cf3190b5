package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, DriverRedis, cfg.Store.Driver)
	require.Equal(t, PolicyReject, cfg.Validation.ImplausiblePolicy)
	require.False(t, cfg.Validation.SoftFlagImplausible())
	require.True(t, cfg.Sync.Enabled)
	require.Empty(t, cfg.Server.AdminToken)
	require.NoError(t, cfg.Validate())

	rocks, ok := cfg.Games["space-rocks"]
	require.True(t, ok)
	require.Equal(t, float64(10), rocks.PointsPerSecond)
	require.Equal(t, 15*time.Minute, rocks.SessionTTL)
}

func TestParse(t *testing.T) {
	t.Setenv("ARCADE_REDIS_ADDR", "cache:6380")
	t.Setenv("ARCADE_ADMIN_TOKEN", "s3cret")

	raw := []byte(`
server:
  admin_token: ${ARCADE_ADMIN_TOKEN}
redis:
  addr: ${ARCADE_REDIS_ADDR}
store:
  driver: memory
  op_timeout: 750ms
validation:
  implausible_policy: flag
games:
  space-rocks:
    points_per_second: 10
  turbo:
    session_ttl: 2m
    points_per_input: 5
`)

	cfg, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "cache:6380", cfg.Redis.Addr)
	require.Equal(t, "s3cret", cfg.Server.AdminToken)
	require.Equal(t, DriverMemory, cfg.Store.Driver)
	require.Equal(t, 750*time.Millisecond, cfg.Store.OpTimeout)
	require.True(t, cfg.Validation.SoftFlagImplausible())
	require.Equal(t, []string{"space-rocks", "turbo"}, cfg.GameIDs())
	require.Equal(t, 2*time.Minute, cfg.Games["turbo"].SessionTTL)
	require.Equal(t, 15*time.Minute, cfg.Games["space-rocks"].SessionTTL)
	require.Equal(t, "turbo", cfg.Games["turbo"].Name)
}

func TestParseRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expErrMsg string
	}{
		{
			name:      "unknown driver",
			raw:       "store:\n  driver: etcd\n",
			expErrMsg: "unknown store driver",
		},
		{
			name:      "postgres driver without postgres",
			raw:       "store:\n  driver: postgres\n",
			expErrMsg: "requires postgres.enabled",
		},
		{
			name:      "unknown policy",
			raw:       "validation:\n  implausible_policy: shrug\n",
			expErrMsg: "unknown implausible_policy",
		},
		{
			name:      "game without rates",
			raw:       "games:\n  idle:\n    base_allowance: 10\n",
			expErrMsg: "must be positive",
		},
		{
			name:      "malformed yaml",
			raw:       "store: [",
			expErrMsg: "parsing config file",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expErrMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte("server:\n  port: 9090\n"), 0o600))
	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("validation:\n  implausible_policy: shrug\n"), 0o600))

	testCases := []struct {
		name      string
		path      string
		expPort   int
		defaulted bool
		expErr    bool
	}{
		{name: "valid file", path: valid, expPort: 9090},
		{name: "missing file", path: filepath.Join(dir, "missing.yaml"), expPort: 8080, defaulted: true},
		{name: "invalid file", path: invalid, expErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, defaulted, err := LoadOrDefault(tc.path)
			if tc.expErr {
				require.Error(t, err)
				require.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.defaulted, defaulted)
			require.Equal(t, tc.expPort, cfg.Server.Port)
		})
	}
}
