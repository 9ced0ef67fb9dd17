package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/qcserver/internal/core/observability/log"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval())

	lc := cfg.LevelConfig()
	assert.Equal(t, 600, lc.Entities.MaxEntities)
	assert.Equal(t, 10000, lc.VM.StatementBudget)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_addr: "127.0.0.1:9000"
  tick_rate: 10
  write_timeout: 2s
game:
  progs: data/progs.dat
  map: e1m1
  cvars:
    deathmatch: "1"
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, 10, cfg.Server.TickRate)
	assert.Equal(t, 2*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 64, cfg.Server.MaxSubscribers, "unset keys keep their default")
	assert.Equal(t, "e1m1", cfg.Game.Map)
	assert.Equal(t, "1", cfg.LevelConfig().Cvars["deathmatch"])
	assert.Equal(t, log.LevelDebug, cfg.LogConfig().Level)
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"QC_HTTP_ADDR":       ":9090",
		"QC_TICK_RATE":       "30",
		"QC_MAP":             "e2m1",
		"QC_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"QC_SKILL":           "3",
	})))
	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 30, cfg.Server.TickRate)
	assert.Equal(t, "e2m1", cfg.Game.Map)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "3", cfg.Game.Cvars["skill"])

	err := cfg.ApplyEnv(env(map[string]string{"QC_TICK_RATE": "fast"}))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Server.TickRate = 0
	cfg.Server.TLSCert = "cert.pem"
	cfg.Entities.Max = 1
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, want := range []string{"tick_rate", "tls_key", "entities.max", "loud"} {
		assert.Contains(t, err.Error(), want)
	}
}
