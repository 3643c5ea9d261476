package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfigYAML = `
server:
  port: 8123
database:
  mysql:
    host: "127.0.0.1"
    database: "neoledger"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 500, cfg.Ingest.BulkBatchSize)
	assert.Equal(t, 7, cfg.Ingest.DupWindowDays)
	assert.Equal(t, 70, cfg.Ingest.DupScoreThreshold)
	assert.Equal(t, 50, cfg.Ingest.AmbiguousCandidates)
	assert.Equal(t, 5, cfg.Ingest.DiffMaxFields)
	assert.Equal(t, 3, cfg.Ingest.DiffMaxRelations)
	assert.Equal(t, 24*time.Hour, cfg.Ingest.SnapshotCacheTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_ExplicitValuesWin(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfigYAML+`
ingest:
  dup_window_days: 14
  dup_score_threshold: 85
log:
  format: "text"
`))
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.Ingest.DupWindowDays)
	assert.Equal(t, 85, cfg.Ingest.DupScoreThreshold)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_RejectsInvalidConfig(t *testing.T) {
	_, err := LoadConfig(writeTempConfig(t, `
server:
  port: 0
database:
  mysql:
    host: "127.0.0.1"
    database: "neoledger"
`))
	assert.Error(t, err)

	_, err = LoadConfig(writeTempConfig(t, `
server:
  port: 8123
database:
  mysql:
    host: ""
`))
	assert.Error(t, err)
}

func TestValidate_LogFormat(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8123
	cfg.Database.MySQL.Host = "127.0.0.1"
	cfg.Database.MySQL.Database = "neoledger"
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg.Log.Format = "json"
	assert.NoError(t, cfg.Validate())
}
