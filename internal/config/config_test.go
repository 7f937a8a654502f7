package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  host: db\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, DefaultMinConfidence, cfg.Matching.MinConfidence)
	assert.Equal(t, DefaultSimilarityThreshold, cfg.Matching.SimilarityThreshold)
	assert.Equal(t, DefaultMatchMaxResults, cfg.Matching.MaxResults)
	assert.Equal(t, 5*time.Minute, cfg.Analysis.StaleAfter)
	assert.Equal(t, "openai", cfg.Describe.Provider)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFileValues(t *testing.T) {
	body := `
server:
  port: 9090
matching:
  similarity_threshold: 90
  max_results: 25
analysis:
  stale_after: 10m
  call_timeout: 30s
describe:
  provider: gemini
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 90.0, cfg.Matching.SimilarityThreshold)
	assert.Equal(t, 25, cfg.Matching.MaxResults)
	assert.Equal(t, DefaultMinConfidence, cfg.Matching.MinConfidence)
	assert.Equal(t, 10*time.Minute, cfg.Analysis.StaleAfter)
	assert.Equal(t, 30*time.Second, cfg.Analysis.CallTimeout)
	assert.Equal(t, "gemini", cfg.Describe.Provider)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GAI_SERVER_PORT", "7000")
	t.Setenv("GAI_DB_PASSWORD", "secret")
	t.Setenv("GAI_MATCH_SIMILARITY_THRESHOLD", "85.5")
	t.Setenv("GAI_VISION_WORKER_COUNT", "not-a-number")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\nvision:\n  worker_count: 3\n"))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.Equal(t, 85.5, cfg.Matching.SimilarityThreshold)
	assert.Equal(t, 3, cfg.Vision.WorkerCount, "invalid env value is ignored")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeConfig(t, "server: [unterminated"))
	assert.ErrorContains(t, err, "parse config")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, Name: "gallery", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@h:5433/gallery?sslmode=disable", d.DSN())
}
