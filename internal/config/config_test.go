package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "knowledge.db", cfg.Store.DatabaseURL)
	assert.Equal(t, ".knowledge-cache", cfg.Cache.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Reasoner.Model)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Reasoner.FallbackModel)
	assert.Equal(t, 2048, cfg.Reasoner.MaxTokens)
	assert.Equal(t, "default", cfg.Pipeline.KnowledgeBaseID)
	assert.Equal(t, 3, cfg.Pipeline.MaxReviewRetries)
	assert.InDelta(t, 0.85, cfg.Pipeline.AnchorAutoThreshold, 0.001)
	assert.InDelta(t, 0.5, cfg.Pipeline.RelationThreshold, 0.001)
	assert.Equal(t, 200, cfg.Profile.SampleRows)
	assert.InDelta(t, 0.95, cfg.Profile.AnchorMinUnique, 0.001)
	assert.Equal(t, 4, cfg.Ingest.MaxConcurrentFiles)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/knowledge
pipeline:
  max_review_retries: 5
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/knowledge", cfg.Store.DatabaseURL)
	assert.Equal(t, 5, cfg.Pipeline.MaxReviewRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("KNOWLEDGE_REASONER_KEY", "sk-test-123")
	t.Setenv("KNOWLEDGE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test-123", cfg.Reasoner.Key)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
}

func TestInitLoggerBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}
