package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_FILE", "missing.yaml")
	t.Setenv("SOURCE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "cpi.db", cfg.DBPath)
	assert.Equal(t, DefaultHeadlineCodes, cfg.Analytics.HeadlineCodes)
	assert.Equal(t, 2*time.Hour, cfg.Jobs.Timeout)
	assert.False(t, cfg.S3.Enabled())
}

func TestLoad_EnvAndFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "cpi.yaml")
	yamlData := `
source_url: https://stat.example/cpi.xlsx
analytics:
  headline_codes: ["1", "1.01"]
  default_lang: ru
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SOURCE_URL", "")
	t.Setenv("JOB_TIMEOUT", "30m")
	t.Setenv("QUEUE_SIZE", "not-a-number")
	t.Setenv("S3_BUCKET", "cpi-archive")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://stat.example/cpi.xlsx", cfg.Source.URL)
	assert.Equal(t, []string{"1", "1.01"}, cfg.Analytics.HeadlineCodes)
	assert.Equal(t, "ru", cfg.Analytics.DefaultLang)
	assert.Equal(t, 30*time.Minute, cfg.Jobs.Timeout)
	assert.Equal(t, 4, cfg.Jobs.QueueSize)
	assert.True(t, cfg.S3.Enabled())
}

func TestLoad_EnvSourceWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "cpi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source_url: https://file.example/a.xlsx\n"), 0644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SOURCE_URL", "https://env.example/b.xlsx")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://env.example/b.xlsx", cfg.Source.URL)
}
