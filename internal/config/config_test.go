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
	path := filepath.Join(t.TempDir(), "bookconv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithFile(t *testing.T) {
	path := writeConfig(t, "calibre_dir: /library\nconverter_args: '--pretty-print'\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/library", cfg.CalibreDir)
	assert.Equal(t, "--pretty-print", cfg.ConverterArgs)
	assert.Equal(t, 8083, cfg.HTTPPort)
	assert.Equal(t, 2, cfg.MaxWorkers)
	assert.True(t, cfg.EmbedMetadata)
	assert.Equal(t, time.Duration(0), cfg.ConvertTimeout)
	assert.Equal(t, ":8083", cfg.HTTPAddr())
	assert.Equal(t, "@every 10m", cfg.MaintenanceSchedule)
	assert.Equal(t, 720*time.Hour, cfg.HistoryRetention)
	assert.Equal(t, time.Hour, cfg.LiveLogRetention)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "calibre_dir: /library\nhttp_port: 9000\n")
	t.Setenv("BOOKCONV_HTTP_PORT", "9100")
	t.Setenv("BOOKCONV_CONVERT_TIMEOUT", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.ConvertTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "calibre_dir: /library\nlog_level: loud\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")

	path = writeConfig(t, "calibre_dir: /library\nremote_storage: true\n")
	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestPaths(t *testing.T) {
	cfg := &Config{CalibreDir: "/lib", BinariesDir: "/opt/calibre"}
	assert.Equal(t, "/lib", cfg.BookPath())
	assert.Equal(t, "/lib/metadata.db", cfg.MetadataDBPath())
	assert.Equal(t, "/opt/calibre/calibredb", cfg.CalibredbPath())

	cfg.CalibreSplit = true
	cfg.CalibreSplitDir = "/split"
	assert.Equal(t, "/split", cfg.BookPath())
}

func TestUseKepubify(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.UseKepubify("EPUB", "KEPUB"))

	cfg.KepubifyPath = "/usr/bin/kepubify"
	assert.True(t, cfg.UseKepubify("EPUB", "KEPUB"))
	assert.True(t, cfg.UseKepubify("epub", "kepub"))
	assert.False(t, cfg.UseKepubify("EPUB", "MOBI"))
	assert.False(t, cfg.UseKepubify("AZW3", "KEPUB"))
}
