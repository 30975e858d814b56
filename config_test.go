package reldb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_yaml(t *testing.T) {
	path := writeConfig(t, "reldb.yaml", `
home: /var/lib/reldb
no_sync: true
mmap_size: 1048576
timeout: 3s
log_level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, &Config{
		Home:     "/var/lib/reldb",
		NoSync:   true,
		MmapSize: 1 << 20,
		Timeout:  3 * time.Second,
		LogLevel: "debug",
	}, cfg)

	opt, err := cfg.Options()
	require.NoError(t, err)
	require.True(t, opt.NoSync)
	require.Equal(t, 3*time.Second, opt.Timeout)
	require.Equal(t, logrus.DebugLevel, opt.Log.(*logrus.Logger).GetLevel())
}

func TestLoadConfig_defaults(t *testing.T) {
	path := writeConfig(t, "reldb.json", `{"in_memory": true}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.True(t, cfg.InMemory)
	require.Equal(t, "warning", cfg.LogLevel)
	require.Equal(t, 10*time.Second, cfg.Timeout)

	opt, err := cfg.Options()
	require.NoError(t, err)
	db, err := Open("", true, opt)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestLoadConfig_errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "reldb.toml", `log_level = "info"`))
	require.ErrorContains(t, err, "home is required")

	cfg := &Config{Home: "x", LogLevel: "loud"}
	_, err = cfg.Options()
	require.Error(t, err)
}
