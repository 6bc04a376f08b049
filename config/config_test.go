package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("kill_timeout_ms = 9000\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.KillTimeoutMs)
	assert.Equal(t, defaultAlarmMaxTimeS, cfg.AlarmMaxTimeS)
	assert.Equal(t, defaultReadChunkBytes, cfg.ReadChunkBytes)
}

func TestWatcherDeliversUpdateOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("kill_timeout_ms = 1000\n"), 0644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("kill_timeout_ms = 2000\n"), 0644))

	select {
	case cfg := <-w.Updates:
		assert.Equal(t, 2000, cfg.KillTimeoutMs)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a config update after write")
	}
}
