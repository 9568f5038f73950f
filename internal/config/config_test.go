package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbipd-go/usbipd/internal/config"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	formats := []string{"json", "yaml", "toml"}
	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config."+format)

			cfg := config.Default()
			cfg.ConnectionTimeout = 30 * time.Second
			cfg = cfg.AddAllowed("1-1-1")
			cfg = cfg.AddAllowed("2-1-1")

			require.NoError(t, config.Save(path, cfg))

			loaded, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Port, loaded.Port)
			assert.Equal(t, cfg.AllowedDevices, loaded.AllowedDevices)
			assert.Equal(t, cfg.ConnectionTimeout, loaded.ConnectionTimeout)
		})
	}
}

func TestAddAllowedIdempotent(t *testing.T) {
	cfg := config.Default()
	cfg = cfg.AddAllowed("1-1-1")
	cfg = cfg.AddAllowed("1-1-1")
	assert.Equal(t, []string{"1-1-1"}, cfg.AllowedDevices)
}

func TestRemoveAllowedIsNoOpWhenAbsent(t *testing.T) {
	cfg := config.Default()
	cfg = cfg.AddAllowed("1-1-1")
	cfg = cfg.RemoveAllowed("9-9-9")
	assert.Equal(t, []string{"1-1-1"}, cfg.AllowedDevices)
}

func TestIsAllowedEmptyListAllowsAll(t *testing.T) {
	cfg := config.Default()
	assert.True(t, cfg.IsAllowed("anything"))

	cfg = cfg.AddAllowed("1-1-1")
	assert.True(t, cfg.IsAllowed("1-1-1"))
	assert.False(t, cfg.IsAllowed("2-2-2"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
