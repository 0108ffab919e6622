package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenMissing(t *testing.T) {
	svc := NewServiceAt(filepath.Join(t.TempDir(), "config.json"))
	cfg := svc.Load()
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveThenLoadRoundtrips(t *testing.T) {
	svc := NewServiceAt(filepath.Join(t.TempDir(), "nested", "config.json"))
	cfg := Config{
		Engine:           "segmented",
		AudioDevice:      "USB Microphone",
		ModelURLOverride: map[string]string{"segmented": "https://example.invalid/model.tar.bz2"},
		Hotkey:           "Ctrl+Shift+V",
		Language:         "en",
	}
	require.NoError(t, svc.Save(cfg))

	got := svc.Load()
	assert.Equal(t, cfg, got)
}

func TestLoadResetsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	svc := NewServiceAt(path)
	cfg := svc.Load()
	assert.Equal(t, DefaultConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"engine"`)
}

func TestLoadFillsZeroFieldsWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"audio_device":"built-in"}`), 0o644))

	svc := NewServiceAt(path)
	cfg := svc.Load()
	assert.Equal(t, "built-in", cfg.AudioDevice)
	assert.Equal(t, DefaultConfig().Engine, cfg.Engine)
	assert.Equal(t, DefaultConfig().Hotkey, cfg.Hotkey)
}
