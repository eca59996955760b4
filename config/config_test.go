package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.EnableTagSupport)
	assert.True(t, cfg.EnableImplicitSupport)
	assert.False(t, cfg.EnableMotomanSupport)
	assert.Equal(t, uint16(DefaultVendorID), cfg.OriginatorVendorID)
}

func TestIsValidNamespace(t *testing.T) {
	tests := []struct {
		ns       string
		expected bool
	}{
		{"", false},
		{"line1", true},
		{"line-1_cell.2", true},
		{"bad namespace", false},
		{"bad/namespace", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, IsValidNamespace(tc.ns), "namespace %q", tc.ns)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Namespace = "plant-1"
	require.NoError(t, cfg.Validate())

	cfg.Namespace = "bad namespace"
	assert.Error(t, cfg.Validate())

	cfg.Namespace = "plant-1"
	cfg.Devices = append(cfg.Devices, DeviceConfig{Name: "press1", RPI: time.Millisecond})
	assert.Error(t, cfg.Validate(), "RPI below MinRPI should fail validation")
}

func TestDeviceCRUD(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AddDevice(DeviceConfig{Name: "press1", Address: "192.168.1.50", Enabled: true})

	found := cfg.FindDevice("press1")
	require.NotNil(t, found)
	assert.Equal(t, "192.168.1.50", found.Address)

	assert.Nil(t, cfg.FindDevice("missing"))

	assert.True(t, cfg.RemoveDevice("press1"))
	assert.Nil(t, cfg.FindDevice("press1"))
	assert.False(t, cfg.RemoveDevice("press1"))
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Namespace = "plant-1"
	cfg.AddDevice(DeviceConfig{
		Name: "press1", Address: "192.168.1.50", Enabled: true,
		ConsumedInstance: 150, ProducedInstance: 100,
		ConsumedSize: 40, ProducedSize: 72, RPI: 100 * time.Millisecond,
	})
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "plant-1", loaded.Namespace)
	require.Len(t, loaded.Devices, 1)
	assert.Equal(t, uint16(150), loaded.Devices[0].ConsumedInstance)
	assert.Equal(t, 100*time.Millisecond, loaded.Devices[0].RPI)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.EnableTagSupport)

	_, err = os.Stat(path)
	assert.NoError(t, err, "Load should have saved defaults to path")
}

func TestChangeListeners(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	fired := make(chan struct{}, 1)
	cfg.AddOnChangeListener(func() { fired <- struct{}{} })

	require.NoError(t, cfg.Save(path))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("change listener did not fire after Save")
	}
}
