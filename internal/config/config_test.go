package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadOverlaysPresentFieldsOnlyOverPartialDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "winmux.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"maxSessions": 10}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxSessions)
	assert.Equal(t, Defaults().DefaultShell, cfg.DefaultShell)
	assert.Equal(t, Defaults().BufferSize, cfg.BufferSize)
}

func TestLoadExpandsPercentVariablesInShellAndCwd(t *testing.T) {
	t.Setenv("WINMUX_TEST_SHELL", `C:\tools\pwsh.exe`)

	dir := t.TempDir()
	path := filepath.Join(dir, "winmux.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"defaultShell": "%WINMUX_TEST_SHELL%", "defaultCwd": "%USERPROFILE%\\work"}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, `C:\tools\pwsh.exe`, cfg.DefaultShell)
	assert.NotContains(t, cfg.DefaultCwd, "%")
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "winmux.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
