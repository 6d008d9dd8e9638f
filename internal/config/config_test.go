package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresConfigFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.ErrorContains(t, err, "create one with ih init")
}

func TestLoadOptionalFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir(), "acme")
	require.NoError(t, err)
	require.Equal(t, "acme", cfg.Organization.ID)
	require.NotEmpty(t, cfg.Focus.BreakTypes)
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault("acme")), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "acme", cfg.Organization.ID)
	require.Equal(t, "/v0", cfg.Server.BasePath)

	opt, err := LoadOptional(dir, "other")
	require.NoError(t, err)
	require.Equal(t, "acme", opt.Organization.ID)
}

func TestFromFileRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("organization:\n  id: acme\nnotifications:\n  priorities: [urgent]\nfocus:\n  break_types: [short]\n"), 0o644))

	_, err := FromFile(path)
	require.ErrorContains(t, err, `unknown priority "urgent"`)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.True(t, os.IsNotExist(err))
}
