package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyshare/easyshare/pkg/config"
)

func TestBuildConfigFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "esd.conf")
	require.NoError(t, os.WriteFile(cfgFile, []byte("name=fromfile\nport=4000\n"), 0644))

	flags.configFile = cfgFile
	require.NoError(t, rootCmd.Flags().Set("name", "fromflag"))
	t.Cleanup(func() {
		flags.configFile = ""
		flags.name = ""
		rootCmd.ResetFlags()
		registerFlags()
	})

	cfg, err := buildConfig(rootCmd)
	require.NoError(t, err)

	// The flag wins over the file; file values untouched by flags stay.
	assert.Equal(t, "fromflag", cfg.Name)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, config.DefaultDiscoverPort, cfg.DiscoverPort)
}

func TestBuildRegistryPositionalSharing(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()

	reg, err := buildRegistry(cfg, []string{dir, "adhoc"})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	s, err := reg.Get("adhoc")
	require.NoError(t, err)
	assert.False(t, s.ReadOnly)
}

func TestBuildRegistryRequiresASharing(t *testing.T) {
	cfg := config.Default()
	_, err := buildRegistry(cfg, nil)
	assert.Error(t, err)
}

func TestBuildRegistryFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sharings = []config.SharingConfig{{Name: "cfgshare", Path: dir, ReadOnly: true}}

	reg, err := buildRegistry(cfg, nil)
	require.NoError(t, err)

	s, err := reg.Get("cfgshare")
	require.NoError(t, err)
	assert.True(t, s.ReadOnly)
}
