package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDiscoverPort, cfg.DiscoverPort)
	assert.Equal(t, DefaultIdleTimeoutSeconds, cfg.IdleTimeout)
	host, _ := os.Hostname()
	assert.Equal(t, host, cfg.Name)
}

func TestParseGlobals(t *testing.T) {
	cfg, err := Parse([]byte(`
name=depot
port=9999
discover_port=9998
password="p4ss word"
rexec=yes
verbose=1
no_color=true
`))
	require.NoError(t, err)
	assert.Equal(t, "depot", cfg.Name)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 9998, cfg.DiscoverPort)
	assert.Equal(t, "p4ss word", cfg.Password)
	assert.True(t, cfg.Rexec)
	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.NoColor)
}

func TestParseSharings(t *testing.T) {
	cfg, err := Parse([]byte(`
name=depot

[music]
path=/srv/music
readonly=true

[docs]
path="/srv/my docs"
`))
	require.NoError(t, err)
	require.Len(t, cfg.Sharings, 2)
	assert.Equal(t, "music", cfg.Sharings[0].Name)
	assert.Equal(t, "/srv/music", cfg.Sharings[0].Path)
	assert.True(t, cfg.Sharings[0].ReadOnly)
	assert.Equal(t, "docs", cfg.Sharings[1].Name)
	assert.Equal(t, "/srv/my docs", cfg.Sharings[1].Path)
	assert.False(t, cfg.Sharings[1].ReadOnly)
}

func TestParseUnnamedSharing(t *testing.T) {
	cfg, err := Parse([]byte(`
[]
path=/srv/shared
`))
	require.NoError(t, err)
	require.Len(t, cfg.Sharings, 1)
	assert.Equal(t, "", cfg.Sharings[0].Name)
	assert.Equal(t, "/srv/shared", cfg.Sharings[0].Path)
}

func TestParseBooleanForms(t *testing.T) {
	for _, v := range []string{"true", "1", "yes"} {
		b, err := parseBool(v)
		require.NoError(t, err)
		assert.True(t, b)
	}
	for _, v := range []string{"false", "0", "no"} {
		b, err := parseBool(v)
		require.NoError(t, err)
		assert.False(t, b)
	}
	_, err := parseBool("maybe")
	assert.Error(t, err)
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := Parse([]byte("bogus=1\n"))
	assert.Error(t, err)
}

func TestParseRejectsSharingWithoutPath(t *testing.T) {
	_, err := Parse([]byte("[s1]\nreadonly=true\n"))
	assert.Error(t, err)
}

func TestParseSSLRequiresCertAndKey(t *testing.T) {
	_, err := Parse([]byte("ssl=true\n"))
	assert.Error(t, err)

	cfg, err := Parse([]byte("ssl=true\nssl_cert=/c.pem\nssl_privkey=/k.pem\n"))
	require.NoError(t, err)
	assert.True(t, cfg.SSL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "esd.conf")
	require.NoError(t, os.WriteFile(path, []byte("name=filetest\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "filetest", cfg.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	assert.Error(t, err)
}
