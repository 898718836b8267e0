package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "daemon")
	require.NoError(t, err)
	assert.Equal(t, uint16(11223), cfg.Port)
	assert.Equal(t, "daemon", cfg.Role)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), "daemon")
	require.NoError(t, err)
	assert.Equal(t, "daemon", cfg.Role)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "razor.yaml")
	content := "port: 4000\nrole: slave\ndaemon_endpoint: 127.0.0.1:11223\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, uint16(4000), cfg.Port)
	assert.Equal(t, "127.0.0.1:11223", cfg.DaemonAddress)
}

func TestSlaveRequiresDaemonEndpoint(t *testing.T) {
	t.Setenv("RAZOR_DAEMON_ENDPOINT", "")
	_, err := Load("", "slave")
	assert.Error(t, err)
}
