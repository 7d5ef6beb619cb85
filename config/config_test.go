package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Viet-ph/reactor/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reactord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func restore(t *testing.T) {
	host, port, idle, level := config.Host, config.Port, config.IdleTimeout, config.LogLevel
	t.Cleanup(func() {
		config.Host, config.Port, config.IdleTimeout, config.LogLevel = host, port, idle, level
	})
}

func TestLoadOverlaysGivenKeys(t *testing.T) {
	restore(t)
	path := writeConfig(t, "host: 127.0.0.1\nport: 7100\nidle_timeout: 45s\n")

	require.NoError(t, config.Load(path))
	assert.Equal(t, "127.0.0.1", config.Host)
	assert.Equal(t, 7100, config.Port)
	assert.Equal(t, 45*time.Second, config.IdleTimeout)
	assert.Equal(t, "info", config.LogLevel, "keys not in the file keep their value")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	restore(t)
	path := writeConfig(t, "hots: 127.0.0.1\n")
	assert.Error(t, config.Load(path))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	restore(t)
	before := config.Port
	assert.Error(t, config.Load(writeConfig(t, "port: 70000\n")))
	assert.Equal(t, before, config.Port)
}

func TestLoadRejectsNonPositiveSizes(t *testing.T) {
	restore(t)
	size, clients, idle := config.DefaultMessageSize, config.MaximumClients, config.IdleTimeout
	t.Cleanup(func() { config.DefaultMessageSize, config.MaximumClients = size, clients })

	for _, body := range []string{
		"message_size: -1\n",
		"message_size: 0\n",
		"max_clients: 0\n",
		"idle_timeout: -5s\n",
		"tick_ceiling: 0s\n",
		"max_events: 0\n",
		"port: 7100\nmessage_size: -1\n",
	} {
		assert.Error(t, config.Load(writeConfig(t, body)), body)
	}
	assert.Equal(t, size, config.DefaultMessageSize)
	assert.Equal(t, clients, config.MaximumClients)
	assert.Equal(t, idle, config.IdleTimeout)
	assert.NotEqual(t, 7100, config.Port, "a rejected file changes nothing")
}

func TestLoadMissingFile(t *testing.T) {
	assert.Error(t, config.Load(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	restore(t)
	before := config.Port
	require.NoError(t, config.Load(writeConfig(t, "")))
	assert.Equal(t, before, config.Port)
}
