package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadSourceConfig_YAML(t *testing.T) {
	path := writeSource(t, "connection.yaml", "host: 10.0.0.5\nport: 9933\nzone: brawl\n")
	cfg, err := LoadSourceConfig(path)
	require.NoError(t, err)
	assert.Equal(t, SourceConfig{Host: "10.0.0.5", Port: 9933, Zone: "brawl", Transport: TransportGRPC}, cfg)
	assert.Equal(t, "10.0.0.5:9933", cfg.Addr())
}

func TestLoadSourceConfig_TOML(t *testing.T) {
	path := writeSource(t, "connection.toml", "host = \"arena.local\"\nport = 8080\nzone = \"brawl\"\ntransport = \"websocket\"\n")
	cfg, err := LoadSourceConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "arena.local", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, TransportWebSocket, cfg.Transport)
	assert.Equal(t, DefaultWebSocketPath, cfg.Path)
}

func TestLoadSourceConfig_Missing(t *testing.T) {
	_, err := LoadSourceConfig(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestLoadSourceConfig_UnsupportedFormat(t *testing.T) {
	path := writeSource(t, "sfs-config.xml", "<SmartFoxConfig/>")
	_, err := LoadSourceConfig(path)
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestLoadSourceConfig_Invalid(t *testing.T) {
	path := writeSource(t, "connection.yml", "host: \"\"\nport: 0\n")
	_, err := LoadSourceConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host must not be empty")
	assert.Contains(t, err.Error(), "port must be 1-65535")
	assert.Contains(t, err.Error(), "zone must not be empty")
}

func TestLoadSourceConfig_Malformed(t *testing.T) {
	path := writeSource(t, "connection.yaml", "host: [unterminated\n")
	_, err := LoadSourceConfig(path)
	assert.Error(t, err)
}
