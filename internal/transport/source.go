package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in config sources and client configuration.
const (
	TransportGRPC      = "grpc"
	TransportWebSocket = "websocket"
)

// DefaultWebSocketPath is the request path used when a config source omits one.
const DefaultWebSocketPath = "/session"

// ErrUnsupportedSource is returned for config sources with an unknown extension.
var ErrUnsupportedSource = errors.New("unsupported config source format")

// LoadSourceConfig reads a connection config source. The format is chosen by
// extension: .yaml/.yml or .toml.
//
// Precondition: path must name a readable file.
// Postcondition: Returns a validated SourceConfig with defaults applied, or a non-nil error.
func LoadSourceConfig(path string) (SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceConfig{}, fmt.Errorf("reading config source: %w", err)
	}

	var cfg SourceConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return SourceConfig{}, fmt.Errorf("parsing yaml config source %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return SourceConfig{}, fmt.Errorf("parsing toml config source %s: %w", path, err)
		}
	default:
		return SourceConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedSource, path)
	}

	if cfg.Transport == "" {
		cfg.Transport = TransportGRPC
	}
	if cfg.Transport == TransportWebSocket && cfg.Path == "" {
		cfg.Path = DefaultWebSocketPath
	}
	if err := cfg.Validate(); err != nil {
		return SourceConfig{}, fmt.Errorf("config source %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the connect target.
func (c SourceConfig) Validate() error {
	var errs []string
	if c.Host == "" {
		errs = append(errs, "host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port must be 1-65535, got %d", c.Port))
	}
	if c.Zone == "" {
		errs = append(errs, "zone must not be empty")
	}
	if c.Transport != TransportGRPC && c.Transport != TransportWebSocket {
		errs = append(errs, fmt.Sprintf("transport must be one of [grpc, websocket], got %q", c.Transport))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
