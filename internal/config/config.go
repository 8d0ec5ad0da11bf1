// Package config provides Viper-based configuration loading for the arena client and server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig holds the connect target, credentials, and host loop settings for the client.
type ClientConfig struct {
	// UseConfigFile selects the connection config source over the explicit Host/Port.
	UseConfigFile bool `mapstructure:"use_config_file"`
	// ConfigFile is the connection config source (YAML or TOML) loaded before connecting.
	ConfigFile string `mapstructure:"config_file"`
	// Host is the explicit server address used when UseConfigFile is false.
	Host string `mapstructure:"host"`
	// Port is the explicit server port used when UseConfigFile is false.
	Port int `mapstructure:"port"`
	// Transport selects the wire transport: "grpc" or "websocket".
	Transport string `mapstructure:"transport"`
	// Username is the login name.
	Username string `mapstructure:"username"`
	// Password is the login password; empty for guest logins.
	Password string `mapstructure:"password"`
	// Zone is the zone to log into when no config source supplies one.
	Zone string `mapstructure:"zone"`
	// Room is the well-known arena room name.
	Room string `mapstructure:"room"`
	// TickRate is the number of host loop ticks per second.
	TickRate int `mapstructure:"tick_rate"`
	// DialTimeout bounds a single connect attempt.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// ReconnectOnLost restarts the connection sequence after a lost connection.
	ReconnectOnLost bool `mapstructure:"reconnect_on_lost"`
	// Wander makes the headless local player move around the map.
	Wander bool `mapstructure:"wander"`
}

// Addr returns the "host:port" connect address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (c ClientConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TickInterval returns the duration between host loop ticks.
//
// Precondition: TickRate must be > 0.
func (c ClientConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// AccountConfig is a named account accepted by the development server.
type AccountConfig struct {
	Username string `mapstructure:"username"`
	// PasswordHash is a bcrypt hash of the account password.
	PasswordHash string `mapstructure:"password_hash"`
}

// ServerConfig holds development arena server settings.
type ServerConfig struct {
	// Host is the bind address for both listeners.
	Host string `mapstructure:"host"`
	// GRPCPort is the TCP port for the gRPC session service.
	GRPCPort int `mapstructure:"grpc_port"`
	// WSPort is the TCP port for the WebSocket session endpoint; 0 disables it.
	WSPort int `mapstructure:"ws_port"`
	// Zone is the single zone served.
	Zone string `mapstructure:"zone"`
	// AllowGuests accepts logins for names not listed in Accounts.
	AllowGuests bool `mapstructure:"allow_guests"`
	// Accounts lists named accounts with bcrypt password hashes.
	Accounts []AccountConfig `mapstructure:"accounts"`
	// ExtensionsDir holds Lua room extension scripts; empty disables extensions.
	ExtensionsDir string `mapstructure:"extensions_dir"`
	// ScriptInstructionLimit caps Lua opcodes per hook call; 0 uses the default.
	ScriptInstructionLimit int `mapstructure:"script_instruction_limit"`
	// OutboxSize is the per-user outbound event buffer.
	OutboxSize int `mapstructure:"outbox_size"`
}

// GRPCAddr returns the "host:port" gRPC listen address.
func (s ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// WSAddr returns the "host:port" WebSocket listen address.
func (s ServerConfig) WSAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.WSPort)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Client  ClientConfig  `mapstructure:"client"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateClient(c.Client); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateClient(c ClientConfig) error {
	var errs []string
	if c.UseConfigFile {
		if c.ConfigFile == "" {
			errs = append(errs, "client.config_file must not be empty when client.use_config_file is set")
		}
	} else {
		if c.Host == "" {
			errs = append(errs, "client.host must not be empty")
		}
		if c.Port < 1 || c.Port > 65535 {
			errs = append(errs, fmt.Sprintf("client.port must be 1-65535, got %d", c.Port))
		}
		if c.Zone == "" {
			errs = append(errs, "client.zone must not be empty")
		}
	}
	validTransports := map[string]bool{"grpc": true, "websocket": true}
	if !validTransports[c.Transport] {
		errs = append(errs, fmt.Sprintf("client.transport must be one of [grpc, websocket], got %q", c.Transport))
	}
	if c.Username == "" {
		errs = append(errs, "client.username must not be empty")
	}
	if c.Room == "" {
		errs = append(errs, "client.room must not be empty")
	}
	if c.TickRate < 1 || c.TickRate > 1000 {
		errs = append(errs, fmt.Sprintf("client.tick_rate must be 1-1000, got %d", c.TickRate))
	}
	if c.DialTimeout < 0 {
		errs = append(errs, "client.dial_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.GRPCPort < 1 || s.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.grpc_port must be 1-65535, got %d", s.GRPCPort))
	}
	if s.WSPort < 0 || s.WSPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.ws_port must be 0-65535, got %d", s.WSPort))
	}
	if s.WSPort != 0 && s.WSPort == s.GRPCPort {
		errs = append(errs, "server.ws_port must differ from server.grpc_port")
	}
	if s.Zone == "" {
		errs = append(errs, "server.zone must not be empty")
	}
	for i, a := range s.Accounts {
		if a.Username == "" {
			errs = append(errs, fmt.Sprintf("server.accounts[%d].username must not be empty", i))
		}
		if a.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("server.accounts[%d].password_hash must not be empty", i))
		}
	}
	if s.ScriptInstructionLimit < 0 {
		errs = append(errs, "server.script_instruction_limit must not be negative")
	}
	if s.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("server.outbox_size must be >= 1, got %d", s.OutboxSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// ErrNoConfigFile is returned by Load when path is empty.
var ErrNoConfigFile = errors.New("config file path must not be empty")

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, ErrNoConfigFile
	}

	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance populated only with default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client.use_config_file", false)
	v.SetDefault("client.config_file", "configs/connection.yaml")
	v.SetDefault("client.host", "127.0.0.1")
	v.SetDefault("client.port", 9933)
	v.SetDefault("client.transport", "grpc")
	v.SetDefault("client.username", "bss")
	v.SetDefault("client.password", "")
	v.SetDefault("client.zone", "brawl")
	v.SetDefault("client.room", "arena")
	v.SetDefault("client.tick_rate", 60)
	v.SetDefault("client.dial_timeout", "5s")
	v.SetDefault("client.reconnect_on_lost", true)
	v.SetDefault("client.wander", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.grpc_port", 9933)
	v.SetDefault("server.ws_port", 8080)
	v.SetDefault("server.zone", "brawl")
	v.SetDefault("server.allow_guests", true)
	v.SetDefault("server.extensions_dir", "")
	v.SetDefault("server.script_instruction_limit", 0)
	v.SetDefault("server.outbox_size", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
