// Package config loads lobby settings.
//
// Precedence, highest first: command-line flags, LOBBY_* environment
// variables, the optional YAML config file, built-in defaults. Nested keys
// map to environment variables with dots replaced by underscores, so
// push.heartbeat_timeout is LOBBY_PUSH_HEARTBEAT_TIMEOUT.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix
const EnvPrefix = "LOBBY"

// Config is the complete server configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DataDir string        `mapstructure:"data_dir"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Push    PushConfig    `mapstructure:"push"`
	Events  EventsConfig  `mapstructure:"events"`
	Content ContentConfig `mapstructure:"content"`
	Enrich  EnrichConfig  `mapstructure:"enrich"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	PollWindow  time.Duration `mapstructure:"poll_window"`
	// ShutdownTimeout bounds graceful HTTP shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AdminConfig struct {
	Password     string        `mapstructure:"password"`
	PasswordHash string        `mapstructure:"password_hash"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	LoginRate    float64       `mapstructure:"login_rate"`
	LoginBurst   int           `mapstructure:"login_burst"`
}

type PushConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type ContentConfig struct {
	File string `mapstructure:"file"`
}

// EnrichConfig controls visitor address enrichment
type EnrichConfig struct {
	ReverseDNS bool          `mapstructure:"reverse_dns"`
	Upstream   []string      `mapstructure:"upstream"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type MetricsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// flagKeys maps command-line flag names to config keys
var flagKeys = map[string]string{
	"addr":           "server.addr",
	"data-dir":       "data_dir",
	"admin-password": "admin.password",
	"content-file":   "content.file",
	"log-level":      "log.level",
	"log-json":       "log.json",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.poll_window", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("data_dir", "./lobby-data")

	// Keys without a default must still be registered for env overrides
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.session_ttl", 24*time.Hour)
	v.SetDefault("admin.login_rate", 0.2)
	v.SetDefault("admin.login_burst", 5)

	v.SetDefault("push.heartbeat_interval", 25*time.Second)
	v.SetDefault("push.heartbeat_timeout", 60*time.Second)
	v.SetDefault("push.write_timeout", 5*time.Second)
	v.SetDefault("push.send_queue_size", 64)

	v.SetDefault("events.buffer_size", 256)

	v.SetDefault("content.file", "")

	v.SetDefault("enrich.reverse_dns", false)
	v.SetDefault("enrich.upstream", []string{})
	v.SetDefault("enrich.timeout", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("metrics.interval", 15*time.Second)
}

// RegisterFlags adds the flags that override config keys to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to YAML config file")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("data-dir", "./lobby-data", "Data directory for the visitor database")
	fs.String("admin-password", "", "Operator password (prefer LOBBY_ADMIN_PASSWORD)")
	fs.String("content-file", "", "YAML page catalog")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Bool("log-json", false, "Output logs in JSON format")
}

// Load resolves the configuration from path (optional), the environment and
// any changed flags in fs (may be nil)
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return errors.New("admin.password or admin.password_hash is required")
	}
	if c.Push.HeartbeatInterval <= 0 || c.Push.HeartbeatTimeout <= 0 {
		return errors.New("push heartbeat interval and timeout must be positive")
	}
	if c.Push.HeartbeatInterval >= c.Push.HeartbeatTimeout {
		return errors.New("push.heartbeat_interval must be shorter than push.heartbeat_timeout")
	}
	if c.Push.WriteTimeout <= 0 {
		return errors.New("push.write_timeout must be positive")
	}
	if c.Push.SendQueueSize <= 0 {
		return errors.New("push.send_queue_size must be positive")
	}
	return nil
}
