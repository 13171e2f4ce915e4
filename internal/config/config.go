// Package config loads service configuration from defaults, an optional file,
// JOE_ environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kfcemployee/joyofenergy/internal/logging"
)

// EnvPrefix is prepended to every environment key, server.port becomes JOE_SERVER_PORT
const EnvPrefix = "JOE"

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Log     LogConfig     `json:"log" mapstructure:"log"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Seed    SeedConfig    `json:"seed" mapstructure:"seed"`
}

// ServerConfig contains listener and connection limits
type ServerConfig struct {
	Address       string        `json:"address" mapstructure:"address"`
	Port          int           `json:"port" mapstructure:"port"`
	Workers       int           `json:"workers" mapstructure:"workers"`
	Backlog       int           `json:"backlog" mapstructure:"backlog"`
	BufferSize    int           `json:"bufferSize" mapstructure:"bufferSize"`
	MaxBodyBytes  int           `json:"maxBodyBytes" mapstructure:"maxBodyBytes"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"writeTimeout"`
	IdleTimeout   time.Duration `json:"idleTimeout" mapstructure:"idleTimeout"`
	SweepInterval time.Duration `json:"sweepInterval" mapstructure:"sweepInterval"`
	GzipMinBytes  int           `json:"gzipMinBytes" mapstructure:"gzipMinBytes"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// MetricsConfig contains the prometheus listener configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// SeedConfig controls the demo data loaded at startup
type SeedConfig struct {
	Meters           int    `json:"meters" mapstructure:"meters"`
	ReadingsPerMeter int    `json:"readingsPerMeter" mapstructure:"readingsPerMeter"`
	File             string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:       "0.0.0.0",
			Port:          8080,
			Workers:       runtime.NumCPU(),
			Backlog:       1024,
			BufferSize:    64 * 1024,
			MaxBodyBytes:  60 * 1024,
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   60 * time.Second,
			SweepInterval: time.Second,
			GzipMinBytes:  1024,
		},
		Log: LogConfig{
			Format: "human",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Seed: SeedConfig{
			Meters:           5,
			ReadingsPerMeter: 20,
		},
	}
}

// Loader wraps a viper instance, flags are bound to it before Load
type Loader struct {
	v *viper.Viper

	mu  sync.Mutex
	cur *Config
}

// NewLoader creates a loader with every key defaulted, so env overrides reach Unmarshal
func NewLoader() *Loader {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.workers", d.Server.Workers)
	v.SetDefault("server.backlog", d.Server.Backlog)
	v.SetDefault("server.bufferSize", d.Server.BufferSize)
	v.SetDefault("server.maxBodyBytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.readTimeout", d.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", d.Server.WriteTimeout)
	v.SetDefault("server.idleTimeout", d.Server.IdleTimeout)
	v.SetDefault("server.sweepInterval", d.Server.SweepInterval)
	v.SetDefault("server.gzipMinBytes", d.Server.GzipMinBytes)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("seed.meters", d.Seed.Meters)
	v.SetDefault("seed.readingsPerMeter", d.Seed.ReadingsPerMeter)
	v.SetDefault("seed.file", d.Seed.File)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// BindFlag binds a command line flag to key, a flag set by the user wins over file and env
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	if f == nil {
		return fmt.Errorf("no flag for %s", key)
	}
	return l.v.BindPFlag(key, f)
}

// Load reads path when it is not empty and returns the validated configuration
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cur = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Watch reloads the config file on change and hands every valid result to onChange.
// Invalid edits are reported to onError and the previous configuration stays.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.unmarshal()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}

		l.mu.Lock()
		l.cur = cfg
		l.mu.Unlock()
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Current returns the last loaded configuration
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	s := c.Server
	var errs []error
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "server.port", Message: "must be within 0..65535"})
	}
	if s.Workers < 1 {
		errs = append(errs, &ConfigError{Field: "server.workers", Message: "must be at least 1"})
	}
	if s.Backlog < 1 {
		errs = append(errs, &ConfigError{Field: "server.backlog", Message: "must be at least 1"})
	}
	if s.BufferSize < 1024 {
		errs = append(errs, &ConfigError{Field: "server.bufferSize", Message: "must be at least 1024"})
	}
	if s.MaxBodyBytes < 0 || s.MaxBodyBytes >= s.BufferSize {
		errs = append(errs, &ConfigError{Field: "server.maxBodyBytes", Message: "must be below server.bufferSize"})
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.IdleTimeout < 0 {
		errs = append(errs, &ConfigError{Field: "server.*Timeout", Message: "must not be negative"})
	}
	if s.SweepInterval <= 0 {
		errs = append(errs, &ConfigError{Field: "server.sweepInterval", Message: "must be positive"})
	}
	if s.GzipMinBytes < 0 {
		errs = append(errs, &ConfigError{Field: "server.gzipMinBytes", Message: "must not be negative"})
	}

	switch logging.Format(c.Log.Format) {
	case logging.HumanFormat, logging.JSONFormat:
	default:
		errs = append(errs, &ConfigError{Field: "log.format", Message: "must be human or json"})
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, &ConfigError{Field: "log.level", Message: err.Error()})
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, &ConfigError{Field: "metrics.addr", Message: "required when metrics are enabled"})
	}
	if c.Seed.Meters < 0 || c.Seed.ReadingsPerMeter < 0 {
		errs = append(errs, &ConfigError{Field: "seed", Message: "counts must not be negative"})
	}
	return errors.Join(errs...)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
