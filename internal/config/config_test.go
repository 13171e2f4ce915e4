package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Address != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("listen = %s:%d", cfg.Server.Address, cfg.Server.Port)
	}
	if cfg.Server.Workers < 1 {
		t.Errorf("Workers = %d", cfg.Server.Workers)
	}
	if cfg.Server.MaxBodyBytes >= cfg.Server.BufferSize {
		t.Error("body limit must leave room for headers")
	}
	if cfg.Log.Format != "human" || cfg.Log.Level != "info" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Seed.Meters != 5 || cfg.Seed.ReadingsPerMeter != 20 {
		t.Errorf("Seed = %+v", cfg.Seed)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"negative port", func(c *Config) { c.Server.Port = -1 }, "server.port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no workers", func(c *Config) { c.Server.Workers = 0 }, "server.workers"},
		{"tiny buffer", func(c *Config) { c.Server.BufferSize = 100 }, "server.bufferSize"},
		{"body above buffer", func(c *Config) { c.Server.MaxBodyBytes = c.Server.BufferSize }, "server.maxBodyBytes"},
		{"zero sweep", func(c *Config) { c.Server.SweepInterval = 0 }, "server.sweepInterval"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"metrics without addr", func(c *Config) { c.Metrics.Addr = "" }, "metrics.addr"},
		{"negative seed", func(c *Config) { c.Seed.Meters = -1 }, "seed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ce.Field, tt.wantField)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.IdleTimeout != 60*time.Second {
		t.Errorf("Server = %+v", cfg.Server)
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joe.yaml")
	data := []byte(`server:
  port: 9000
  workers: 3
  idleTimeout: 2s
log:
  level: debug
seed:
  meters: 2
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("JOE_SERVER_WORKERS", "7")
	t.Setenv("JOE_LOG_FORMAT", "json")

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.Int("port", 0, "")
	if err := fs.Parse([]string{"--port", "9100"}); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if err := l.BindFlag("server.port", fs.Lookup("port")); err != nil {
		t.Fatal(err)
	}
	cfg, err := l.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"flag beats file", cfg.Server.Port, 9100},
		{"env beats file", cfg.Server.Workers, 7},
		{"env beats default", cfg.Log.Format, "json"},
		{"file beats default", cfg.Log.Level, "debug"},
		{"duration from file", cfg.Server.IdleTimeout, 2 * time.Second},
		{"seed from file", cfg.Seed.Meters, 2},
		{"untouched default", cfg.Seed.ReadingsPerMeter, 20},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if l.Current() != cfg {
		t.Error("Current() must return the loaded config")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joe.toml")
	if err := os.WriteFile(path, []byte("[server]\nworkers = 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoader().Load(path)
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "server.workers" {
		t.Errorf("Load() = %v", err)
	}

	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joe.json")
	if err := os.WriteFile(path, []byte(`{"log":{"level":"info"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if _, err := l.Load(path); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 4)
	l.Watch(func(c *Config) { changed <- c }, nil)

	if err := os.WriteFile(path, []byte(`{"log":{"level":"debug"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Log.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}
