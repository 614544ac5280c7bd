package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Gateway.Port != 18791 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Redis.QueueName != "askgate:jobs" {
		t.Errorf("queue name = %q", cfg.Redis.QueueName)
	}
	if cfg.HardTimeout() != 55*time.Second {
		t.Errorf("hard timeout = %v", cfg.HardTimeout())
	}
	if cfg.InterimDelay() != 8*time.Second {
		t.Errorf("interim delay = %v", cfg.InterimDelay())
	}
	if cfg.DedupTTL() != 30*time.Minute {
		t.Errorf("dedup ttl = %v", cfg.DedupTTL())
	}
	if cfg.Visibility() != 5*time.Minute {
		t.Errorf("visibility = %v", cfg.Visibility())
	}
	if cfg.Worker.MaxAttempts != 1 {
		t.Errorf("max attempts = %d, want single delivery by default", cfg.Worker.MaxAttempts)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// deployment overrides
		gateway: { port: 9000 },
		worker: { hard_timeout_sec: 40, max_attempts: 2 },
		stream: { enabled: true },
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("port = %d, want file value", cfg.Gateway.Port)
	}
	if cfg.Worker.HardTimeoutSec != 40 || cfg.Worker.MaxAttempts != 2 {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if !cfg.Stream.Enabled {
		t.Error("stream not enabled")
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.QueueName != "askgate:jobs" {
		t.Errorf("queue name = %q", cfg.Redis.QueueName)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{ redis: { addr: "file:6379" } }`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ASKGATE_REDIS_ADDR", "env:6379")
	t.Setenv("ASKGATE_SLACK_SIGNING_SECRET", "env-secret")
	t.Setenv("ASKGATE_GATEWAY_PORT", "7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redis.Addr != "env:6379" {
		t.Errorf("redis addr = %q, want env value", cfg.Redis.Addr)
	}
	if cfg.Slack.SigningSecret != "env-secret" {
		t.Errorf("signing secret = %q", cfg.Slack.SigningSecret)
	}
	if cfg.Gateway.Port != 7777 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestLoad_SecretsNeverReadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		slack: { SigningSecret: "leaked", BotToken: "leaked" },
		worker: { Token: "leaked" },
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Slack.SigningSecret != "" || cfg.Slack.BotToken != "" || cfg.Worker.Token != "" {
		t.Error("secret fields populated from the config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty queue name", func(c *Config) { c.Redis.QueueName = "" }, false},
		{"zero hard timeout", func(c *Config) { c.Worker.HardTimeoutSec = 0 }, false},
		{"zero concurrency", func(c *Config) { c.Worker.MaxConcurrent = 0 }, false},
		{"zero attempts", func(c *Config) { c.Worker.MaxAttempts = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.ok && err != nil {
				t.Errorf("validate() = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("validate() = nil, want error")
			}
		})
	}
}
