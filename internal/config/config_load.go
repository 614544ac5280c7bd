package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18791,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			QueueName:   "askgate:jobs",
			DedupTTLSec: 1800,
		},
		Worker: WorkerConfig{
			HardTimeoutSec:  55,
			InterimDelaySec: 8,
			MaxConcurrent:   5,
			MaxAttempts:     1,
			Schedule:        "* * * * *",
			VisibilitySec:   300,
			ChainTimeoutSec: 10,
		},
		Answer: AnswerConfig{
			TimeoutSec: 120,
		},
		Stream: StreamConfig{
			MinIntervalMs:  2000,
			MinDeltaChars:  48,
			MinDeltaFactor: 0.1,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	// .env is optional; real deployments inject env directly.
	godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("ASKGATE_SLACK_SIGNING_SECRET", &c.Slack.SigningSecret)
	envStr("ASKGATE_SLACK_BOT_TOKEN", &c.Slack.BotToken)
	envStr("ASKGATE_SLACK_BOT_USER_ID", &c.Slack.BotUserID)
	envStr("ASKGATE_REDIS_ADDR", &c.Redis.Addr)
	envStr("ASKGATE_REDIS_PASSWORD", &c.Redis.Password)
	envInt("ASKGATE_REDIS_DB", &c.Redis.DB)
	envStr("ASKGATE_WORKER_TOKEN", &c.Worker.Token)
	envStr("ASKGATE_WORKER_SELF_URL", &c.Worker.SelfURL)
	envStr("ASKGATE_ANSWER_BASE_URL", &c.Answer.BaseURL)
	envStr("ASKGATE_ANSWER_API_KEY", &c.Answer.APIKey)
	envStr("ASKGATE_HISTORY_PATH", &c.History.Path)
	envInt("ASKGATE_GATEWAY_PORT", &c.Gateway.Port)
}

// validate rejects configurations that cannot possibly work. Missing
// credentials are caught later by doctor / first use, not here, so tests
// and partial setups stay runnable.
func (c *Config) validate() error {
	if c.Redis.QueueName == "" {
		return fmt.Errorf("config: redis.queue_name must not be empty")
	}
	if c.Worker.HardTimeoutSec <= 0 {
		return fmt.Errorf("config: worker.hard_timeout_sec must be positive")
	}
	if c.Worker.MaxConcurrent <= 0 {
		return fmt.Errorf("config: worker.max_concurrent must be positive")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("config: worker.max_attempts must be at least 1")
	}
	return nil
}
