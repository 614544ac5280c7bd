package config

import "time"

// Config is the root configuration for the askgate pipeline.
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Slack   SlackConfig   `json:"slack"`
	Redis   RedisConfig   `json:"redis"`
	Worker  WorkerConfig  `json:"worker"`
	Answer  AnswerConfig  `json:"answer"`
	Stream  StreamConfig  `json:"stream"`
	History HistoryConfig `json:"history,omitempty"`
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SlackConfig configures the chat platform integration.
// SigningSecret and BotToken are NEVER read from the config file (secrets) —
// only from env ASKGATE_SLACK_SIGNING_SECRET / ASKGATE_SLACK_BOT_TOKEN.
type SlackConfig struct {
	SigningSecret string `json:"-"`
	BotToken      string `json:"-"`
	BotUserID     string `json:"bot_user_id"`        // self-mention token, e.g. "U0123ABCDEF"
	APIBase       string `json:"api_base,omitempty"` // override for tests/proxies
}

// RedisConfig configures the shared queue and dedup store.
// Password comes from env ASKGATE_REDIS_PASSWORD only.
type RedisConfig struct {
	Addr        string `json:"addr"`
	Password    string `json:"-"`
	DB          int    `json:"db,omitempty"`
	QueueName   string `json:"queue_name"`
	DedupTTLSec int    `json:"dedup_ttl_sec"` // admission window, default 1800
}

// WorkerConfig configures the coordinator and job processor.
// Token comes from env ASKGATE_WORKER_TOKEN only.
type WorkerConfig struct {
	Token           string `json:"-"`
	SelfURL         string `json:"self_url"`           // own worker endpoint, target of chained triggers
	HardTimeoutSec  int    `json:"hard_timeout_sec"`   // per-job ceiling, default 55
	InterimDelaySec int    `json:"interim_delay_sec"`  // "still working" notice delay, default 8
	MaxConcurrent   int    `json:"max_concurrent"`     // consumer ceiling, default 5
	MaxAttempts     int    `json:"max_attempts"`       // deliveries per job incl. first, default 1
	Schedule        string `json:"schedule,omitempty"` // cron expression for the safety-net tick
	VisibilitySec   int    `json:"visibility_sec"`     // unverified-delivery timeout, default 300
	ChainTimeoutSec int    `json:"chain_timeout_sec"`  // fire-and-forget trigger timeout, default 10
}

// AnswerConfig configures the answer-generation service client.
// APIKey comes from env ASKGATE_ANSWER_API_KEY only.
type AnswerConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"-"`
	TimeoutSec int    `json:"timeout_sec,omitempty"` // HTTP client timeout, default 120
}

// StreamConfig tunes the streaming updater.
type StreamConfig struct {
	Enabled        bool    `json:"enabled"`
	MinIntervalMs  int     `json:"min_interval_ms"`  // floor between edits, default 2000
	MinDeltaChars  int     `json:"min_delta_chars"`  // absolute growth floor, default 48
	MinDeltaFactor float64 `json:"min_delta_factor"` // growth floor as fraction of prior length, default 0.1
}

// HistoryConfig configures the local job audit store.
type HistoryConfig struct {
	Path string `json:"path,omitempty"` // sqlite file, empty = disabled
}

// DedupTTL returns the configured admission window.
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.Redis.DedupTTLSec) * time.Second
}

// HardTimeout returns the per-job processing ceiling.
func (c *Config) HardTimeout() time.Duration {
	return time.Duration(c.Worker.HardTimeoutSec) * time.Second
}

// InterimDelay returns the delay before the "still working" notice.
func (c *Config) InterimDelay() time.Duration {
	return time.Duration(c.Worker.InterimDelaySec) * time.Second
}

// Visibility returns the unverified-delivery timeout.
func (c *Config) Visibility() time.Duration {
	return time.Duration(c.Worker.VisibilitySec) * time.Second
}
