package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine's five services. Every
// service binary (batchprocessor, senderworker, webhookintake,
// webhookconsumer, leader) loads the same Config and reads only the
// sections it needs.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Bus         BusConfig         `yaml:"bus"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Leader      LeaderConfig      `yaml:"leader"`
	RateLimits  RateLimitDefaults `yaml:"rate_limit_defaults"`
	SES         SESConfig         `yaml:"ses"`
	Resend      ResendConfig      `yaml:"resend"`
	Telnyx      TelnyxConfig      `yaml:"telnyx"`
	Webhook     WebhookModuleConfig `yaml:"webhook_module"`
	Push        PushConfig        `yaml:"push"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
}

// ServerConfig holds HTTP server configuration shared by the webhook
// intake and any future admin surface.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container-environment detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// PostgresConfig points at the relational store (R): users, send_configs,
// batches, recipients.
type PostgresConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins"`
}

func (c PostgresConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// RedisConfig points at the hot-state store (H): counters, idempotency
// records, the pending-sync set, rate-limit token buckets, the leader
// lock, and the webhook dedup cache.
type RedisConfig struct {
	URL            string `yaml:"url"`
	DialTimeoutSec int    `yaml:"dial_timeout_seconds"`
	PoolSize       int    `yaml:"pool_size"`
}

func (c RedisConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSec) * time.Second
}

// BusConfig points at the durable message bus (B). Subjects follow the
// fixed layout sys.batch.process, user.{userId}.chunk,
// webhook.{provider}.{eventType}.
type BusConfig struct {
	URL              string `yaml:"url"`
	StreamName       string `yaml:"stream_name"`
	AckWaitSeconds   int    `yaml:"ack_wait_seconds"`
	MaxDeliver       int    `yaml:"max_deliver"`
	DedupWindowMins  int    `yaml:"dedup_window_minutes"`
}

func (c BusConfig) AckWait() time.Duration {
	return time.Duration(c.AckWaitSeconds) * time.Second
}

func (c BusConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMins) * time.Minute
}

// EventStoreConfig points at the append-only event store (E): normalized
// webhook events plus the provider-message-id index.
type EventStoreConfig struct {
	BatchInsertSize int `yaml:"batch_insert_size"`
}

// LeaderConfig governs the distributed lock backing leader election for
// the scheduler/reconciler singleton.
type LeaderConfig struct {
	LockKey           string `yaml:"lock_key"`
	TTLSeconds        int    `yaml:"ttl_seconds"`
	HeartbeatSeconds  int    `yaml:"heartbeat_seconds"`
}

func (c LeaderConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c LeaderConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// RateLimitDefaults are the provider-level per-second ceilings applied
// when a SendConfig carries no explicit override (spec §4.5).
type RateLimitDefaults struct {
	SESPerSecond     int `yaml:"ses_per_second"`
	ResendPerSecond  int `yaml:"resend_per_second"`
	TelnyxPerSecond  int `yaml:"telnyx_per_second"`
	WebhookPerSecond int `yaml:"webhook_per_second"`
	PushPerSecond    int `yaml:"push_per_second"`
}

// SESConfig holds AWS SES API configuration for the email module's SES
// adapter.
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResendConfig holds Resend API configuration for the email module's
// true-batch adapter.
type ResendConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
	// SigningSecret verifies the svix-signature header on inbound
	// /webhooks/resend notifications (spec §6).
	SigningSecret string `yaml:"signing_secret"`
}

func (c ResendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TelnyxConfig holds Telnyx API configuration for the SMS module.
type TelnyxConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
	// SigningSecret verifies Telnyx's optional inbound webhook signature.
	SigningSecret string `yaml:"signing_secret"`
}

func (c TelnyxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebhookModuleConfig holds webhook-module defaults. Load fills them in,
// but nothing reads them: the webhook module takes its timeout and
// retry count from each send-config's domain.WebhookConfig, falling
// back to modules.DefaultTimeout and httpretry's default retry count.
type WebhookModuleConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	DefaultRetryCount     int `yaml:"default_retry_count"`
}

func (c WebhookModuleConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// PushConfig holds push-provider configuration. When Enabled, bootstrap
// registers the FCM adapter under provider "fcm" with ServerKey as its
// credential; the push mock adapter is registered either way.
type PushConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ServerKey string `yaml:"server_key"`
}

// ReconcilerConfig governs the reconciler's drain/stuck-batch sweeps.
type ReconcilerConfig struct {
	DrainIntervalSeconds int `yaml:"drain_interval_seconds"`
	StuckAfterMinutes    int `yaml:"stuck_after_minutes"`
}

func (c ReconcilerConfig) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalSeconds) * time.Second
}

func (c ReconcilerConfig) StuckAfter() time.Duration {
	return time.Duration(c.StuckAfterMinutes) * time.Minute
}

// Load reads and parses the configuration file, filling in defaults for
// any zero-valued field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifeMins == 0 {
		cfg.Postgres.ConnMaxLifeMins = 30
	}
	if cfg.Redis.DialTimeoutSec == 0 {
		cfg.Redis.DialTimeoutSec = 5
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}
	if cfg.Bus.StreamName == "" {
		cfg.Bus.StreamName = "ENGINE"
	}
	if cfg.Bus.AckWaitSeconds == 0 {
		cfg.Bus.AckWaitSeconds = 30
	}
	if cfg.Bus.MaxDeliver == 0 {
		cfg.Bus.MaxDeliver = 5
	}
	if cfg.Bus.DedupWindowMins == 0 {
		cfg.Bus.DedupWindowMins = 2
	}
	if cfg.EventStore.BatchInsertSize == 0 {
		cfg.EventStore.BatchInsertSize = 500
	}
	if cfg.Leader.LockKey == "" {
		cfg.Leader.LockKey = "engine:leader"
	}
	if cfg.Leader.TTLSeconds == 0 {
		cfg.Leader.TTLSeconds = 15
	}
	if cfg.Leader.HeartbeatSeconds == 0 {
		cfg.Leader.HeartbeatSeconds = 5
	}
	if cfg.RateLimits.SESPerSecond == 0 {
		cfg.RateLimits.SESPerSecond = 14
	}
	if cfg.RateLimits.ResendPerSecond == 0 {
		cfg.RateLimits.ResendPerSecond = 100
	}
	if cfg.RateLimits.TelnyxPerSecond == 0 {
		cfg.RateLimits.TelnyxPerSecond = 10
	}
	if cfg.RateLimits.WebhookPerSecond == 0 {
		cfg.RateLimits.WebhookPerSecond = 50
	}
	if cfg.RateLimits.PushPerSecond == 0 {
		cfg.RateLimits.PushPerSecond = 100
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Resend.TimeoutSeconds == 0 {
		cfg.Resend.TimeoutSeconds = 30
	}
	if cfg.Resend.BaseURL == "" {
		cfg.Resend.BaseURL = "https://api.resend.com"
	}
	if cfg.Telnyx.TimeoutSeconds == 0 {
		cfg.Telnyx.TimeoutSeconds = 30
	}
	if cfg.Telnyx.BaseURL == "" {
		cfg.Telnyx.BaseURL = "https://api.telnyx.com"
	}
	if cfg.Webhook.DefaultTimeoutSeconds == 0 {
		cfg.Webhook.DefaultTimeoutSeconds = 10
	}
	if cfg.Webhook.DefaultRetryCount == 0 {
		cfg.Webhook.DefaultRetryCount = 3
	}
	if cfg.Reconciler.DrainIntervalSeconds == 0 {
		cfg.Reconciler.DrainIntervalSeconds = 10
	}
	if cfg.Reconciler.StuckAfterMinutes == 0 {
		cfg.Reconciler.StuckAfterMinutes = 15
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env
// vars, so secrets can live in .env locally and in real env vars in
// production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Resend.APIKey = v
	}
	if v := os.Getenv("TELNYX_API_KEY"); v != "" {
		cfg.Telnyx.APIKey = v
	}

	return cfg, nil
}
