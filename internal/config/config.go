package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	CORSOrigins []string

	AdminSecret        string
	CronSecret         string
	EmailWebhookSecret string
	WebhookSecret      string

	PaymentTimeWindowMinutes    int
	PaymentExpiryMinutes        int
	AutoApproveExact            bool
	AutoApproveMinNameScore     float64
	WhitelistAcceptAllWhenEmpty bool
	SettingsCacheTTL            time.Duration

	IngestInterval  time.Duration
	RematchInterval time.Duration
	SweepInterval   time.Duration
	SweepBatchSize  int

	WebhookInterval    time.Duration
	WebhookBatchLimit  int
	WebhookMaxAttempts int
	WebhookCooldown    time.Duration
	WebhookTimeout     time.Duration

	IMAPAddr     string
	IMAPUsername string
	IMAPPassword string
	IMAPMailbox  string
	IMAPTimeout  time.Duration
	IMAPTLS      bool

	MailDropDir   string
	PushQueueSize int

	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("cors_origins", "http://localhost:3000")

	v.SetDefault("payment_time_window_minutes", 15)
	v.SetDefault("payment_expiry_minutes", 60)
	v.SetDefault("auto_approve_exact", true)
	v.SetDefault("auto_approve_min_name_similarity", 0)
	v.SetDefault("whitelist_accept_all_when_empty", false)
	v.SetDefault("settings_cache_ttl", "10s")

	v.SetDefault("ingest_interval", "10s")
	v.SetDefault("rematch_interval", "15s")
	v.SetDefault("sweep_interval", "1h")
	v.SetDefault("sweep_batch_size", 100)

	v.SetDefault("webhook_interval", "1m")
	v.SetDefault("webhook_batch_limit", 100)
	v.SetDefault("webhook_max_attempts", 5)
	v.SetDefault("webhook_cooldown", "5m")
	v.SetDefault("webhook_timeout", "10s")

	v.SetDefault("imap_mailbox", "INBOX")
	v.SetDefault("imap_timeout", "8s")
	v.SetDefault("imap_tls", true)
	v.SetDefault("push_queue_size", 256)
	v.SetDefault("kafka_topic", "payment.events")
}

// Load reads .env (if present), then the optional YAML file at path, then the
// process environment. Later sources win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTPAddr:    v.GetString("http_addr"),
		DatabaseURL: v.GetString("database_url"),
		LogLevel:    v.GetString("log_level"),
		LogFormat:   v.GetString("log_format"),
		CORSOrigins: splitList(v.GetString("cors_origins")),

		AdminSecret:        v.GetString("admin_secret"),
		CronSecret:         v.GetString("cron_secret"),
		EmailWebhookSecret: v.GetString("email_webhook_secret"),
		WebhookSecret:      v.GetString("webhook_secret"),

		PaymentTimeWindowMinutes:    v.GetInt("payment_time_window_minutes"),
		PaymentExpiryMinutes:        v.GetInt("payment_expiry_minutes"),
		AutoApproveExact:            v.GetBool("auto_approve_exact"),
		AutoApproveMinNameScore:     v.GetFloat64("auto_approve_min_name_similarity"),
		WhitelistAcceptAllWhenEmpty: v.GetBool("whitelist_accept_all_when_empty"),
		SettingsCacheTTL:            v.GetDuration("settings_cache_ttl"),

		IngestInterval:  v.GetDuration("ingest_interval"),
		RematchInterval: v.GetDuration("rematch_interval"),
		SweepInterval:   v.GetDuration("sweep_interval"),
		SweepBatchSize:  v.GetInt("sweep_batch_size"),

		WebhookInterval:    v.GetDuration("webhook_interval"),
		WebhookBatchLimit:  v.GetInt("webhook_batch_limit"),
		WebhookMaxAttempts: v.GetInt("webhook_max_attempts"),
		WebhookCooldown:    v.GetDuration("webhook_cooldown"),
		WebhookTimeout:     v.GetDuration("webhook_timeout"),

		IMAPAddr:     v.GetString("imap_addr"),
		IMAPUsername: v.GetString("imap_username"),
		IMAPPassword: v.GetString("imap_password"),
		IMAPMailbox:  v.GetString("imap_mailbox"),
		IMAPTimeout:  v.GetDuration("imap_timeout"),
		IMAPTLS:      v.GetBool("imap_tls"),

		MailDropDir:   v.GetString("mail_drop_dir"),
		PushQueueSize: v.GetInt("push_queue_size"),

		RedisAddr:    v.GetString("redis_addr"),
		KafkaBrokers: splitList(v.GetString("kafka_brokers")),
		KafkaTopic:   v.GetString("kafka_topic"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate clamps soft limits and rejects values the scheduler cannot run with.
func (c *Config) Validate() error {
	c.PaymentTimeWindowMinutes = ClampWindow(c.PaymentTimeWindowMinutes)
	if c.PaymentExpiryMinutes < 1 || c.PaymentExpiryMinutes > 1440 {
		return fmt.Errorf("payment_expiry_minutes must be within 1-1440, got %d", c.PaymentExpiryMinutes)
	}
	if c.AutoApproveMinNameScore < 0 || c.AutoApproveMinNameScore > 100 {
		return fmt.Errorf("auto_approve_min_name_similarity must be within 0-100, got %v", c.AutoApproveMinNameScore)
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("webhook_max_attempts must be positive, got %d", c.WebhookMaxAttempts)
	}
	if c.WebhookCooldown < 0 {
		return fmt.Errorf("webhook_cooldown must not be negative")
	}
	if c.WebhookBatchLimit < 1 || c.WebhookBatchLimit > 100 {
		c.WebhookBatchLimit = 100
	}
	if c.SweepBatchSize < 1 {
		c.SweepBatchSize = 100
	}
	if c.PushQueueSize < 1 {
		c.PushQueueSize = 256
	}
	for name, d := range map[string]time.Duration{
		"ingest_interval":  c.IngestInterval,
		"rematch_interval": c.RematchInterval,
		"sweep_interval":   c.SweepInterval,
		"webhook_interval": c.WebhookInterval,
		"webhook_timeout":  c.WebhookTimeout,
		"imap_timeout":     c.IMAPTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// ClampWindow keeps the payment time window within 1-1440 minutes.
func ClampWindow(minutes int) int {
	switch {
	case minutes < 1:
		return 1
	case minutes > 1440:
		return 1440
	}
	return minutes
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
