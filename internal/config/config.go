// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package config loads and validates the Rollcall configuration from
// layered sources: struct defaults, an optional YAML file, then
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration.
type Config struct {
	App      AppConfig      `koanf:"app"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Producer ProducerConfig `koanf:"producer"`
	Consumer ConsumerConfig `koanf:"consumer"`
	Gateway  GatewayConfig  `koanf:"gateway"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// AppConfig holds deployment-wide settings.
type AppConfig struct {
	// Timezone is the deployment zone for schedule matching. Tenants
	// may override it per tenant in their settings.
	Timezone string `koanf:"timezone" validate:"required"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxConns        int32         `koanf:"max_conns" validate:"gte=1"`
	MinConns        int32         `koanf:"min_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	Migrate         bool          `koanf:"migrate"`
}

// NATSConfig holds the queue settings.
type NATSConfig struct {
	URL            string `koanf:"url" validate:"required"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`

	StreamName  string `koanf:"stream_name" validate:"required"`
	Subject     string `koanf:"subject" validate:"required"`
	DurableName string `koanf:"durable_name" validate:"required"`
	QueueGroup  string `koanf:"queue_group" validate:"required"`

	SubscribersCount int           `koanf:"subscribers_count" validate:"gte=1"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver" validate:"gte=1"`

	RetryCount           int           `koanf:"retry_count" validate:"gte=0"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	PoisonQueueTopic     string        `koanf:"poison_queue_topic"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// ProducerConfig holds the minute fan-out settings.
type ProducerConfig struct {
	Enabled bool `koanf:"enabled"`

	// BatchSize is the enqueue chunk size per tick.
	BatchSize int `koanf:"batch_size" validate:"gte=1"`

	// CommuteFinalizeTime is the HH:MM minute the end-of-day commute
	// absence job fires for study-room tenants.
	CommuteFinalizeTime string `koanf:"commute_finalize_time" validate:"required"`

	// AssignmentRemindTime is the HH:MM minute the homework reminder
	// job fires for academy tenants.
	AssignmentRemindTime string `koanf:"assignment_remind_time" validate:"required"`
}

// ConsumerConfig holds the handler-side settings.
type ConsumerConfig struct {
	Enabled        bool          `koanf:"enabled"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`

	// DrainBatchSize caps queue entries processed per drain job.
	DrainBatchSize int `koanf:"drain_batch_size" validate:"gte=1"`
}

// GatewayConfig holds the outbound messaging settings. Empty provider
// credentials put the gateway in no-op mode: sends report success
// without calling the provider.
type GatewayConfig struct {
	APIKey    string `koanf:"api_key"`
	APISecret string `koanf:"api_secret"`
	BaseURL   string `koanf:"base_url"`
	PfID      string `koanf:"pf_id"`
	Sender    string `koanf:"sender"`

	TelegramToken  string `koanf:"telegram_token"`
	TelegramChatID string `koanf:"telegram_chat_id"`

	// MessageCost is the credit cost charged per send attempt.
	MessageCost int64 `koanf:"message_cost" validate:"gte=0"`

	TemplateCacheTTL time.Duration `koanf:"template_cache_ttl"`
	RequestTimeout   time.Duration `koanf:"request_timeout"`
	RatePerSecond    float64       `koanf:"rate_per_second" validate:"gte=0"`
}

// ServerConfig holds the ops HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults
// load first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Timezone: "Asia/Seoul",
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxConns:        8,
			MinConns:        1,
			ConnMaxLifetime: time.Hour,
			Migrate:         true,
		},
		NATS: NATSConfig{
			URL:                  "nats://127.0.0.1:4222",
			EmbeddedServer:       true,
			StoreDir:             "/data/nats/jetstream",
			StreamName:           "ROLLCALL_JOBS",
			Subject:              "jobs",
			DurableName:          "job-processor",
			QueueGroup:           "processors",
			SubscribersCount:     4,
			AckWait:              30 * time.Second,
			MaxDeliver:           5,
			RetryCount:           3,
			RetryInitialInterval: 100 * time.Millisecond,
			PoisonQueueTopic:     "jobs.poison",
			CloseTimeout:         30 * time.Second,
		},
		Producer: ProducerConfig{
			Enabled:              true,
			BatchSize:            100,
			CommuteFinalizeTime:  "23:50",
			AssignmentRemindTime: "18:00",
		},
		Consumer: ConsumerConfig{
			Enabled:        true,
			HandlerTimeout: 25 * time.Second,
			DrainBatchSize: 50,
		},
		Gateway: GatewayConfig{
			BaseURL:          "https://api.solapi.com",
			MessageCost:      12,
			TemplateCacheTTL: 5 * time.Minute,
			RequestTimeout:   10 * time.Second,
			RatePerSecond:    20,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8317,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var validate = validator.New()

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if (c.Producer.Enabled || c.Consumer.Enabled) && c.Database.DSN == "" {
		return fmt.Errorf("validate config: database.dsn required when the pipeline is enabled")
	}
	return nil
}
