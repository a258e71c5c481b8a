// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the tracking proxy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	Provider string         `yaml:"provider"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SES      SESConfig      `yaml:"ses"`
	TLS      TLSConfig      `yaml:"tls"`
	Tracking TrackingConfig `yaml:"tracking"`
	Postgres PostgresConfig `yaml:"postgres"`
	Events   EventsConfig   `yaml:"events"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TrackingConfig holds the instrumentation settings: the endpoints injected
// content points at, the injection toggles, and record retention.
type TrackingConfig struct {
	OpenURL       string `yaml:"open_url"`
	ClickURL      string `yaml:"click_url"`
	SiteRoot      string `yaml:"site_root"`
	InjectPixel   bool   `yaml:"inject_pixel"`
	InjectLinks   bool   `yaml:"inject_links"`
	TokenLength   int    `yaml:"token_length"`
	RetentionDays int    `yaml:"retention_days"`
}

// PostgresConfig holds the correlation store connection settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// EventsConfig holds the domain-event broker settings.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// FeedbackConfig holds the delivery-feedback queue settings.
type FeedbackConfig struct {
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// PostgresConfigured returns true if a store DSN is set.
func (c *Config) PostgresConfigured() bool {
	return c.Postgres.DSN != ""
}

// EventsConfigured returns true if a broker URL is set.
func (c *Config) EventsConfigured() bool {
	return c.Events.AMQPURL != ""
}

// FeedbackConfigured returns true if a feedback queue URL is set.
func (c *Config) FeedbackConfigured() bool {
	return c.Feedback.QueueURL != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Tracking.InjectPixel = true
	c.Tracking.InjectLinks = true
	c.Tracking.TokenLength = 16
	c.Events.Exchange = "mail-track.events"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SMTP_LISTEN"); v != "" {
		c.SMTP.Listen = v
	}
	if v := os.Getenv("SMTP_HOSTNAME"); v != "" {
		c.SMTP.Hostname = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("TRACKING_OPEN_URL"); v != "" {
		c.Tracking.OpenURL = v
	}
	if v := os.Getenv("TRACKING_CLICK_URL"); v != "" {
		c.Tracking.ClickURL = v
	}
	if v := os.Getenv("TRACKING_SITE_ROOT"); v != "" {
		c.Tracking.SiteRoot = v
	}
	if v := os.Getenv("TRACKING_INJECT_PIXEL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracking.InjectPixel = b
		}
	}
	if v := os.Getenv("TRACKING_INJECT_LINKS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracking.InjectLinks = b
		}
	}
	if v := os.Getenv("TRACKING_TOKEN_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Tracking.TokenLength = n
		}
	}
	if v := os.Getenv("TRACKING_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Tracking.RetentionDays = n
		}
	}

	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}

	if v := os.Getenv("EVENTS_AMQP_URL"); v != "" {
		c.Events.AMQPURL = v
	}
	if v := os.Getenv("EVENTS_EXCHANGE"); v != "" {
		c.Events.Exchange = v
	}

	if v := os.Getenv("FEEDBACK_QUEUE_URL"); v != "" {
		c.Feedback.QueueURL = v
	}
	if v := os.Getenv("FEEDBACK_REGION"); v != "" {
		c.Feedback.Region = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
