package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"http_server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Gateway        GatewayConfig        `mapstructure:"gateway" validate:"required"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Notify         NotifyConfig         `mapstructure:"notify"`
	Jobs           JobsConfig           `mapstructure:"jobs"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

// GatewayConfig holds the GePG engine endpoint and this service
// provider's protocol identity.
type GatewayConfig struct {
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	SpCode      string        `mapstructure:"sp_code" validate:"required"`
	GrpCode     string        `mapstructure:"grp_code"`
	SubSpCode   string        `mapstructure:"sub_sp_code"`
	SysCode     string        `mapstructure:"sys_code" validate:"required"`
	SignKeyPath string        `mapstructure:"sign_key_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts uint64        `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type ReconciliationConfig struct {
	CronSpec     string `mapstructure:"cron_spec"`
	BackfillDays int    `mapstructure:"backfill_days"`
}

type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// OperatorEmail receives alerts for callbacks that exhaust their
	// retries. Empty disables operator alerts.
	OperatorEmail string `mapstructure:"operator_email"`
}

type JobsConfig struct {
	MaxWorkers     int           `mapstructure:"max_workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	DefaultRetries uint64        `mapstructure:"default_retries"`
	DefaultBackoff time.Duration `mapstructure:"default_backoff"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Notify.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("notify config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *GatewayConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url %s: %w", c.BaseURL, err)
	}
	if c.SpCode == "" {
		return errors.New("sp_code is required")
	}
	if c.SysCode == "" {
		return errors.New("sys_code is required")
	}
	if c.SignKeyPath != "" {
		if _, err := os.Stat(c.SignKeyPath); err != nil {
			return fmt.Errorf("sign_key_path: %w", err)
		}
	}
	return nil
}

func (c *NotifyConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SMTPHost == "" {
		return errors.New("smtp_host is required when notify is enabled")
	}
	if c.From == "" {
		return errors.New("from address is required when notify is enabled")
	}
	return nil
}
