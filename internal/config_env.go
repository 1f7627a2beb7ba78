package internal

import "time"

// LoadConfigFromEnv builds the configuration from environment variables
// for containerized deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_SERVER_PORT", 8080),
			BaseURL:           getEnv("HTTP_SERVER_BASE_URL", "http://localhost:8080"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_SOURCE", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:     getEnv("GATEWAY_BASE_URL", ""),
			SpCode:      getEnv("GATEWAY_SP_CODE", ""),
			GrpCode:     getEnv("GATEWAY_GRP_CODE", ""),
			SubSpCode:   getEnv("GATEWAY_SUB_SP_CODE", ""),
			SysCode:     getEnv("GATEWAY_SYS_CODE", ""),
			SignKeyPath: getEnv("GATEWAY_SIGN_KEY_PATH", ""),
			Timeout:     getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
			MaxAttempts: uint64(getEnvAsInt("GATEWAY_MAX_ATTEMPTS", 5)),
			Backoff:     getEnvAsDuration("GATEWAY_BACKOFF", time.Minute),
		},
		Reconciliation: ReconciliationConfig{
			CronSpec:     getEnv("RECONCILIATION_CRON_SPEC", "0 2 * * *"),
			BackfillDays: getEnvAsInt("RECONCILIATION_BACKFILL_DAYS", 7),
		},
		Notify: NotifyConfig{
			Enabled:       getEnv("NOTIFY_ENABLED", "false") == "true",
			SMTPHost:      getEnv("NOTIFY_SMTP_HOST", ""),
			SMTPPort:      getEnvAsInt("NOTIFY_SMTP_PORT", 587),
			Username:      getEnv("NOTIFY_SMTP_USERNAME", ""),
			Password:      getEnv("NOTIFY_SMTP_PASSWORD", ""),
			From:          getEnv("NOTIFY_FROM", ""),
			OperatorEmail: getEnv("NOTIFY_OPERATOR_EMAIL", ""),
		},
		Jobs: JobsConfig{
			MaxWorkers:     getEnvAsInt("JOBS_MAX_WORKERS", 10),
			QueueSize:      getEnvAsInt("JOBS_QUEUE_SIZE", 100),
			DefaultRetries: uint64(getEnvAsInt("JOBS_DEFAULT_RETRIES", 5)),
			DefaultBackoff: getEnvAsDuration("JOBS_DEFAULT_BACKOFF", time.Minute),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOGGING_LEVEL", "info"),
				Format: getEnv("LOGGING_FORMAT", "json"),
			},
		},
	}
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}
