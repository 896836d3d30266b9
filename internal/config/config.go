package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
	Quota    QuotaConfig    `mapstructure:"quota"    validate:"required"`
	Cooldown CooldownConfig `mapstructure:"cooldown" validate:"required"`
	Jobs     JobsConfig     `mapstructure:"jobs"     validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains the settings for the bearer-token middleware. Token
// issuance (login, OAuth, sessions) is owned by the account service; this
// API only verifies tokens it is handed.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// LLMConfig contains all generation-provider related settings.
type LLMConfig struct {
	GeminiAPIKey   string        `mapstructure:"gemini_api_key" validate:"required"`
	ModelName      string        `mapstructure:"model_name"     validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// QuotaConfig contains the weekly generation limits per plan. Admin users
// bypass quota entirely and need no entry here.
type QuotaConfig struct {
	FreeWeeklyLimit int `mapstructure:"free_weekly_limit" validate:"required,gt=0"`
	PlusWeeklyLimit int `mapstructure:"plus_weekly_limit" validate:"required,gt=0"`
}

// CooldownConfig contains the request-spacing throttle settings.
type CooldownConfig struct {
	Duration time.Duration `mapstructure:"duration" validate:"required"`
}

// JobsConfig contains the job queue and worker pool settings.
type JobsConfig struct {
	WorkerCount     int           `mapstructure:"worker_count"      validate:"required,gt=0"`
	QueueSize       int           `mapstructure:"queue_size"        validate:"required,gt=0"`
	MaxAttempts     int           `mapstructure:"max_attempts"      validate:"required,gt=0"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"      validate:"required"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"       validate:"required"`
	StaleActiveAge  time.Duration `mapstructure:"stale_active_age"  validate:"required"`
	SchedulerPeriod time.Duration `mapstructure:"scheduler_period"  validate:"required"`
}
