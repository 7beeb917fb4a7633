package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Workers  int    `mapstructure:"workers"`
	Timezone string `mapstructure:"timezone"`
	// MaxQueued caps triggers waiting for a free worker. Zero means no cap.
	MaxQueued int `mapstructure:"max_queued"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type ExecutionConfig struct {
	// Backend is "local" (in-process worker pool) or "temporal".
	Backend  string         `mapstructure:"backend"`
	Temporal TemporalConfig `mapstructure:"temporal"`
}

type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	From       string   `mapstructure:"from"`
	SMTPHost   string   `mapstructure:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Recipients []string `mapstructure:"recipients"`
	OnSuccess  bool     `mapstructure:"on_success"`
}

type NotificationsConfig struct {
	Email EmailConfig `mapstructure:"email"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type UploadsConfig struct {
	Directory string `mapstructure:"directory"`
	// MaxBytes caps one request body; zero disables the cap.
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	ServerPort    string              `mapstructure:"server_port"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Execution     ExecutionConfig     `mapstructure:"execution"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	CORS          CORSConfig          `mapstructure:"cors"`
	Uploads       UploadsConfig       `mapstructure:"uploads"`
	Log           LogConfig           `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "data/datafactory.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.max_queued", 0)
	v.SetDefault("execution.backend", "local")
	v.SetDefault("execution.temporal.host_port", "localhost:7233")
	v.SetDefault("execution.temporal.namespace", "default")
	v.SetDefault("execution.temporal.task_queue", "DATAFACTORY_JOBS")
	v.SetDefault("notifications.email.enabled", false)
	v.SetDefault("notifications.email.from", "")
	v.SetDefault("notifications.email.smtp_host", "")
	v.SetDefault("notifications.email.smtp_port", 587)
	v.SetDefault("notifications.email.username", "")
	v.SetDefault("notifications.email.password", "")
	v.SetDefault("notifications.email.recipients", []string{})
	v.SetDefault("notifications.email.on_success", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("uploads.directory", "uploads")
	v.SetDefault("uploads.max_bytes", 100<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from a YAML file, falling back to defaults.
// An explicit path must exist; otherwise config.yaml is looked up in the
// current directory and ./config and may be absent. Environment variables
// prefixed with DATAFACTORY_ override file values (DATAFACTORY_DATABASE_URL).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DATAFACTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.MaxQueued < 0 {
		return fmt.Errorf("scheduler.max_queued must not be negative, got %d", c.Scheduler.MaxQueued)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	if c.Uploads.MaxBytes < 0 {
		return fmt.Errorf("uploads.max_bytes must not be negative, got %d", c.Uploads.MaxBytes)
	}
	switch c.Execution.Backend {
	case "local", "temporal":
	default:
		return fmt.Errorf("execution.backend must be local or temporal, got %q", c.Execution.Backend)
	}
	if c.Notifications.Email.Enabled {
		if c.Notifications.Email.SMTPHost == "" || c.Notifications.Email.From == "" {
			return errors.New("notifications.email requires smtp_host and from")
		}
	}
	return nil
}

// Location returns the time zone cron expressions are evaluated in.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Scheduler.Timezone)
}
