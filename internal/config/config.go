package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"docdrive/internal/service/s3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	S3       s3.Config      `mapstructure:"S3"`
	Sweeper  SweeperConfig  `mapstructure:"Sweeper"`
	Log      LogConfig      `mapstructure:"Log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"Port" validate:"required,numeric"`
	ShutdownTimeout time.Duration `mapstructure:"ShutdownTimeout" validate:"gt=0"`
	RequestTimeout  time.Duration `mapstructure:"RequestTimeout" validate:"gt=0"`
	AllowedOrigins  []string      `mapstructure:"AllowedOrigins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"Driver" validate:"oneof=postgres memory"`
	Host            string        `mapstructure:"Host" validate:"required_if=Driver postgres"`
	Port            string        `mapstructure:"Port" validate:"required_if=Driver postgres"`
	User            string        `mapstructure:"User" validate:"required_if=Driver postgres"`
	Password        string        `mapstructure:"Password"`
	Name            string        `mapstructure:"Name" validate:"required_if=Driver postgres"`
	SSLMode         string        `mapstructure:"SSLMode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `mapstructure:"MaxOpenConns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"MaxIdleConns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"ConnMaxLifetime"`
	ConnectAttempts int           `mapstructure:"ConnectAttempts" validate:"gte=1"`
	ConnectDelay    time.Duration `mapstructure:"ConnectDelay"`
}

type SweeperConfig struct {
	Enabled   bool          `mapstructure:"Enabled"`
	Interval  time.Duration `mapstructure:"Interval" validate:"gt=0"`
	BatchSize int           `mapstructure:"BatchSize" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"Level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"Format" validate:"oneof=console json"`
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"Server.Port":              "HTTP_PORT",
	"Server.ShutdownTimeout":   "HTTP_SHUTDOWN_TIMEOUT",
	"Server.RequestTimeout":    "HTTP_REQUEST_TIMEOUT",
	"Server.AllowedOrigins":    "HTTP_ALLOWED_ORIGINS",
	"Database.Driver":          "DATABASE_DRIVER",
	"Database.Host":            "DATABASE_HOST",
	"Database.Port":            "DATABASE_PORT",
	"Database.User":            "DATABASE_USER",
	"Database.Password":        "DATABASE_PASSWORD",
	"Database.Name":            "DATABASE_NAME",
	"Database.SSLMode":         "DATABASE_SSLMODE",
	"Database.MaxOpenConns":    "DATABASE_MAX_OPEN_CONNS",
	"Database.MaxIdleConns":    "DATABASE_MAX_IDLE_CONNS",
	"Database.ConnMaxLifetime": "DATABASE_CONN_MAX_LIFETIME",
	"Database.ConnectAttempts": "DATABASE_CONNECT_ATTEMPTS",
	"Database.ConnectDelay":    "DATABASE_CONNECT_DELAY",
	"S3.Endpoint":              "S3_ENDPOINT",
	"S3.Region":                "S3_REGION",
	"S3.AccessKeyID":           "S3_ACCESS_KEY_ID",
	"S3.SecretAccessKey":       "S3_SECRET_ACCESS_KEY",
	"S3.Bucket":                "S3_BUCKET",
	"S3.UsePathStyle":          "S3_USE_PATH_STYLE",
	"S3.PresignTTL":            "S3_PRESIGN_TTL",
	"Sweeper.Enabled":          "SWEEPER_ENABLED",
	"Sweeper.Interval":         "SWEEPER_INTERVAL",
	"Sweeper.BatchSize":        "SWEEPER_BATCH_SIZE",
	"Log.Level":                "LOG_LEVEL",
	"Log.Format":               "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.ShutdownTimeout", 15*time.Second)
	v.SetDefault("Server.RequestTimeout", time.Minute)
	v.SetDefault("Server.AllowedOrigins", []string{"*"})

	v.SetDefault("Database.Driver", DriverPostgres)
	v.SetDefault("Database.Port", "5432")
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Database.MaxOpenConns", 25)
	v.SetDefault("Database.MaxIdleConns", 5)
	v.SetDefault("Database.ConnMaxLifetime", 5*time.Minute)
	v.SetDefault("Database.ConnectAttempts", 5)
	v.SetDefault("Database.ConnectDelay", 5*time.Second)

	v.SetDefault("S3.Region", "us-east-1")
	v.SetDefault("S3.PresignTTL", 15*time.Minute)

	v.SetDefault("Sweeper.Enabled", true)
	v.SetDefault("Sweeper.Interval", time.Minute)
	v.SetDefault("Sweeper.BatchSize", 100)

	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.Format", "console")
}

// NewConfig loads the configuration from path and the environment, the
// environment taking precedence. path may be a YAML/JSON/TOML file with
// nested sections or a .env file with the same flat names as the
// environment. A missing file is not an error.
func NewConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == ".env" {
			v.SetConfigType("dotenv")
		}

		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		switch {
		case err == nil:
			applyFlatKeys(v)
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config from %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyFlatKeys lifts values a .env file stored under environment-style names
// into their sections, unless the real environment overrides them.
func applyFlatKeys(v *viper.Viper) {
	for key, env := range envKeys {
		flat := strings.ToLower(env)
		if !v.InConfig(flat) {
			continue
		}
		if _, ok := os.LookupEnv(env); ok {
			continue
		}
		v.Set(key, v.Get(flat))
	}
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}
	return c.S3.Validate()
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
