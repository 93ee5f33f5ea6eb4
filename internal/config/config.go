/**
 * @description
 * This package handles the configuration management for the library-service. It
 * uses Viper to read configuration from environment variables (and an optional
 * .env file), and returns one Config value that is passed into constructors.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration binding.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 */

package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the library-service.
type Config struct {
	ServerPort                      string `mapstructure:"SERVER_PORT"`
	DatabaseURL                     string `mapstructure:"DATABASE_URL"`
	JWTSecret                       string `mapstructure:"JWT_SECRET"`
	UploadDir                       string `mapstructure:"UPLOAD_DIR"`
	MaxUploadBytes                  int64  `mapstructure:"MAX_UPLOAD_BYTES"`
	DownloadCostCredits             int64  `mapstructure:"DOWNLOAD_COST_CREDITS"`
	PlanExtensionMonths             int    `mapstructure:"PLAN_EXTENSION_MONTHS"`
	CORSAllowedOrigins              string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RabbitMQURL                     string `mapstructure:"RABBITMQ_URL"`
	EventsExchange                  string `mapstructure:"EVENTS_EXCHANGE"`
	RedisURL                        string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix            string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	DownloadRateLimitPerMinute      int    `mapstructure:"DOWNLOAD_RATE_LIMIT_PER_MINUTE"`
	PaymentSubmitRateLimitPerMinute int    `mapstructure:"PAYMENT_SUBMIT_RATE_LIMIT_PER_MINUTE"`
	ExpirySweepSchedule             string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`
	CoverWidthPx                    int    `mapstructure:"COVER_WIDTH_PX"`
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET must be configured")

const (
	defaultRateLimitPrefix = "library:rate_limit"
	defaultMaxUploadBytes  = 50 << 20
)

// LoadConfig reads configuration from the environment, with an optional .env in path.
func LoadConfig(path string) (config Config, err error) {
	// godotenv never overrides variables that are already set.
	if loadErr := godotenv.Load(filepath.Join(path, ".env")); loadErr != nil && !errors.Is(loadErr, os.ErrNotExist) {
		slog.Warn("failed to load .env file; using environment values", "error", loadErr)
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("UPLOAD_DIR", "uploads")
	viper.SetDefault("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)
	viper.SetDefault("DOWNLOAD_COST_CREDITS", 5)
	viper.SetDefault("PLAN_EXTENSION_MONTHS", 1)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("EVENTS_EXCHANGE", "library.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("DOWNLOAD_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("PAYMENT_SUBMIT_RATE_LIMIT_PER_MINUTE", 5)
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "@every 15m")
	viper.SetDefault("COVER_WIDTH_PX", 400)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("UPLOAD_DIR")
	_ = viper.BindEnv("MAX_UPLOAD_BYTES")
	_ = viper.BindEnv("DOWNLOAD_COST_CREDITS")
	_ = viper.BindEnv("PLAN_EXTENSION_MONTHS")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("DOWNLOAD_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PAYMENT_SUBMIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("EXPIRY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("COVER_WIDTH_PX")

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}

	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = defaultMaxUploadBytes
	}
	if config.DownloadCostCredits <= 0 {
		slog.Warn("non-positive download cost configured; using default", "download_cost_credits", config.DownloadCostCredits)
		config.DownloadCostCredits = 5
	}
	if config.PlanExtensionMonths <= 0 {
		config.PlanExtensionMonths = 1
	}
	if config.CoverWidthPx <= 0 {
		config.CoverWidthPx = 400
	}
	if strings.TrimSpace(config.ExpirySweepSchedule) == "" {
		config.ExpirySweepSchedule = "@every 15m"
	}

	if config.JWTSecret == "" {
		err = ErrMissingJWTSecret
		return
	}
	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// UsesPostgres reports whether a database URL was configured.
func (c Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}
