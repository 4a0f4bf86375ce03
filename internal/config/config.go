package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the ledger service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	JWTSecret              string
	CORSAllowOrigins       string
	EventsChannel          string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	TopicCatalogDir        string
	AnalyticsCacheTTL      time.Duration
	OutboxDrainInterval    time.Duration
	OutboxDrainBatch       int
	CleanupConcurrency     int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// CloudinaryEnabled reports whether drawing uploads should go to Cloudinary.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("LEDGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Ledger API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel", "ledger")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("cloudinary.folder", "gema/drawings")
	v.SetDefault("topic_catalog_dir", "./curriculum")
	v.SetDefault("analytics.cache_ttl", "10m")
	v.SetDefault("outbox.drain_interval", "30s")
	v.SetDefault("outbox.drain_batch", 100)
	v.SetDefault("cleanup.concurrency", 4)

	cacheTTL, err := parseDuration(v, "analytics.cache_ttl", "10m")
	if err != nil {
		return Config{}, fmt.Errorf("invalid analytics cache ttl: %w", err)
	}

	drainInterval, err := parseDuration(v, "outbox.drain_interval", "30s")
	if err != nil {
		return Config{}, fmt.Errorf("invalid outbox drain interval: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		CORSAllowOrigins:       v.GetString("cors.allow_origins"),
		EventsChannel:          v.GetString("events.channel"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		TopicCatalogDir:        v.GetString("topic_catalog_dir"),
		AnalyticsCacheTTL:      cacheTTL,
		OutboxDrainInterval:    drainInterval,
		OutboxDrainBatch:       v.GetInt("outbox.drain_batch"),
		CleanupConcurrency:     v.GetInt("cleanup.concurrency"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	if cfg.OutboxDrainBatch <= 0 {
		cfg.OutboxDrainBatch = 100
	}

	if cfg.CleanupConcurrency <= 0 {
		cfg.CleanupConcurrency = 4
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key, fallback string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		raw = fallback
	}

	return time.ParseDuration(raw)
}
