package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`

	// StorageBackend selects the persistence layer: file, badger or mongo.
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	DataDir        string `mapstructure:"DATA_DIR"`
	BadgerDBPath   string `mapstructure:"BADGERDB_PATH"`
	MongoURI       string `mapstructure:"MONGO_URI"`
	MongoDatabase  string `mapstructure:"MONGO_DATABASE"`

	// PendingTTLMinutes is how long a staged link waits for a decision.
	PendingTTLMinutes    int    `mapstructure:"PENDING_TTL_MINUTES"`
	DeletePromptOnExpiry bool   `mapstructure:"DELETE_PROMPT_ON_EXPIRY"`
	DefaultCategory      string `mapstructure:"DEFAULT_CATEGORY"`

	// ClassifierURL is the safety-scoring endpoint; empty disables scoring.
	ClassifierURL    string `mapstructure:"CLASSIFIER_URL"`
	ClassifierAPIKey string `mapstructure:"CLASSIFIER_API_KEY"`

	// ScraperEnabled launches the headless browser for save-time metadata.
	ScraperEnabled bool `mapstructure:"SCRAPER_ENABLED"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// PendingTTL returns the staging window as a duration.
func (c Config) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLMinutes) * time.Minute
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Defaults double as env-var bindings under AutomaticEnv.
	viper.SetDefault("TELEGRAM_BOT_TOKEN", "")
	viper.SetDefault("STORAGE_BACKEND", "file")
	viper.SetDefault("DATA_DIR", "./data")
	viper.SetDefault("BADGERDB_PATH", "./badger_data")
	viper.SetDefault("MONGO_URI", "")
	viper.SetDefault("MONGO_DATABASE", "linkvault")
	viper.SetDefault("PENDING_TTL_MINUTES", 60)
	viper.SetDefault("DELETE_PROMPT_ON_EXPIRY", true)
	viper.SetDefault("DEFAULT_CATEGORY", "Inbox")
	viper.SetDefault("CLASSIFIER_URL", "")
	viper.SetDefault("CLASSIFIER_API_KEY", "")
	viper.SetDefault("SCRAPER_ENABLED", false)
	viper.SetDefault("LOG_LEVEL", "info")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	err = viper.ReadInConfig()
	if err != nil {
		// A missing file is fine when env vars carry the settings.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if config.TelegramBotToken == "" {
		return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	switch config.StorageBackend {
	case "file", "badger", "mongo":
	default:
		return Config{}, fmt.Errorf("STORAGE_BACKEND must be file, badger or mongo, got %q", config.StorageBackend)
	}
	if config.StorageBackend == "mongo" && config.MongoURI == "" {
		return Config{}, fmt.Errorf("MONGO_URI is required when STORAGE_BACKEND is mongo")
	}
	if config.PendingTTLMinutes <= 0 {
		return Config{}, fmt.Errorf("PENDING_TTL_MINUTES must be positive, got %d", config.PendingTTLMinutes)
	}

	return config, nil
}
