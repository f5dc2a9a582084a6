package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App           App           `mapstructure:"app"`
	AI            AI            `mapstructure:"ai"`
	Database      Database      `mapstructure:"database"`
	Fallback      Fallback      `mapstructure:"fallback"`
	Pipeline      Pipeline      `mapstructure:"pipeline"`
	Server        Server        `mapstructure:"server"`
	Observability Observability `mapstructure:"observability"`
	Logging       Logging       `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// AI holds text-generation configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int32   `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// Database holds durable store configuration
type Database struct {
	Driver           string        `mapstructure:"driver"` // "postgres" or "sqlite3"
	ConnectionString string        `mapstructure:"connection_string"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// Fallback holds local JSON store configuration
type Fallback struct {
	Directory string `mapstructure:"directory"`
}

// Pipeline holds enrichment and batch-report settings
type Pipeline struct {
	BatchSize         int           `mapstructure:"batch_size"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
	ContextRecords    int           `mapstructure:"context_records"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	PerRecordDelay    time.Duration `mapstructure:"per_record_delay"`
}

// Server holds HTTP server configuration
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminAPIKey     string        `mapstructure:"admin_api_key"`
	CORS            CORS          `mapstructure:"cors"`
}

// CORS holds cross-origin settings
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Observability holds analytics and metrics configuration
type Observability struct {
	PostHog PostHogConfig `mapstructure:"posthog"`
	Metrics bool          `mapstructure:"metrics"`
}

// PostHogConfig holds PostHog analytics configuration
type PostHogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Host    string `mapstructure:"host"`
}

// Logging holds logging configuration
type Logging struct {
	Level string `mapstructure:"level"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".evalboard")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	postProcessConfig(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", "data")

	viper.SetDefault("ai.gemini.model", "gemini-1.5-pro")
	viper.SetDefault("ai.gemini.max_tokens", 2048)
	viper.SetDefault("ai.gemini.temperature", 0.7)

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.timeout", "5s")

	viper.SetDefault("pipeline.batch_size", 5)
	viper.SetDefault("pipeline.generation_timeout", "15s")
	viper.SetDefault("pipeline.context_records", 10)
	viper.SetDefault("pipeline.tick_interval", "1m")
	viper.SetDefault("pipeline.per_record_delay", "0s")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("server.cors.enabled", false)

	viper.SetDefault("observability.posthog.enabled", false)
	viper.SetDefault("observability.posthog.host", "https://app.posthog.com")
	viper.SetDefault("observability.metrics", true)

	viper.SetDefault("logging.level", "info")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("database.connection_string", []string{
		"DATABASE_URL",
		"EVALBOARD_DATABASE_URL",
	})

	bindEnvKeys("app.data_dir", []string{
		"EVALBOARD_DATA_DIR",
	})

	bindEnvKeys("server.port", []string{
		"PORT",
	})

	bindEnvKeys("server.admin_api_key", []string{
		"ADMIN_API_KEY",
	})

	bindEnvKeys("observability.posthog.api_key", []string{
		"POSTHOG_API_KEY",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"EVALBOARD_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig expands paths and derives dependent values
func postProcessConfig(config *Config) {
	config.App.DataDir = expandPath(config.App.DataDir)
	if config.Fallback.Directory == "" {
		config.Fallback.Directory = config.App.DataDir
	} else {
		config.Fallback.Directory = expandPath(config.Fallback.Directory)
	}

	if config.Database.Driver == "sqlite3" && config.Database.ConnectionString == "" {
		config.Database.ConnectionString = filepath.Join(config.App.DataDir, "evalboard.db")
	}
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures configuration values are usable
func validateConfig(config *Config) error {
	var errors []string

	switch config.Database.Driver {
	case "postgres", "sqlite3", "none":
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: postgres, sqlite3, none", config.Database.Driver))
	}

	if config.Pipeline.BatchSize <= 0 {
		errors = append(errors, "pipeline.batch_size must be positive")
	}
	if config.Pipeline.GenerationTimeout <= 0 {
		errors = append(errors, "pipeline.generation_timeout must be positive")
	}
	if config.Pipeline.ContextRecords <= 0 {
		errors = append(errors, "pipeline.context_records must be positive")
	}

	if config.Observability.PostHog.Enabled && config.Observability.PostHog.APIKey == "" {
		errors = append(errors, "PostHog enabled but missing API key. Set POSTHOG_API_KEY")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// HasGemini reports whether a usable Gemini API key is configured
func (c *Config) HasGemini() bool {
	return isValidAPIKey(c.AI.Gemini.APIKey)
}

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-gemini-key", "YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
