package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Timezone  TimezoneConfig  `mapstructure:"timezone"`
	Export    ExportConfig    `mapstructure:"export"`
	Topics    TopicsConfig    `mapstructure:"topics"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

type DashboardConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port" validate:"required|min:1|max:65535"`
	CacheTTL    int    `mapstructure:"cache_ttl" validate:"min:0"`
	CacheSizeMB int    `mapstructure:"cache_size_mb" validate:"min:0"`
}

type PollerConfig struct {
	URL           string        `mapstructure:"url" validate:"required|fullUrl"`
	Interval      time.Duration `mapstructure:"interval" validate:"required"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SeenMax       int           `mapstructure:"seen_max"`
	SeedFromStore bool          `mapstructure:"seed_from_store"`
}

type StorageConfig struct {
	Driver       string `mapstructure:"driver" validate:"required|in:jsonl,memory,postgres"`
	MessagesPath string `mapstructure:"messages_path" validate:"required"`
	RequestPath  string `mapstructure:"request_path" validate:"required"`
	ScratchDir   string `mapstructure:"scratch_dir" validate:"required"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type TimezoneConfig struct {
	Name        string `mapstructure:"name"`
	OffsetHours int    `mapstructure:"offset_hours" validate:"min:-12|max:14"`
}

type ExportConfig struct {
	Compress bool `mapstructure:"compress"`
}

type TopicsConfig struct {
	MaxKeywords int `mapstructure:"max_keywords" validate:"min:1"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"in:debug,info,warn,error"`
	Development bool   `mapstructure:"development"`
}

// Location returns the fixed zone used for every local timestamp.
func (c *Config) Location() *time.Location {
	return time.FixedZone(c.Timezone.Name, c.Timezone.OffsetHours*3600)
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.debug", false)
	v.SetDefault("dashboard.host", "0.0.0.0")
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("dashboard.cache_ttl", 1)
	v.SetDefault("dashboard.cache_size_mb", 8)
	v.SetDefault("poller.url", "https://indodax.com/api/v2/chatroom/history")
	v.SetDefault("poller.interval", time.Second)
	v.SetDefault("poller.timeout", 10*time.Second)
	v.SetDefault("poller.seen_max", 100000)
	v.SetDefault("poller.seed_from_store", true)
	v.SetDefault("storage.driver", "jsonl")
	v.SetDefault("storage.messages_path", "chat_indodax.jsonl")
	v.SetDefault("storage.request_path", "last_request.json")
	v.SetDefault("storage.scratch_dir", "tmp")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "chatrank")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("timezone.name", "WIB")
	v.SetDefault("timezone.offset_hours", 7)
	v.SetDefault("export.compress", false)
	v.SetDefault("topics.max_keywords", 10)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 400)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads path when it exists, then applies environment overrides.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	} else if token := v.GetString("TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if port := v.GetInt("PORT"); port != 0 {
		config.Dashboard.Port = port
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	sections := []any{&c.Dashboard, &c.Poller, &c.Storage, &c.Timezone, &c.Topics, &c.Log}
	for _, section := range sections {
		v := validate.Struct(section)
		if !v.Validate() {
			return fmt.Errorf("invalid config: %s", v.Errors.One())
		}
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("invalid config: poller.interval must be positive")
	}
	return nil
}
