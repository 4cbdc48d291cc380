package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Records  RecordsConfig  `mapstructure:"records"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Session  SessionConfig  `mapstructure:"session"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type TelegramConfig struct {
	Token         string        `mapstructure:"token"`
	APIURL        string        `mapstructure:"api_url" validate:"required,url"`
	Mode          string        `mapstructure:"mode" validate:"oneof=polling webhook"`
	WebhookURL    string        `mapstructure:"webhook_url" validate:"required_if=Mode webhook"`
	WebhookSecret string        `mapstructure:"webhook_secret" validate:"required_if=Mode webhook"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	MaxFileBytes  int64         `mapstructure:"max_file_bytes" validate:"min=1"`
	Workers       int           `mapstructure:"workers" validate:"min=1"`
}

// StorageConfig selects the session store
type StorageConfig struct {
	Driver     string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	SQLitePath string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	BackupDir  string `mapstructure:"backup_dir"`
	// BackupKey is a base64 AES key. Backups are encrypted when it is set.
	BackupKey  string `mapstructure:"backup_key" validate:"omitempty,base64"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RecordsConfig selects where approved posts are written
type RecordsConfig struct {
	Backend  string         `mapstructure:"backend" validate:"oneof=airtable mongo none"`
	Airtable AirtableConfig `mapstructure:"airtable"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

type AirtableConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseID  string        `mapstructure:"base_id"`
	Table   string        `mapstructure:"table"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type LLMConfig struct {
	DefaultProvider string          `mapstructure:"default_provider" validate:"oneof=openai gemini anthropic ollama"`
	Timeout         time.Duration   `mapstructure:"timeout"`
	OpenAI          OpenAIConfig    `mapstructure:"openai"`
	Gemini          GeminiConfig    `mapstructure:"gemini"`
	Anthropic       AnthropicConfig `mapstructure:"anthropic"`
	Ollama          OllamaConfig    `mapstructure:"ollama"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type OllamaConfig struct {
	Host  string `mapstructure:"host"`
	Model string `mapstructure:"model"`
}

// SessionConfig tunes the conversation flow
type SessionConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxInputChars    int           `mapstructure:"max_input_chars" validate:"min=1"`
	ContextMaxTokens int           `mapstructure:"context_max_tokens" validate:"min=0"`
	Retention        time.Duration `mapstructure:"retention"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

type AdminConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format" validate:"oneof=json console"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

var validate = validator.New()

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile reports a missing file as a plain os error
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the fields with declared constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{"*"})

	// Telegram
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.mode", "polling")
	v.SetDefault("telegram.poll_timeout", "30s")
	v.SetDefault("telegram.max_file_bytes", 1<<20)
	v.SetDefault("telegram.workers", 4)

	// Storage
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "./data/sessions.db")
	v.SetDefault("storage.backup_dir", "./data/backups")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postbot")
	v.SetDefault("database.database", "postbot")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.session_ttl", "24h")

	// Records
	v.SetDefault("records.backend", "none")
	v.SetDefault("records.airtable.base_url", "https://api.airtable.com")
	v.SetDefault("records.airtable.table", "Posts")
	v.SetDefault("records.airtable.timeout", "15s")
	v.SetDefault("records.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("records.mongo.database", "postbot")
	v.SetDefault("records.mongo.collection", "posts")

	// LLM
	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.gemini.model", "gemini-1.5-flash")
	v.SetDefault("llm.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.ollama.model", "llama3.1")

	// Session
	v.SetDefault("session.timeout", "5m")
	v.SetDefault("session.max_input_chars", 500)
	v.SetDefault("session.context_max_tokens", 1500)
	v.SetDefault("session.retention", "720h") // 30 days
	v.SetDefault("session.cleanup_interval", "24h")

	// Admin
	v.SetDefault("admin.token_ttl", "24h")
	v.SetDefault("admin.issuer", "postbot")

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 30)
	v.SetDefault("security.rate_limit.burst", 10)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	// Telegram
	v.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("telegram.webhook_url", "TELEGRAM_WEBHOOK_URL")
	v.BindEnv("telegram.webhook_secret", "TELEGRAM_WEBHOOK_SECRET")

	// Storage
	v.BindEnv("storage.backup_key", "BACKUP_ENCRYPTION_KEY")

	// Database
	v.BindEnv("database.host", "POSTGRES_HOST")
	v.BindEnv("database.password", "POSTGRES_PASSWORD")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Records
	v.BindEnv("records.airtable.api_key", "AIRTABLE_API_KEY")
	v.BindEnv("records.airtable.base_id", "AIRTABLE_BASE_ID")
	v.BindEnv("records.mongo.uri", "MONGO_URI")

	// Admin
	v.BindEnv("admin.jwt_secret", "JWT_SECRET")

	// LLM API Keys
	v.BindEnv("llm.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("llm.anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("llm.ollama.host", "OLLAMA_HOST")
}
