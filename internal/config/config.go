package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissing is wrapped when a required setting is empty.
var ErrMissing = errors.New("missing required setting")

// Config holds all flockvet configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chat     ChatConfig     `mapstructure:"chat"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig configures the Postgres transcript store.
type DatabaseConfig struct {
	URL           string `mapstructure:"url"`
	NotifyChannel string `mapstructure:"notify_channel"`
}

// ChatConfig configures the farmer chat.
type ChatConfig struct {
	MessageCap  int           `mapstructure:"message_cap"`
	ThinkMin    time.Duration `mapstructure:"think_min"`
	ThinkJitter time.Duration `mapstructure:"think_jitter"`
}

// LLMConfig configures the optional OpenAI-compatible model.
type LLMConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	SummaryModel string `mapstructure:"summary_model"`
}

// AuthConfig configures veterinary dashboard tokens.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// envNames maps config keys to the environment variables that set them.
var envNames = map[string]string{
	"server.port":             "PORT",
	"database.url":            "DATABASE_URL",
	"database.notify_channel": "POSTGRES_NOTIFY_CHANNEL",
	"chat.message_cap":        "MESSAGE_CAP",
	"chat.think_min":          "THINK_MIN",
	"chat.think_jitter":       "THINK_JITTER",
	"llm.api_key":             "OPENAI_API_KEY",
	"llm.base_url":            "OPENAI_BASE_URL",
	"llm.model":               "OPENAI_MODEL_CHAT",
	"llm.summary_model":       "OPENAI_MODEL_SUMMARY",
	"auth.jwt_secret":         "JWT_SECRET",
	"auth.token_ttl":          "TOKEN_TTL",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.notify_channel", "flock_alerts")
	v.SetDefault("chat.message_cap", 50)
	v.SetDefault("chat.think_min", "0s")
	v.SetDefault("chat.think_jitter", "0s")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env (if present), then an optional config file, then the
// environment.  path may be empty, in which case flockvet.yaml is looked up
// in the working directory and ./config.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flockvet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.LLM.SummaryModel == "" {
		cfg.LLM.SummaryModel = cfg.LLM.Model
	}
	return cfg, nil
}

// RequireServe checks the settings needed by the HTTP server.
func (c *Config) RequireServe() error {
	if err := c.RequireDatabase(); err != nil {
		return err
	}
	return c.RequireAuth()
}

// RequireDatabase checks the settings needed to reach Postgres.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("%w: DATABASE_URL", ErrMissing)
	}
	return nil
}

// RequireAuth checks the settings needed to mint or check tokens.
func (c *Config) RequireAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET", ErrMissing)
	}
	return nil
}
