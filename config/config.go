package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"go.pilab.hu/chatkit/domain"
)

// APIToken is one provisioned service credential: the bcrypt hash of the
// bearer token and the identity it authenticates as. Raw tokens are never
// part of the configuration.
type APIToken struct {
	TokenHash string `mapstructure:"token_hash"`
	UserID    string `mapstructure:"user_id"`
	Email     string `mapstructure:"email"`
	Name      string `mapstructure:"name"`
}

// ServerConfig holds all configuration for the gateway.
// Tags use mapstructure for Viper unmarshalling and env binding.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	MongoURI        string `mapstructure:"MONGO_URI"`
	MongoDBName     string `mapstructure:"MONGO_DB_NAME"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Upstream ChatKit provider.
	OpenAIAPIKey      string `mapstructure:"OPENAI_API_KEY"`
	ChatKitAPIBase    string `mapstructure:"CHATKIT_API_BASE"`
	DefaultWorkflowID string `mapstructure:"CHATKIT_WORKFLOW_ID"`

	// Identity cache: "memory" (single instance) or "redis".
	CacheBackend        string `mapstructure:"CACHE_BACKEND"`
	RedisAddr           string `mapstructure:"REDIS_ADDR"`
	RedisKeyPrefix      string `mapstructure:"REDIS_KEY_PREFIX"`
	IdentityCacheTTLMin int    `mapstructure:"IDENTITY_CACHE_TTL_MIN"`

	// Provisioned credentials and the chatbot catalog come from the
	// config file only.
	APITokens []APIToken       `mapstructure:"api_tokens"`
	Chatbots  []domain.Chatbot `mapstructure:"chatbots"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/chatkit-gateway/")
	v.AddConfigPath("$HOME/.chatkit-gateway")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/chatkit_dev")
	v.SetDefault("MONGO_DB_NAME", "chatkit_dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "chatkit-gateway")
	v.SetDefault("CHATKIT_API_BASE", "https://api.openai.com")
	v.SetDefault("CHATKIT_WORKFLOW_ID", "")
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_KEY_PREFIX", "chatkit")
	v.SetDefault("IDENTITY_CACHE_TTL_MIN", 5)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env remain; any
		// other read failure is a real error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
