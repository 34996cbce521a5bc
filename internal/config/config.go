package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		// Path of the sqlite database holding keywords, reference sets and
		// assignments.
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Embedding struct {
		Provider        string `mapstructure:"provider"` // "openai" or "gemini"
		Model           string `mapstructure:"model"`
		OpenaiApiKey    string `mapstructure:"openai_api_key"`
		GoogleApiKey    string `mapstructure:"google_api_key"`
		GeminiModelName string `mapstructure:"gemini_model_name"`
		ChunkSize       int    `mapstructure:"chunk_size"`
		InterChunkMs    int    `mapstructure:"inter_chunk_ms"`
		MaxAttempts     int    `mapstructure:"max_attempts"`
		BaseDelayMs     int    `mapstructure:"base_delay_ms"`
	} `mapstructure:"embedding"`

	Cache struct {
		Backend string `mapstructure:"backend"` // "sqlite", "postgres" or "memory"
		Path    string `mapstructure:"path"`    // sqlite backend
		DSN     string `mapstructure:"dsn"`     // postgres backend
	} `mapstructure:"cache"`

	Grouping struct {
		Algorithm          string  `mapstructure:"algorithm"`
		Threshold          float64 `mapstructure:"threshold"`
		Eps                float64 `mapstructure:"eps"`
		MinPts             int     `mapstructure:"min_pts"`
		DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
		MinSimilarity      float64 `mapstructure:"min_similarity"`
		PageSize           int     `mapstructure:"page_size"`
	} `mapstructure:"grouping"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Worker struct {
		Concurrency int            `mapstructure:"concurrency"`
		Queues      map[string]int `mapstructure:"queues"`
		EventDir    string         `mapstructure:"event_dir"`
	} `mapstructure:"worker"`

	Server struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("database.path", "semgroup.db")
	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.gemini_model_name", "models/embedding-001")
	viper.SetDefault("embedding.chunk_size", 64)
	viper.SetDefault("embedding.inter_chunk_ms", 50)
	viper.SetDefault("embedding.max_attempts", 3)
	viper.SetDefault("embedding.base_delay_ms", 200)
	viper.SetDefault("cache.backend", "sqlite")
	viper.SetDefault("cache.path", "semgroup-cache.db")
	viper.SetDefault("grouping.algorithm", "components")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.queues", map[string]int{"grouping": 1})
	viper.SetDefault("server.address", ":8080")

	viper.AutomaticEnv()
	// The provider SDKs conventionally read these exact names, so bind them
	// without a prefix.
	viper.BindEnv("embedding.openai_api_key", "OPENAI_API_KEY")
	viper.BindEnv("embedding.google_api_key", "GEMINI_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env vars carry the load.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
