// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (AULA_* plus DATABASE_URL)
//  2. Config file (~/.aula/config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check categories with
// errors.Is and wrap with fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidVectorIndexMode indicates the vector index mode is unknown.
	ErrInvalidVectorIndexMode = errors.New("invalid vector index mode")

	// ErrInvalidThreshold indicates a tutoring threshold is out of [0,1].
	ErrInvalidThreshold = errors.New("invalid threshold")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Vector index modes for Config.VectorIndex.
// "auto" probes the store capability at startup, "on" forces the native
// index path, "off" forces the in-process cosine fallback.
const (
	VectorIndexAuto = "auto"
	VectorIndexOn   = "on"
	VectorIndexOff  = "off"
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider"`
	ModelName     string  `mapstructure:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature"`
	OllamaHost    string  `mapstructure:"ollama_host"`

	// Knowledge store (PostgreSQL + pgvector)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// VectorIndex selects the similarity search strategy: auto, on, off.
	VectorIndex string `mapstructure:"vector_index"`

	// Tutoring knobs. PassThreshold separates correct from incorrect
	// answers; LearnRate scales knowledge-level movement per graded answer.
	// Both stated here rather than hard-coded because the exact update
	// policy constants are expected to be tuned against real cohorts.
	PassThreshold   float64 `mapstructure:"pass_threshold"`
	LearnRate       float64 `mapstructure:"learn_rate"`
	RecommendWindow float64 `mapstructure:"recommend_window"`
	MaxSources      int     `mapstructure:"max_sources"`
}

// Load reads configuration from defaults, the optional config file and
// environment variables, then validates the result.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AULA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dir, err := configDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			// No config file is fine; defaults + env apply.
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOllama)
	v.SetDefault("model_name", "qwen2.5:7b-instruct")
	v.SetDefault("embedder_model", "mxbai-embed-large")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "aula")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "aula")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("vector_index", VectorIndexAuto)

	v.SetDefault("pass_threshold", 0.7)
	v.SetDefault("learn_rate", 0.35)
	v.SetDefault("recommend_window", 0.4)
	v.SetDefault("max_sources", 5)
}

// configDir returns the aula config directory (~/.aula), creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".aula")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Validate checks the configuration for out-of-range or unsupported values.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	switch c.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEmbedderModel)
	}
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	switch c.VectorIndex {
	case VectorIndexAuto, VectorIndexOn, VectorIndexOff:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidVectorIndexMode, c.VectorIndex)
	}
	if c.PassThreshold < 0 || c.PassThreshold > 1 {
		return fmt.Errorf("%w: pass_threshold=%v", ErrInvalidThreshold, c.PassThreshold)
	}
	if c.LearnRate < 0 || c.LearnRate > 1 {
		return fmt.Errorf("%w: learn_rate=%v", ErrInvalidThreshold, c.LearnRate)
	}
	if c.RecommendWindow < 0 || c.RecommendWindow > 1 {
		return fmt.Errorf("%w: recommend_window=%v", ErrInvalidThreshold, c.RecommendWindow)
	}
	return nil
}
