// Package config provides configuration loading for lexgraph.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete lexgraph configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Agent     AgentConfig     `yaml:"agent"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig configures the PostgreSQL graph store
type DatabaseConfig struct {
	URL          string        `yaml:"url" validate:"required"`
	QueryTimeout time.Duration `yaml:"query_timeout" validate:"gt=0"`
	MaxConns     int32         `yaml:"max_conns" validate:"gte=0"`
}

// LLMConfig configures the agent's text-generation model
type LLMConfig struct {
	// Provider is "gemini" or "openai" (any OpenAI-compatible endpoint)
	Provider string `yaml:"provider" validate:"oneof=gemini openai"`
	Model    string `yaml:"model" validate:"required"`
	APIKey   string `yaml:"api_key"`
	// BaseURL overrides the OpenAI endpoint, e.g. http://localhost:11434/v1
	BaseURL           string        `yaml:"base_url"`
	Temperature       float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int           `yaml:"max_tokens" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries        int           `yaml:"max_retries" validate:"gte=1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
}

// EmbeddingConfig configures the query and legal embedders
type EmbeddingConfig struct {
	Provider string `yaml:"provider" validate:"oneof=gemini openai"`
	Model    string `yaml:"model" validate:"required"`
	// LegalModel embeds statute text for wide search; empty reuses Model
	LegalModel string        `yaml:"legal_model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Dimensions int           `yaml:"dimensions" validate:"gt=0"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
}

// SearchConfig configures the search engine
type SearchConfig struct {
	Limit     int `yaml:"limit" validate:"gt=0"`
	Overfetch int `yaml:"overfetch" validate:"gtefield=Limit"`
}

// AgentConfig configures the question loop
type AgentConfig struct {
	MaxIterations int    `yaml:"max_iterations" validate:"gt=0"`
	ExitSentinel  string `yaml:"exit_sentinel" validate:"required"`
}

// ClusterConfig configures the offline citation clustering job
type ClusterConfig struct {
	Workers int    `yaml:"workers" validate:"gt=0"`
	LawName string `yaml:"law_name" validate:"required"`
}

// StorageConfig configures transcript persistence
type StorageConfig struct {
	Type      string `yaml:"type" validate:"oneof=local s3 postgres"`
	LocalPath string `yaml:"local_path" validate:"required_if=Type local"`
	S3Bucket  string `yaml:"s3_bucket" validate:"required_if=Type s3"`
	S3Region  string `yaml:"s3_region" validate:"required_if=Type s3"`
	S3Prefix  string `yaml:"s3_prefix"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// DefaultConfig returns a Config with defaults for everything but the
// database URL and API keys.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			QueryTimeout: 30 * time.Second,
			MaxConns:     10,
		},
		LLM: LLMConfig{
			Provider:          "gemini",
			Model:             "gemini-2.5-pro",
			Temperature:       0.2,
			MaxTokens:         4096,
			Timeout:           120 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 2,
		},
		Embedding: EmbeddingConfig{
			Provider:   "gemini",
			Model:      "gemini-embedding-001",
			Dimensions: 768,
			Timeout:    30 * time.Second,
		},
		Search: SearchConfig{
			Limit:     3,
			Overfetch: 400,
		},
		Agent: AgentConfig{
			MaxIterations: 10,
			ExitSentinel:  "exit",
		},
		Cluster: ClusterConfig{
			Workers: 1,
			LawName: "Codice Civile",
		},
		Storage: StorageConfig{
			Type:      "local",
			LocalPath: "./results",
			S3Prefix:  "transcripts/",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var validate = validator.New()

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.LLM.APIKey == "" && !(c.LLM.Provider == "openai" && c.LLM.BaseURL != "") {
		return fmt.Errorf("invalid configuration: llm.api_key is required for provider %s", c.LLM.Provider)
	}
	if c.Embedding.APIKey == "" && !(c.Embedding.Provider == "openai" && c.Embedding.BaseURL != "") {
		return fmt.Errorf("invalid configuration: embedding.api_key is required for provider %s", c.Embedding.Provider)
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// not empty), a .env file in the working directory (if present) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment overrides
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("DATABASE_URL", &c.Database.URL)
	set("LLM_MODEL", &c.LLM.Model)
	set("STORAGE_TYPE", &c.Storage.Type)
	set("AWS_S3_BUCKET", &c.Storage.S3Bucket)
	set("AWS_REGION", &c.Storage.S3Region)
	set("PORT", &c.Server.Port)
	set("LOG_LEVEL", &c.Log.Level)

	var geminiKey, openaiKey string
	set("GEMINI_API_KEY", &geminiKey)
	set("OPENAI_API_KEY", &openaiKey)
	applyKey := func(provider string, dst *string) {
		switch {
		case provider == "gemini" && geminiKey != "":
			*dst = geminiKey
		case provider == "openai" && openaiKey != "":
			*dst = openaiKey
		}
	}
	applyKey(c.LLM.Provider, &c.LLM.APIKey)
	applyKey(c.Embedding.Provider, &c.Embedding.APIKey)

	if v, ok := lookup("SEARCH_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SEARCH_LIMIT %q: %w", v, err)
		}
		c.Search.Limit = n
	}
	return nil
}
