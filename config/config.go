// Package config loads the application configuration from a YAML file,
// with environment variable expansion and sane defaults for local use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported providers and storage drivers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all runtime settings for the ragchat commands.
type Config struct {
	Env        string `yaml:"env"`
	LogLevel   string `yaml:"log_level"`
	DataDir    string `yaml:"data_dir"`
	ResultsDir string `yaml:"results_dir"`

	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	LLM        LLMConfig        `yaml:"llm"`
	Chat       ChatConfig       `yaml:"chat"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_sec"`
	MaxSessions     int `yaml:"max_sessions"`
}

// DatabaseConfig selects where chunk embeddings are stored.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// LLMConfig configures the chat completion provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ChatConfig tunes the conversation pipeline.
type ChatConfig struct {
	ChunkSize        int               `yaml:"chunk_size"`
	ChunkOverlap     int               `yaml:"chunk_overlap"`
	TopK             int               `yaml:"top_k"`
	HistoryWindow    int               `yaml:"history_window"`
	RewriteQuestions bool              `yaml:"rewrite_questions"`
	Abbreviations    map[string]string `yaml:"abbreviations"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars substitutes ${VAR} and ${VAR:-default} references in the
// raw YAML before parsing. Unset variables without a default become empty.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def, hasDefault := strings.Cut(expr, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return []byte(v)
		}
		if hasDefault {
			return []byte(def)
		}
		return nil
	})
}

func findConfigPath() string {
	candidates := []string{
		"ragchat.yaml",
		filepath.Join("config", "ragchat.yaml"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads the configuration from path. An empty path searches the usual
// locations and falls back to pure defaults when no file exists; a non-empty
// path must point at a readable file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		path = findConfigPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills credentials and endpoints from the environment when the
// YAML leaves them blank.
func (c *Config) applyEnv() {
	if c.OpenAIAPIKey == "" {
		c.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Database.DSN == "" {
		c.Database.DSN = os.Getenv("POSTGRES_DSN")
	}
	if c.OllamaHost == "" {
		c.OllamaHost = os.Getenv("OLLAMA_HOST")
	}
}

// ApplyDefaults fills zero values with defaults suitable for local use.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.ResultsDir == "" {
		c.ResultsDir = "./results"
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec == 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec == 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec == 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxSessions == 0 {
		c.HTTP.MaxSessions = 100
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "postgres://localhost:5432/ragchat?sslmode=disable"
	}

	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = ProviderOllama
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.Dimension == 0 {
		c.Embeddings.Dimension = 768
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOllama
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3.1"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}

	if c.Chat.ChunkSize == 0 {
		c.Chat.ChunkSize = 1000
	}
	if c.Chat.ChunkOverlap == 0 {
		c.Chat.ChunkOverlap = 200
	}
	if c.Chat.TopK == 0 {
		c.Chat.TopK = 5
	}
	if c.Chat.HistoryWindow == 0 {
		c.Chat.HistoryWindow = 10
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Embeddings.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Chat.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Chat.ChunkSize)
	}
	if c.Chat.ChunkOverlap < 0 || c.Chat.ChunkOverlap >= c.Chat.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, %d)", c.Chat.ChunkOverlap, c.Chat.ChunkSize)
	}
	if c.Chat.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Chat.TopK)
	}
	if c.Chat.HistoryWindow < 0 {
		return fmt.Errorf("history window must not be negative, got %d", c.Chat.HistoryWindow)
	}
	return nil
}
