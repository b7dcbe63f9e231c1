package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("OLLAMA_HOST", "")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "local", cfg.Env)
	require.Equal(t, 8080, cfg.HTTP.Port)
	require.Equal(t, DriverPostgres, cfg.Database.Driver)
	require.Equal(t, ProviderOllama, cfg.Embeddings.Provider)
	require.Equal(t, 768, cfg.Embeddings.Dimension)
	require.Equal(t, ProviderOllama, cfg.LLM.Provider)
	require.Equal(t, 1000, cfg.Chat.ChunkSize)
	require.Equal(t, 200, cfg.Chat.ChunkOverlap)
	require.Equal(t, 5, cfg.Chat.TopK)
	require.Equal(t, 10, cfg.Chat.HistoryWindow)
}

func TestLoadParsesFile(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	path := writeConfig(t, `
env: prod
log_level: warn
database:
  driver: memory
llm:
  provider: openai
  model: gpt-4o-mini
openai_api_key: test-key
chat:
  chunk_size: 500
  chunk_overlap: 50
  rewrite_questions: true
  abbreviations:
    API: Application Programming Interface
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, DriverMemory, cfg.Database.Driver)
	require.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	require.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	require.Equal(t, 500, cfg.Chat.ChunkSize)
	require.Equal(t, 50, cfg.Chat.ChunkOverlap)
	require.True(t, cfg.Chat.RewriteQuestions)
	require.Equal(t, "Application Programming Interface", cfg.Chat.Abbreviations["API"])

	// Unset fields still pick up defaults.
	require.Equal(t, 8080, cfg.HTTP.Port)
	require.Equal(t, 5, cfg.Chat.TopK)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_DSN", "postgres://db:5432/test")
	path := writeConfig(t, `
database:
  dsn: ${RAGCHAT_TEST_DSN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://db:5432/test", cfg.Database.DSN)
}

func TestLoadEnvVarDefaultSyntax(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_UNSET", "")
	path := writeConfig(t, `
ollama_host: ${RAGCHAT_TEST_UNSET:-http://localhost:11434}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:11434", cfg.OllamaHost)
}

func TestLoadEnvBridge(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("POSTGRES_DSN", "postgres://env:5432/ragchat")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sk-from-env", cfg.OpenAIAPIKey)
	require.Equal(t, "postgres://env:5432/ragchat", cfg.Database.DSN)
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "chat: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"unknown embeddings provider", func(c *Config) { c.Embeddings.Provider = "bedrock" }},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "bedrock" }},
		{"zero dimension", func(c *Config) { c.Embeddings.Dimension = -1 }},
		{"overlap equals size", func(c *Config) { c.Chat.ChunkOverlap = c.Chat.ChunkSize }},
		{"negative overlap", func(c *Config) { c.Chat.ChunkOverlap = -1 }},
		{"zero top_k", func(c *Config) { c.Chat.TopK = -2 }},
		{"negative history window", func(c *Config) { c.Chat.HistoryWindow = -1 }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
