package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("provider = %s", cfg.LLM.Provider)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.Agent.MaxIterations != 8 {
		t.Errorf("max iterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.Kernel.PythonBin != "python3" {
		t.Errorf("python bin = %s", cfg.Kernel.PythonBin)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[server]
addr = ":9090"

[llm]
model = "llama3"
base_url = "http://localhost:11434/v1"

[kernel]
idle_timeout_minutes = 30
`), 0644)

	cfg := Load(path)
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.LLM.Model != "llama3" || cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Kernel.IdleTimeoutMins != 30 {
		t.Errorf("idle timeout = %d", cfg.Kernel.IdleTimeoutMins)
	}
	// Defaults preserved
	if cfg.LLM.Provider != "openai" {
		t.Errorf("default should be preserved, got %s", cfg.LLM.Provider)
	}
	if cfg.Agent.MaxTokens != 4096 {
		t.Errorf("max tokens = %d", cfg.Agent.MaxTokens)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CARNET_ADDR", ":7070")
	t.Setenv("CARNET_LLM_API_KEY", "env-key")
	t.Setenv("CARNET_EMBEDDING_DIMENSIONS", "768")
	t.Setenv("CARNET_OBSERVER_ENABLED", "true")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("api key = %s", cfg.LLM.APIKey)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer not enabled")
	}
	// Fallback: embedding shares the chat credentials.
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("embedding key fallback = %s", cfg.Embedding.APIKey)
	}
}

func TestEmbeddingKeyNotOverwritten(t *testing.T) {
	t.Setenv("CARNET_LLM_API_KEY", "chat-key")
	t.Setenv("CARNET_EMBEDDING_API_KEY", "embed-key")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Embedding.APIKey != "embed-key" {
		t.Errorf("embedding key = %s", cfg.Embedding.APIKey)
	}
}

func TestBadEnvValuesIgnored(t *testing.T) {
	t.Setenv("CARNET_EMBEDDING_DIMENSIONS", "not-a-number")
	t.Setenv("CARNET_OBSERVER_ENABLED", "maybe")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.Observer.Enabled {
		t.Error("observer enabled by garbage value")
	}
}
