package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Kernel    KernelConfig    `toml:"kernel"`
	Agent     AgentConfig     `toml:"agent"`
	Database  DatabaseConfig  `toml:"database"`
	Search    SearchConfig    `toml:"search"`
	Observer  ObserverConfig  `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
}

type EmbeddingConfig struct {
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	Dimensions int    `toml:"dimensions"`
}

type KernelConfig struct {
	PythonBin        string `toml:"python_bin"`
	IdleTimeoutMins  int    `toml:"idle_timeout_minutes"`
	SweepIntervalMin int    `toml:"sweep_interval_minutes"`
}

type AgentConfig struct {
	MaxIterations int     `toml:"max_iterations"`
	Temperature   float64 `toml:"temperature"`
	MaxTokens     int     `toml:"max_tokens"`
}

type DatabaseConfig struct {
	// PostgresURL enables the pgvector retrieval stores when set.
	PostgresURL string `toml:"postgres_url"`
	// SQLitePath is the durable message log location.
	SQLitePath string `toml:"sqlite_path"`
}

type SearchConfig struct {
	SerperAPIKey string `toml:"serper_api_key"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:    ServerConfig{Addr: ":8080"},
		LLM:       LLMConfig{Provider: "openai", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
		Embedding: EmbeddingConfig{Model: "text-embedding-3-small", BaseURL: "https://api.openai.com/v1", Dimensions: 1536},
		Kernel:    KernelConfig{PythonBin: "python3", IdleTimeoutMins: 120, SweepIntervalMin: 60},
		Agent:     AgentConfig{MaxIterations: 8, Temperature: 0.2, MaxTokens: 4096},
		Database:  DatabaseConfig{SQLitePath: "carnet.db"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "carnet.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("CARNET_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CARNET_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CARNET_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CARNET_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CARNET_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CARNET_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("CARNET_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("CARNET_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("CARNET_PYTHON_BIN"); v != "" {
		cfg.Kernel.PythonBin = v
	}
	if v := os.Getenv("CARNET_SERPER_API_KEY"); v != "" {
		cfg.Search.SerperAPIKey = v
	}
	if v := os.Getenv("CARNET_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// The embedding endpoint usually shares credentials with the chat one.
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	return cfg
}
