package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is loaded once at startup and passed into each component by value.
// Environment references in the file (e.g. "${OPENROUTER_API_KEY}") are
// expanded before unmarshalling.
type Config struct {
	Store        string         `yaml:"store"` // "chromem" or "postgres"
	Chromem      ChromemConfig  `yaml:"chromem"`
	Database     DatabaseConfig `yaml:"database"`
	EmbedLLM     LLMConfig      `yaml:"embedding_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	RAG          RAGConfig      `yaml:"rag"`
}

type ChromemConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	InMemory   bool   `yaml:"in_memory"`
}

type DatabaseConfig struct {
	URL   string `yaml:"url"`
	Key   string `yaml:"key"`
	Debug bool   `yaml:"debug"`
}

type LLMConfig struct {
	Provider   string `yaml:"provider"` // "ollama" or "openai"
	BaseURL    string `yaml:"base_url"`
	Key        string `yaml:"key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize       int `yaml:"chunk_size"`
	ChunkOverlap    int `yaml:"chunk_overlap"`
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
	MaxRetries      int `yaml:"max_retries"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store == "" {
		cfg.Store = "chromem"
	}
	if cfg.Chromem.Path == "" {
		cfg.Chromem.Path = "./chromemdb"
	}
	if cfg.Chromem.Collection == "" {
		cfg.Chromem.Collection = "kb_chunks"
	}
	if cfg.EmbedLLM.BatchSize == 0 {
		cfg.EmbedLLM.BatchSize = 32
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1200
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 200
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.MaxContextChars == 0 {
		cfg.RAG.MaxContextChars = 8000
	}
	if cfg.RAG.MaxRetries == 0 {
		cfg.RAG.MaxRetries = 3
	}
}

func validate(cfg *Config) error {
	if cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", cfg.RAG.ChunkOverlap, cfg.RAG.ChunkSize)
	}
	if cfg.Store != "chromem" && cfg.Store != "postgres" {
		return fmt.Errorf("unknown store %q", cfg.Store)
	}
	return nil
}
