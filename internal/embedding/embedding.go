package embedding

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"kb-rag/internal/config"
)

// NewClient builds the langchaingo embedding client named by the config.
func NewClient(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaClient(cfg)
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewOllamaClient wraps a local Ollama server as an embedding client.
func NewOllamaClient(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing ollama embedding client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

// NewOpenAIClient wraps an OpenAI-compatible endpoint (OpenAI, OpenRouter,
// vLLM) as an embedding client.
func NewOpenAIClient(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing openai embedding client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}
