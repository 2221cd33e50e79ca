package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"kb-rag/internal/config"
	"kb-rag/internal/retrypolicy"
)

// Error reports an embedding batch that could not be produced, either because
// the service stayed down past the retry cap or because it returned vectors
// inconsistent with the configured model.
type Error struct {
	Batch int
	Size  int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding batch %d (%d texts) failed: %v", e.Batch, e.Size, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Embedder turns texts into fixed-dimension vectors. It batches calls to the
// external service, retries transient failures per the injected policy, and
// rejects any response whose dimensionality drifts from the configured model.
type Embedder struct {
	client    embeddings.Embedder
	batchSize int
	policy    retrypolicy.Policy

	mu         sync.Mutex
	dimensions int // 0 until pinned by config or the first response
}

func NewEmbedder(client embeddings.Embedder, cfg *config.LLMConfig, policy retrypolicy.Policy) *Embedder {
	batch := cfg.BatchSize
	if batch < 1 {
		batch = 32
	}
	return &Embedder{
		client:     client,
		batchSize:  batch,
		dimensions: cfg.Dimensions,
		policy:     policy,
	}
}

// EmbedTexts returns one vector per input text, order preserved.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for batch := 0; batch*e.batchSize < len(texts); batch++ {
		lo := batch * e.batchSize
		hi := lo + e.batchSize
		if hi > len(texts) {
			hi = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[lo:hi], batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	log.Debug().Int("texts", len(texts)).Int("dimensions", e.dims()).Msg("generated embeddings")
	return out, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string, batch int) ([][]float32, error) {
	var vectors [][]float32
	err := e.policy.Do(ctx, func() error {
		var err error
		vectors, err = e.client.EmbedDocuments(ctx, texts)
		if err != nil {
			log.Debug().Err(err).Int("batch", batch).Msg("embedding call failed, will retry")
			return err
		}
		if err := e.checkResponse(texts, vectors); err != nil {
			// A malformed response is not transient, do not burn retries on it.
			return retrypolicy.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Batch: batch, Size: len(texts), Err: err}
	}
	return vectors, nil
}

func (e *Embedder) checkResponse(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("service returned %d vectors for %d texts", len(vectors), len(texts))
	}
	// EmbedTexts may run from several goroutines; the pin must be written once
	// and read consistently across them.
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, v := range vectors {
		if e.dimensions == 0 {
			// First successful vector pins the dimensionality for this run.
			e.dimensions = len(v)
		}
		if len(v) != e.dimensions {
			return fmt.Errorf("vector %d has dimensionality %d, expected %d", i, len(v), e.dimensions)
		}
	}
	return nil
}

func (e *Embedder) dims() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}
