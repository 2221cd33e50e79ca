package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"kb-rag/internal/chunker"
	"kb-rag/internal/embedding"
	"kb-rag/internal/models"
	"kb-rag/internal/store"
)

// Error surfaces a vector store failure during retrieval. Retrieval is never
// silently degraded to a stale or empty result.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("retrieval failed: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Retriever ranks stored chunks against a query. The store's native metric is
// authoritative; the retriever only imposes a deterministic secondary order
// (ascending chunk id) on equal scores.
type Retriever struct {
	embedder *embedding.Embedder
	store    store.VectorStore
}

func New(embedder *embedding.Embedder, vs store.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: vs}
}

// Retrieve embeds the query text and runs a top-k search.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filter map[string]string) ([]models.ScoredChunk, error) {
	queryEmbedding, err := r.embedder.EmbedQuery(ctx, chunker.Clean(query))
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, queryEmbedding, k, filter)
}

// Search runs a top-k similarity search with an already-computed query
// embedding. k past the stored chunk count just returns everything; an empty
// store returns an empty result.
func (r *Retriever) Search(ctx context.Context, queryEmbedding []float32, k int, filter map[string]string) ([]models.ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}
	results, err := r.store.Search(ctx, queryEmbedding, k, filter)
	if err != nil {
		return nil, &Error{Err: err}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ChunkID < results[j].Chunk.ChunkID
	})
	log.Debug().Int("k", k).Int("results", len(results)).Msg("retrieved chunks")
	return results, nil
}
