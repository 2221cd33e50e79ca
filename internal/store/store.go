package store

import (
	"context"
	"fmt"
	"strings"

	"kb-rag/internal/models"
)

// VectorStore is the shared mutable resource of the pipeline. Writers only
// append or replace by chunk id; documents are removed only through an
// explicit DeleteDocument.
type VectorStore interface {
	// Upsert writes records keyed by chunk id. Re-writing an existing id
	// replaces the record, never duplicates it. Returns the number written;
	// on partial failure the error is an *IndexWriteError naming the ids
	// that did not make it.
	Upsert(ctx context.Context, records []models.ChunkRecord) (int, error)

	// Search returns up to k chunks ranked by similarity to the query
	// embedding, optionally restricted by a metadata filter. An empty store
	// yields an empty result, not an error.
	Search(ctx context.Context, queryEmbedding []float32, k int, filter map[string]string) ([]models.ScoredChunk, error)

	// DeleteDocument removes every chunk belonging to a document, for
	// re-indexing.
	DeleteDocument(ctx context.Context, documentID string) error

	// Count reports the number of stored chunks.
	Count(ctx context.Context) (int, error)

	Close() error
}

// IndexWriteError carries the ids of chunks a batch upsert failed to persist,
// so the caller can re-submit just those.
type IndexWriteError struct {
	FailedIDs []string
	Err       error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write failed for %d chunks [%s]: %v", len(e.FailedIDs), strings.Join(e.FailedIDs, ", "), e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }
