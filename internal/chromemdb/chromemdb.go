package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"kb-rag/internal/config"
	"kb-rag/internal/models"
	"kb-rag/internal/store"
)

// Store implements store.VectorStore on top of an embedded chromem-go
// database, either in memory or persisted to a directory.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

const compress = false

func New(cfg *config.ChromemConfig) (*Store, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	// Embeddings always arrive precomputed; the embedding func must never run.
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}

	return &Store{db: db, collection: collection}, nil
}

func rejectEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("store received a document without an embedding")
}

func (s *Store) Upsert(ctx context.Context, records []models.ChunkRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		docs[i] = toDocument(rec)
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err == nil {
		return len(records), nil
	}

	// Batch failed somewhere; replay one by one to name the failed ids.
	written := 0
	var failed []string
	var lastErr error
	for _, doc := range docs {
		if err := s.collection.AddDocument(ctx, doc); err != nil {
			failed = append(failed, doc.ID)
			lastErr = err
			continue
		}
		written++
	}
	if len(failed) > 0 {
		return written, &store.IndexWriteError{FailedIDs: failed, Err: lastErr}
	}
	return written, nil
}

func (s *Store) Search(ctx context.Context, queryEmbedding []float32, k int, filter map[string]string) ([]models.ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       k,
		Where:          filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	scored := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		scored = append(scored, models.ScoredChunk{
			Chunk: fromResult(r),
			Score: float64(r.Similarity),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ChunkID < scored[j].Chunk.ChunkID
	})
	return scored, nil
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	log.Debug().Str("document_id", documentID).Msg("deleting document chunks")
	return s.collection.Delete(ctx, map[string]string{"document_id": documentID}, nil)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

func (s *Store) Close() error { return nil }

func toDocument(rec models.ChunkRecord) chromem.Document {
	return chromem.Document{
		ID:      rec.ChunkID,
		Content: rec.Text,
		Metadata: map[string]string{
			"document_id":   rec.DocumentID,
			"document_name": rec.DocumentName,
			"page_number":   strconv.Itoa(rec.PageNumber),
			"chunk_index":   strconv.Itoa(rec.ChunkIndex),
			"created_at":    rec.CreatedAt.UTC().Format(time.RFC3339),
		},
		Embedding: rec.Embedding,
	}
}

func fromResult(r chromem.Result) models.ChunkRecord {
	rec := models.ChunkRecord{
		ChunkID:      r.ID,
		Text:         r.Content,
		Embedding:    r.Embedding,
		DocumentID:   r.Metadata["document_id"],
		DocumentName: r.Metadata["document_name"],
	}
	rec.PageNumber, _ = strconv.Atoi(r.Metadata["page_number"])
	rec.ChunkIndex, _ = strconv.Atoi(r.Metadata["chunk_index"])
	if ts, err := time.Parse(time.RFC3339, r.Metadata["created_at"]); err == nil {
		rec.CreatedAt = ts
	}
	return rec
}

var _ store.VectorStore = (*Store)(nil)
