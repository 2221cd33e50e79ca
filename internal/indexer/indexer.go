package indexer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"kb-rag/internal/chunker"
	"kb-rag/internal/config"
	"kb-rag/internal/embedding"
	"kb-rag/internal/helper"
	"kb-rag/internal/models"
	"kb-rag/internal/parser"
	"kb-rag/internal/store"
)

// Indexer turns extracted pages into stored chunk records: clean, chunk,
// embed, upsert. Chunk ids are content-derived, so running the same document
// through twice overwrites rather than duplicates.
type Indexer struct {
	embedder *embedding.Embedder
	store    store.VectorStore
	cfg      config.RAGConfig
}

// Report summarizes one ingestion job.
type Report struct {
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	Chunks       int      `json:"chunks"`
	Written      int      `json:"written"`
	FailedIDs    []string `json:"failed_ids,omitempty"`
}

func New(embedder *embedding.Embedder, vs store.VectorStore, cfg config.RAGConfig) *Indexer {
	return &Indexer{embedder: embedder, store: vs, cfg: cfg}
}

// IngestPages chunks and stores the pages of a single document. Pages are
// processed in order and chunks are written page-by-page, chunk-index order,
// so re-ingestion is reproducible. On partial write failure the report still
// carries the successful count and the error lists the failed chunk ids.
func (ix *Indexer) IngestPages(ctx context.Context, pages []parser.Page) (*Report, error) {
	report := &Report{}
	if len(pages) == 0 {
		return report, nil
	}
	report.DocumentID = pages[0].DocumentID
	report.DocumentName = pages[0].DocumentName

	records, err := ix.buildRecords(pages)
	if err != nil {
		return report, err
	}
	report.Chunks = len(records)
	if len(records) == 0 {
		log.Info().Str("document_id", report.DocumentID).Msg("no chunks generated from content")
		return report, nil
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}
	vectors, err := ix.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return report, err
	}
	for i := range records {
		records[i].Embedding = vectors[i]
	}

	written, err := ix.store.Upsert(ctx, records)
	report.Written = written
	if err != nil {
		var writeErr *store.IndexWriteError
		if errors.As(err, &writeErr) {
			report.FailedIDs = writeErr.FailedIDs
		}
		return report, err
	}

	log.Info().
		Str("document_id", report.DocumentID).
		Str("document_name", report.DocumentName).
		Int("written", written).
		Msg("ingested document")
	return report, nil
}

// Reindex drops a document's existing chunks before ingesting the new pages.
func (ix *Indexer) Reindex(ctx context.Context, documentID string, pages []parser.Page) (*Report, error) {
	if err := ix.store.DeleteDocument(ctx, documentID); err != nil {
		return &Report{DocumentID: documentID}, err
	}
	return ix.IngestPages(ctx, pages)
}

// BuildRecords is the pure part of ingestion: cleaned text in, unembedded
// chunk records out, in (page, chunk index) order.
func (ix *Indexer) buildRecords(pages []parser.Page) ([]models.ChunkRecord, error) {
	now := time.Now().UTC()
	var records []models.ChunkRecord
	for _, page := range pages {
		cleaned := chunker.Clean(page.Text)
		pieces, err := chunker.Chunk(cleaned, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
		if err != nil {
			return nil, err
		}
		for _, piece := range pieces {
			records = append(records, models.ChunkRecord{
				ChunkID:      chunkID(page.DocumentID, page.Number, piece.Text),
				DocumentID:   page.DocumentID,
				DocumentName: page.DocumentName,
				PageNumber:   page.Number,
				ChunkIndex:   piece.Index,
				Text:         piece.Text,
				CreatedAt:    now,
			})
		}
	}
	return records, nil
}

func chunkID(documentID string, pageNumber int, text string) string {
	return helper.DeterministicID(documentID, strconv.Itoa(pageNumber), text)
}
