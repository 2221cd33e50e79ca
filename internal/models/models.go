package models

import "time"

// ChunkRecord is the unit of retrievable knowledge. Records are created at
// ingestion time and never mutated; the ID is derived from the content so
// re-ingesting the same document overwrites instead of duplicating.
type ChunkRecord struct {
	ChunkID      string    `json:"chunk_id"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	PageNumber   int       `json:"page_number"`
	ChunkIndex   int       `json:"chunk_index"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScoredChunk pairs a stored chunk with its similarity to a query embedding.
type ScoredChunk struct {
	Chunk ChunkRecord
	Score float64
}

// Source identifies where an answer statement came from.
type Source struct {
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	Score        float64 `json:"score,omitempty"`
}

// Answer is the final output of a query: generated text plus the sources the
// model actually cited.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}
