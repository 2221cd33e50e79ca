package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"kb-rag/internal/config"
	"kb-rag/internal/embedding"
	"kb-rag/internal/models"
	"kb-rag/internal/parser"
	"kb-rag/internal/retrypolicy"
	"kb-rag/internal/store"
)

// fakeStore keeps records in a map keyed by chunk id, mirroring the upsert
// semantics of the real backends. Ids listed in failIDs reject writes.
type fakeStore struct {
	records map[string]models.ChunkRecord
	failIDs map[string]bool
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]models.ChunkRecord{}, failIDs: map[string]bool{}}
}

func (f *fakeStore) Upsert(ctx context.Context, records []models.ChunkRecord) (int, error) {
	written := 0
	var failed []string
	for _, rec := range records {
		if f.failIDs[rec.ChunkID] {
			failed = append(failed, rec.ChunkID)
			continue
		}
		f.records[rec.ChunkID] = rec
		written++
	}
	if len(failed) > 0 {
		return written, &store.IndexWriteError{FailedIDs: failed, Err: errors.New("write rejected")}
	}
	return written, nil
}

func (f *fakeStore) Search(ctx context.Context, queryEmbedding []float32, k int, filter map[string]string) ([]models.ScoredChunk, error) {
	return nil, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	for id, rec := range f.records {
		if rec.DocumentID == documentID {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) { return len(f.records), nil }
func (f *fakeStore) Close() error                           { return nil }

// fakeEmbedClient satisfies the langchaingo embeddings.Embedder interface.
type fakeEmbedClient struct{}

func (fakeEmbedClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}

func (f fakeEmbedClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, _ := f.EmbedDocuments(ctx, []string{text})
	return vs[0], nil
}

func newTestIndexer(fs *fakeStore) *Indexer {
	emb := embedding.NewEmbedder(fakeEmbedClient{}, &config.LLMConfig{BatchSize: 16, Dimensions: 3},
		retrypolicy.Policy{MaxAttempts: 1, InitialInterval: time.Microsecond})
	return New(emb, fs, config.RAGConfig{ChunkSize: 500, ChunkOverlap: 100})
}

// numberedText builds non-periodic text from 10-char numbered blocks, so no
// two chunk windows ever carry identical content.
func numberedText(blocks, seed int) string {
	var b strings.Builder
	for i := 0; i < blocks; i++ {
		fmt.Fprintf(&b, "%010d", seed+i)
	}
	return b.String()
}

func twoPageDoc() []parser.Page {
	// Page 1: 1000 chars -> windows [0:500] [400:900] [800:1000] = 3 chunks.
	// Page 2: 600 chars -> windows [0:500] [400:600] = 2 chunks.
	return []parser.Page{
		{DocumentID: "doc1", DocumentName: "manual.pdf", Number: 1, Text: numberedText(100, 0)},
		{DocumentID: "doc1", DocumentName: "manual.pdf", Number: 2, Text: numberedText(60, 1000)},
	}
}

func TestIngestPages_TwoPageScenario(t *testing.T) {
	fs := newFakeStore()
	report, err := newTestIndexer(fs).IngestPages(context.Background(), twoPageDoc())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Chunks != 5 || report.Written != 5 {
		t.Fatalf("expected 5 chunks written, got %+v", report)
	}
	if len(fs.records) != 5 {
		t.Fatalf("expected 5 distinct ids in store, got %d", len(fs.records))
	}

	perPage := map[int][]int{}
	for _, rec := range fs.records {
		perPage[rec.PageNumber] = append(perPage[rec.PageNumber], rec.ChunkIndex)
		if len(rec.Embedding) != 3 {
			t.Fatalf("chunk %s missing embedding", rec.ChunkID)
		}
	}
	if len(perPage[1]) != 3 || len(perPage[2]) != 2 {
		t.Fatalf("expected 3 chunks on page 1 and 2 on page 2, got %v", perPage)
	}
	for page, indexes := range perPage {
		seen := map[int]bool{}
		for _, idx := range indexes {
			seen[idx] = true
		}
		for i := 0; i < len(indexes); i++ {
			if !seen[i] {
				t.Fatalf("page %d missing chunk index %d: %v", page, i, indexes)
			}
		}
	}
}

func TestIngestPages_Idempotent(t *testing.T) {
	fs := newFakeStore()
	ix := newTestIndexer(fs)
	ctx := context.Background()

	first, err := ix.IngestPages(ctx, twoPageDoc())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idsAfterFirst := make([]string, 0, len(fs.records))
	for id := range fs.records {
		idsAfterFirst = append(idsAfterFirst, id)
	}

	second, err := ix.IngestPages(ctx, twoPageDoc())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Written != second.Written {
		t.Fatalf("re-ingestion changed written count: %d vs %d", first.Written, second.Written)
	}
	if len(fs.records) != len(idsAfterFirst) {
		t.Fatalf("re-ingestion created duplicates: %d vs %d", len(fs.records), len(idsAfterFirst))
	}
	for _, id := range idsAfterFirst {
		if _, ok := fs.records[id]; !ok {
			t.Fatalf("chunk id %s changed between ingestions", id)
		}
	}
}

func TestIngestPages_PartialFailureReportsIDs(t *testing.T) {
	fs := newFakeStore()
	ix := newTestIndexer(fs)
	ctx := context.Background()

	// First pass to learn the generated ids, then replay with one poisoned.
	if _, err := ix.IngestPages(ctx, twoPageDoc()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var victim string
	for id := range fs.records {
		victim = id
		break
	}
	fs.records = map[string]models.ChunkRecord{}
	fs.failIDs[victim] = true

	report, err := ix.IngestPages(ctx, twoPageDoc())
	var writeErr *store.IndexWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected *store.IndexWriteError, got %v", err)
	}
	if report.Written != 4 {
		t.Fatalf("expected 4 written, got %d", report.Written)
	}
	if len(report.FailedIDs) != 1 || report.FailedIDs[0] != victim {
		t.Fatalf("expected failed id %s, got %v", victim, report.FailedIDs)
	}
}

func TestIngestPages_IdenticalWindowsShareOneID(t *testing.T) {
	// Periodic text whose [0:500] and [400:900] windows are byte-identical:
	// same (doc, page, text) hashes to the same chunk id, so the store keeps
	// one record for both. That collapse is what the content-derived id is
	// for.
	fs := newFakeStore()
	pages := []parser.Page{
		{DocumentID: "doc1", DocumentName: "manual.pdf", Number: 1, Text: strings.Repeat("abcdefghij", 100)},
	}
	report, err := newTestIndexer(fs).IngestPages(context.Background(), pages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Chunks != 3 {
		t.Fatalf("expected 3 chunks generated, got %d", report.Chunks)
	}
	if len(fs.records) != 2 {
		t.Fatalf("expected identical windows to share an id (2 stored), got %d", len(fs.records))
	}
}

func TestIngestPages_EmptyPages(t *testing.T) {
	fs := newFakeStore()
	report, err := newTestIndexer(fs).IngestPages(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Chunks != 0 || report.Written != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}

func TestReindex_DropsOldChunksFirst(t *testing.T) {
	fs := newFakeStore()
	ix := newTestIndexer(fs)
	ctx := context.Background()

	if _, err := ix.IngestPages(ctx, twoPageDoc()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	newPages := []parser.Page{
		{DocumentID: "doc1", DocumentName: "manual.pdf", Number: 1, Text: "completely revised content"},
	}
	report, err := ix.Reindex(ctx, "doc1", newPages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fs.deleted) != 1 || fs.deleted[0] != "doc1" {
		t.Fatalf("expected delete of doc1, got %v", fs.deleted)
	}
	if report.Written != 1 || len(fs.records) != 1 {
		t.Fatalf("expected single fresh chunk, got report %+v store %d", report, len(fs.records))
	}
}
