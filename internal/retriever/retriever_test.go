package retriever

import (
	"context"
	"errors"
	"sort"
	"testing"

	"kb-rag/internal/models"
)

// fakeStore serves canned scored chunks, honoring k the way the real
// backends do (ranked, clamped).
type fakeStore struct {
	chunks []models.ScoredChunk
	err    error
}

func (f *fakeStore) Upsert(ctx context.Context, records []models.ChunkRecord) (int, error) {
	return 0, nil
}

func (f *fakeStore) Search(ctx context.Context, queryEmbedding []float32, k int, filter map[string]string) ([]models.ScoredChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := append([]models.ScoredChunk(nil), f.chunks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) error { return nil }
func (f *fakeStore) Count(ctx context.Context) (int, error)                      { return len(f.chunks), nil }
func (f *fakeStore) Close() error                                                { return nil }

func scored(id string, score float64) models.ScoredChunk {
	return models.ScoredChunk{Chunk: models.ChunkRecord{ChunkID: id}, Score: score}
}

func tenChunks() []models.ScoredChunk {
	out := make([]models.ScoredChunk, 10)
	for i := range out {
		out[i] = scored(string(rune('a'+i)), 1.0-float64(i)*0.05)
	}
	return out
}

func TestSearch_KMustBePositive(t *testing.T) {
	r := New(nil, &fakeStore{})
	if _, err := r.Search(context.Background(), []float32{1}, 0, nil); err == nil {
		t.Fatalf("expected error for k=0")
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	r := New(nil, &fakeStore{})
	results, err := r.Search(context.Background(), []float32{1}, 5, nil)
	if err != nil {
		t.Fatalf("empty store must not error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 results, got %d", len(results))
	}
}

func TestSearch_TopKOrdering(t *testing.T) {
	r := New(nil, &fakeStore{chunks: tenChunks()})
	results, err := r.Search(context.Background(), []float32{1}, 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected exactly 3 results from a store of 10, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("scores increase at position %d", i)
		}
	}
}

func TestSearch_Monotonicity(t *testing.T) {
	r := New(nil, &fakeStore{chunks: tenChunks()})
	ctx := context.Background()

	small, err := r.Search(ctx, []float32{1}, 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	large, err := r.Search(ctx, []float32{1}, 7, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range small {
		if small[i].Chunk.ChunkID != large[i].Chunk.ChunkID {
			t.Fatalf("retrieve(k=3) is not a prefix of retrieve(k=7) at %d", i)
		}
	}
}

func TestSearch_TieBrokenByChunkID(t *testing.T) {
	r := New(nil, &fakeStore{chunks: []models.ScoredChunk{
		scored("zzz", 0.9),
		scored("aaa", 0.9),
		scored("mmm", 0.95),
	}})
	results, err := r.Search(context.Background(), []float32{1}, 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{results[0].Chunk.ChunkID, results[1].Chunk.ChunkID, results[2].Chunk.ChunkID}
	want := []string{"mmm", "aaa", "zzz"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tie-break order wrong: got %v, want %v", got, want)
		}
	}
}

func TestSearch_StoreErrorIsTyped(t *testing.T) {
	r := New(nil, &fakeStore{err: errors.New("connection refused")})
	_, err := r.Search(context.Background(), []float32{1}, 5, nil)
	var retErr *Error
	if !errors.As(err, &retErr) {
		t.Fatalf("expected *retriever.Error, got %v", err)
	}
}

func TestSearch_KLargerThanStore(t *testing.T) {
	r := New(nil, &fakeStore{chunks: tenChunks()[:4]})
	results, err := r.Search(context.Background(), []float32{1}, 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected all 4 stored chunks, got %d", len(results))
	}
}
