package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"kb-rag/internal/config"
	"kb-rag/internal/models"
	"kb-rag/internal/store"
)

// ChunkRow is the pgvector-backed representation of a chunk record. The
// chunk_id primary key is content-derived, so concurrent re-ingestion of the
// same document resolves to last-write-wins over identical values.
type ChunkRow struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ChunkID       string    `bun:"chunk_id,pk"`
	DocumentID    string    `bun:"document_id,notnull"`
	DocumentName  string    `bun:"document_name,notnull"`
	PageNumber    int       `bun:"page_number,notnull"`
	ChunkIndex    int       `bun:"chunk_index,notnull"`
	Content       string    `bun:"content,notnull"`
	Embedding     []float32 `bun:"embedding,notnull,type:vector(768)"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`

	Score float64 `bun:"score,scanonly"`
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL + "?sslmode=disable"
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.Key))), nil
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// InitDB creates the chunks table. The vector index itself (ivfflat/hnsw over
// the embedding column) is provisioned externally.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}
	_, err := db.NewCreateTable().Model((*ChunkRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

func DropChunks(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*ChunkRow)(nil)).IfExists().Exec(ctx)
	return err
}

// Store implements store.VectorStore on a bun-managed Postgres database with
// the pgvector extension. The bun handle is owned by the caller.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Upsert(ctx context.Context, records []models.ChunkRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([]ChunkRow, len(records))
	for i, rec := range records {
		rows[i] = toRow(rec)
	}

	if err := s.upsertRows(ctx, rows); err == nil {
		return len(records), nil
	}

	// The statement is all-or-nothing; replay per row so the caller learns
	// exactly which chunk ids failed.
	written := 0
	var failed []string
	var lastErr error
	for _, row := range rows {
		if err := s.upsertRows(ctx, []ChunkRow{row}); err != nil {
			failed = append(failed, row.ChunkID)
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

func (s *Store) upsertRows(ctx context.Context, rows []ChunkRow) error {
	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (chunk_id) DO UPDATE").
		Set("document_id = EXCLUDED.document_id").
		Set("document_name = EXCLUDED.document_name").
		Set("page_number = EXCLUDED.page_number").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	return err
}

func (s *Store) Search(ctx context.Context, queryEmbedding []float32, k int, filter map[string]string) ([]models.ScoredChunk, error) {
	var rows []ChunkRow
	q := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("c.*").
		ColumnExpr("1 - (c.embedding <=> ?) AS score", queryEmbedding).
		OrderExpr("c.embedding <=> ?", queryEmbedding).
		Limit(k)
	for column, value := range filter {
		q = q.Where("? = ?", bun.Ident(column), value)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	scored := make([]models.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		scored = append(scored, models.ScoredChunk{Chunk: fromRow(row), Score: row.Score})
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
	_, err := s.db.NewDelete().
		Model((*ChunkRow)(nil)).
		Where("document_id = ?", documentID).
		Exec(ctx)
	return err
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*ChunkRow)(nil)).Count(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toRow(rec models.ChunkRecord) ChunkRow {
	return ChunkRow{
		ChunkID:      rec.ChunkID,
		DocumentID:   rec.DocumentID,
		DocumentName: rec.DocumentName,
		PageNumber:   rec.PageNumber,
		ChunkIndex:   rec.ChunkIndex,
		Content:      rec.Text,
		Embedding:    rec.Embedding,
		CreatedAt:    rec.CreatedAt,
	}
}

func fromRow(row ChunkRow) models.ChunkRecord {
	return models.ChunkRecord{
		ChunkID:      row.ChunkID,
		DocumentID:   row.DocumentID,
		DocumentName: row.DocumentName,
		PageNumber:   row.PageNumber,
		ChunkIndex:   row.ChunkIndex,
		Text:         row.Content,
		Embedding:    row.Embedding,
		CreatedAt:    row.CreatedAt,
	}
}

var _ store.VectorStore = (*Store)(nil)
