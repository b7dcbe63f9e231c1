// Package vectorstore provides the chunk index backends behind the
// pipeline's VectorStore interface.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/fabfab/ragchat/embeddings"
	"github.com/fabfab/ragchat/rag"
)

// Providers cap embedding request sizes, so chunks are embedded in
// batches of this many texts.
const embedBatchSize = 100

// Postgres stores chunk embeddings in pgvector tables. Documents are
// tracked by source path with a content hash, so re-ingesting unchanged
// content is a no-op and changed content replaces all previous chunks.
type Postgres struct {
	pool      *pgxpool.Pool
	embedder  embeddings.Embedder
	dimension int
	logger    *zap.Logger
}

var _ rag.VectorStore = (*Postgres)(nil)

// NewPostgresPool opens a pgx pool and verifies the connection.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool, embedder embeddings.Embedder, dimension int, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{
		pool:      pool,
		embedder:  embedder,
		dimension: dimension,
		logger:    logger,
	}
}

// EnsureSchema creates the pgvector extension, tables, and indexes.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if s.dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id TEXT PRIMARY KEY,
			source_path TEXT UNIQUE NOT NULL,
			sha256 TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			start_offset INT NOT NULL,
			end_offset INT NOT NULL,
			offset_unit TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(document_id, chunk_index)
		)`, s.dimension),
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_document ON rag_chunks(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_embedding ON rag_chunks USING ivfflat (embedding vector_l2_ops)",
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

// Add indexes chunks grouped by document. Per document: unchanged content
// is skipped, changed content replaces every stored chunk in one
// transaction.
func (s *Postgres) Add(ctx context.Context, chunks []rag.Chunk) error {
	for _, group := range groupByDocument(chunks) {
		if err := s.addDocument(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) addDocument(ctx context.Context, chunks []rag.Chunk) error {
	doc := chunks[0]
	sha := contentSHA(chunks)

	var existing string
	err := s.pool.QueryRow(ctx,
		"SELECT sha256 FROM rag_documents WHERE source_path = $1", doc.Source).Scan(&existing)
	switch {
	case err == nil:
		if existing == sha {
			s.logger.Debug("document unchanged, skipping",
				zap.String("source", doc.Source))
			return nil
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return fmt.Errorf("look up document %s: %w", doc.Source, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embeddings.InBatches(ctx, s.embedder, texts, embedBatchSize)
	if err != nil {
		return fmt.Errorf("embed chunks for %s: %w", doc.Source, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The chunk count may shrink between ingests, so stale rows are
	// removed rather than upserted over.
	if _, err := tx.Exec(ctx,
		"DELETE FROM rag_documents WHERE source_path = $1", doc.Source); err != nil {
		return fmt.Errorf("delete stale document %s: %w", doc.Source, err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO rag_documents (id, source_path, sha256) VALUES ($1, $2, $3)",
		doc.DocumentID, doc.Source, sha); err != nil {
		return fmt.Errorf("insert document %s: %w", doc.Source, err)
	}

	for i, c := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rag_chunks
				(id, document_id, chunk_index, content, start_offset, end_offset, offset_unit, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.DocumentID, c.Index, c.Text, c.Start, c.End, c.Unit,
			pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit document %s: %w", doc.Source, err)
	}

	s.logger.Info("document indexed",
		zap.String("source", doc.Source),
		zap.Int("chunks", len(chunks)))
	return nil
}

// Query embeds the query text and returns the topK nearest chunks by L2
// distance, best first. Scores map distance to (0, 1].
func (s *Postgres) Query(ctx context.Context, query string, topK int) ([]rag.Retrieval, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := topK * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT
			rc.content,
			rc.document_id,
			rd.source_path,
			(rc.embedding <-> $1::vector) AS distance
		FROM rag_chunks rc
		JOIN rag_documents rd ON rd.id = rc.document_id
		ORDER BY rc.embedding <-> $1::vector
		LIMIT $2`,
		pgvector.NewVector(vectors[0]), topK)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]rag.Retrieval, 0, topK)
	for rows.Next() {
		var r rag.Retrieval
		var distance float64
		if err := rows.Scan(&r.Text, &r.DocumentID, &r.Source, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		r.Score = 1 / (1 + distance)
		results = append(results, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return results, nil
}

// Reset deletes every stored document and chunk.
func (s *Postgres) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE rag_documents CASCADE"); err != nil {
		return fmt.Errorf("truncate documents: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

func groupByDocument(chunks []rag.Chunk) [][]rag.Chunk {
	index := make(map[string]int)
	var groups [][]rag.Chunk
	for _, c := range chunks {
		i, ok := index[c.DocumentID]
		if !ok {
			i = len(groups)
			index[c.DocumentID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], c)
	}
	return groups
}

func contentSHA(chunks []rag.Chunk) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
