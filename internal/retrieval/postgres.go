package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/stimme-dev/stimme/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ Retriever = (*Store)(nil)

// Store is a PostgreSQL-backed Retriever using a pgvector HNSW index for fast
// approximate nearest-neighbour search. All methods are safe for concurrent
// use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// ddl returns the documents DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL DEFAULT '',
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_session_id
    ON documents (session_id);

CREATE INDEX IF NOT EXISTS idx_documents_embedding
    ON documents USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the documents table and pgvector extension exist.
// It is idempotent and safe to call on every application start.
//
// The embedding dimension must match the configured embedding model (e.g.,
// 1536 for OpenAI text-embedding-3-small, 768 for nomic-embed-text). Changing
// it after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		return fmt.Errorf("retrieval migrate: %w", err)
	}
	return nil
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate]. The
// embedder computes vectors for documents inserted without one and for search
// queries; its Dimensions() determines the vector column width.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retrieval store: embedder must not be nil")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("retrieval store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("retrieval store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("retrieval store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("retrieval store: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Add implements Retriever. It upserts doc into the documents table, embedding
// its content first when no vector is supplied. A document with the same ID is
// completely replaced.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("retrieval store: document content must not be empty")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.Embedding == nil {
		vec, err := s.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("retrieval store: embed document: %w", err)
		}
		doc.Embedding = vec
	}

	const q = `
		INSERT INTO documents (id, session_id, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    session_id = EXCLUDED.session_id,
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q,
		doc.ID,
		doc.SessionID,
		doc.Content,
		pgvector.NewVector(doc.Embedding),
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("retrieval store: add document: %w", err)
	}
	return nil
}

// Search implements Retriever. It embeds query and returns the topK documents
// closest by cosine distance, most similar first. When sessionID is non-empty,
// results are limited to that session plus shared documents (empty session_id).
func (s *Store) Search(ctx context.Context, query string, topK int, sessionID string) ([]Result, error) {
	if topK <= 0 {
		return []Result{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval store: embed query: %w", err)
	}

	args := []any{pgvector.NewVector(vec)}
	where := ""
	if sessionID != "" {
		args = append(args, sessionID)
		where = "WHERE session_id = $2 OR session_id = ''"
	}
	args = append(args, topK)

	q := fmt.Sprintf(`
		SELECT id, session_id, content, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   documents
		%s
		ORDER  BY distance
		LIMIT  $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieval store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Result, error) {
		var (
			r   Result
			vec pgvector.Vector
		)
		if err := row.Scan(
			&r.Document.ID,
			&r.Document.SessionID,
			&r.Document.Content,
			&vec,
			&r.Document.CreatedAt,
			&r.Distance,
		); err != nil {
			return Result{}, err
		}
		r.Document.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval store: scan rows: %w", err)
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
