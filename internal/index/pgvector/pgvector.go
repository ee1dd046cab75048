// Package pgvector searches passages stored in PostgreSQL with the pgvector
// extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pgvector/pgvector-go"

	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/index"
)

type Store struct {
	db *sql.DB
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the extension and the passages table.
func (s *Store) EnsureSchema(ctx context.Context, dimension int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS book_passages (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			locator TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimension),
		`CREATE INDEX IF NOT EXISTS book_passages_embedding_idx ON book_passages USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts or updates records in one transaction.
func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO book_passages (id, text, locator, position, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET text = EXCLUDED.text, locator = EXCLUDED.locator,
			position = EXCLUDED.position, embedding = EXCLUDED.embedding
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		p := r.Passage
		if _, err := stmt.ExecContext(ctx, p.ID, p.Text, p.Locator, p.Position, pgvector.NewVector(r.Embedding)); err != nil {
			return fmt.Errorf("inserting passage %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// SearchVector returns the topK passages closest to vector by cosine distance.
func (s *Store) SearchVector(ctx context.Context, vector []float32, topK int) ([]model.Passage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, locator, position, 1 - (embedding <=> $1) AS score
		FROM book_passages
		ORDER BY embedding <=> $1, position
		LIMIT $2
	`, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []model.Passage
	for rows.Next() {
		var p model.Passage
		if err := rows.Scan(&p.ID, &p.Text, &p.Locator, &p.Position, &p.Score); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	index.Sort(out)
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ index.VectorStore = (*Store)(nil)
	_ index.Writer      = (*Store)(nil)
)
