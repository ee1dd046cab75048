// Package sqlite keeps embedded passages in a SQLite file and searches them
// by brute-force cosine similarity.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/index"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS passages (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		locator TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_passages_position ON passages(position);
	`)
	return err
}

// Upsert inserts or replaces records in one transaction.
func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO passages (id, text, locator, position, embedding)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		emb, err := json.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		p := r.Passage
		if _, err := stmt.ExecContext(ctx, p.ID, p.Text, p.Locator, p.Position, emb); err != nil {
			return fmt.Errorf("inserting passage %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// SearchVector scores every stored passage against vector.
func (s *Store) SearchVector(ctx context.Context, vector []float32, topK int) ([]model.Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, text, locator, position, embedding FROM passages`)
	if err != nil {
		return nil, fmt.Errorf("querying passages: %w", err)
	}
	defer rows.Close()

	var out []model.Passage
	for rows.Next() {
		var p model.Passage
		var raw []byte
		if err := rows.Scan(&p.ID, &p.Text, &p.Locator, &p.Position, &raw); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var emb []float32
		if err := json.Unmarshal(raw, &emb); err != nil {
			logx.Warn().Err(err).Str("passage", p.ID).Msg("Skipping passage with corrupt embedding")
			continue
		}
		p.Score = index.Cosine(vector, emb)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}

	index.Sort(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages").Scan(&n)
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ index.VectorStore = (*Store)(nil)
	_ index.Writer      = (*Store)(nil)
)
