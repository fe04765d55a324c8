// Package cache remembers descriptions by image content so re-running a
// workflow over the same photos does not ask the provider twice.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Key identifies one description: same bytes, same backend, same prompt.
type Key struct {
	Hash        string
	Provider    string
	Model       string
	PromptStyle string
}

func NewKey(image []byte, provider, model, promptStyle string) Key {
	sum := sha256.Sum256(image)
	return Key{
		Hash:        hex.EncodeToString(sum[:]),
		Provider:    provider,
		Model:       model,
		PromptStyle: promptStyle,
	}
}

type Cache struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache '%s': %w", path, err)
	}
	if err := createTableIfNotExists(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func createTableIfNotExists(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS descriptions (
			hash         TEXT NOT NULL,
			provider     TEXT NOT NULL,
			model        TEXT NOT NULL,
			prompt_style TEXT NOT NULL,
			description  TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			PRIMARY KEY (hash, provider, model, prompt_style)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create descriptions table: %w", err)
	}
	return nil
}

// Lookup returns the cached description, or ok=false when there is none.
func (c *Cache) Lookup(ctx context.Context, k Key) (description string, ok bool, err error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT description FROM descriptions
		 WHERE hash = ? AND provider = ? AND model = ? AND prompt_style = ?`,
		k.Hash, k.Provider, k.Model, k.PromptStyle)
	if err := row.Scan(&description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	return description, true, nil
}

func (c *Cache) Store(ctx context.Context, k Key, description string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO descriptions (hash, provider, model, prompt_style, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (hash, provider, model, prompt_style)
		 DO UPDATE SET description = excluded.description, created_at = excluded.created_at`,
		k.Hash, k.Provider, k.Model, k.PromptStyle, description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Count returns how many descriptions are cached.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM descriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
