package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const sqliteFile = "cache.sqlite3"

// SQLiteStorage keeps every generation in a single database file.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the cache database inside folder.
func NewSQLite(folder string) (*SQLiteStorage, error) {
	if folder == "" {
		return nil, errors.New("cache folder is required")
	}
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(folder, sqliteFile)+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS generations (name TEXT PRIMARY KEY)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT NOT NULL REFERENCES generations(name) ON DELETE CASCADE,
			key TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (generation, key)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create cache schema: %w", err)
		}
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Open(ctx context.Context, generation string) (Bucket, error) {
	if err := ValidateGeneration(generation); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO generations (name) VALUES (?)`, generation); err != nil {
		return nil, fmt.Errorf("failed to create generation %s: %w", generation, err)
	}
	return &sqliteBucket{db: s.db, name: generation}, nil
}

func (s *SQLiteStorage) Generations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM generations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, generation string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE generation = ?`, generation); err != nil {
		return fmt.Errorf("failed to delete entries of %s: %w", generation, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, generation); err != nil {
		return fmt.Errorf("failed to delete generation %s: %w", generation, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logrus.Debugf("Deleted cache generation %s", generation)
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteBucket struct {
	db   *sql.DB
	name string
}

func (b *sqliteBucket) Name() string {
	return b.name
}

func (b *sqliteBucket) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM entries WHERE generation = ? AND key = ?`, b.name, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *sqliteBucket) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO entries (generation, key, data) VALUES (?, ?, ?)
		 ON CONFLICT (generation, key) DO UPDATE SET data = excluded.data`,
		b.name, key, value)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	logrus.Debugf("Cached entry %s in generation %s", key, b.name)
	return nil
}

func (b *sqliteBucket) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM entries WHERE generation = ? AND key = ?`, b.name, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (b *sqliteBucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM entries WHERE generation = ? ORDER BY key`, b.name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
