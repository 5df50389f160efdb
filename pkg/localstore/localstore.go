// Package localstore is the client-side durable storage: a single
// key-value table inside a sqlite file, one record per namespace.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite file at path. Use ":memory:" for
// a throwaway store.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT PRIMARY KEY,
		payload   BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init local store schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Save(ctx context.Context, namespace string, payload []byte) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO kv(namespace, payload, updated_at)
		VALUES ($1, $2, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(namespace) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		namespace, payload)
	return err
}

// Load returns the stored payload for namespace. ok is false when no
// record exists yet.
func (d *DB) Load(ctx context.Context, namespace string) (payload []byte, ok bool, err error) {
	err = d.db.QueryRowContext(ctx, `SELECT payload FROM kv WHERE namespace=$1`, namespace).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
