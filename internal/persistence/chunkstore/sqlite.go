package chunkstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelstream.ai/internal/sim/encoding"
	"voxelstream.ai/internal/sim/stream"
)

// SQLiteStore keeps RLE chunk payloads in one table keyed by chunk key.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			key TEXT PRIMARY KEY,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			blocks BLOB NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS chunks_column ON chunks(cx, cz);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, key stream.ChunkKey) ([]uint16, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT blocks FROM chunks WHERE key = ?`, key.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	blocks, err := encoding.DecodeRLE(raw, -1)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return blocks, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key stream.ChunkKey, blocks []uint16) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks(key, cx, cy, cz, blocks, saved_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET blocks=excluded.blocks, saved_at=excluded.saved_at`,
		key.String(), key.X, key.Y, key.Z, encoding.EncodeRLE(blocks), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Column lists the saved keys in one vertical column, lowest first.
func (s *SQLiteStore) Column(ctx context.Context, col stream.ColumnKey) ([]stream.ChunkKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cx, cy, cz FROM chunks WHERE cx = ? AND cz = ? ORDER BY cy`, col.X, col.Z)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []stream.ChunkKey
	for rows.Next() {
		var k stream.ChunkKey
		if err := rows.Scan(&k.X, &k.Y, &k.Z); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(LENGTH(blocks)), 0) FROM chunks`).Scan(&st.Chunks, &st.Bytes)
	return st, err
}

func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
