// Package chunkdb persists chunk payloads in a single SQLite database.
// Payload blobs are zstd-compressed; coordinates form the primary key.
package chunkdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"chunkstream.dev/internal/chunk"
)

type DB struct {
	db *sql.DB

	// one encoder/decoder pair shared by all callers; both are safe for
	// concurrent EncodeAll/DecodeAll use.
	enc *zstd.Encoder
	dec *zstd.Decoder

	mu     sync.Mutex
	closed bool
}

// Open creates or opens the chunk database at path, creating parent
// directories as needed.
func Open(path string) (*DB, error) {
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

	// WithZeroFrames makes EncodeAll emit a real frame for zero-length
	// input; the chunks.payload column is NOT NULL and an empty chunk is a
	// valid value.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithZeroFrames(true))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, enc: enc, dec: dec}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps background save bursts from stalling concurrent loads.
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			payload BLOB NOT NULL,
			raw_size INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (cx, cy, cz)
		);`,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', '1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.enc.Close()
	d.dec.Close()
	return d.db.Close()
}

// LoadChunk fetches one chunk. A missing row is a miss, not an error:
// the returned payload has Generated == false.
func (d *DB) LoadChunk(c chunk.Coord) (chunk.Payload, error) {
	var blob []byte
	var rawSize int64
	err := d.db.QueryRow(
		`SELECT payload, raw_size FROM chunks WHERE cx = ? AND cy = ? AND cz = ?`,
		c.X, c.Y, c.Z,
	).Scan(&blob, &rawSize)
	if errors.Is(err, sql.ErrNoRows) {
		return chunk.Payload{}, nil
	}
	if err != nil {
		return chunk.Payload{}, fmt.Errorf("load chunk %v: %w", c, err)
	}

	data, err := d.dec.DecodeAll(blob, make([]byte, 0, rawSize))
	if err != nil {
		return chunk.Payload{}, fmt.Errorf("decompress chunk %v: %w", c, err)
	}
	return chunk.Payload{Data: data, Generated: true}, nil
}

func (d *DB) SaveChunk(c chunk.Coord, p chunk.Payload) error {
	blob := d.enc.EncodeAll(p.Data, nil)
	_, err := d.db.Exec(
		`INSERT INTO chunks (cx, cy, cz, payload, raw_size, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cx, cy, cz) DO UPDATE SET
		   payload = excluded.payload,
		   raw_size = excluded.raw_size,
		   updated_at = excluded.updated_at`,
		c.X, c.Y, c.Z, blob, len(p.Data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save chunk %v: %w", c, err)
	}
	return nil
}

func (d *DB) IsChunkGenerated(c chunk.Coord) (bool, error) {
	var one int
	err := d.db.QueryRow(
		`SELECT 1 FROM chunks WHERE cx = ? AND cy = ? AND cz = ?`,
		c.X, c.Y, c.Z,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe chunk %v: %w", c, err)
	}
	return true, nil
}

// Count returns the number of persisted chunks.
func (d *DB) Count() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
