// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqlitestore implements a blob store in an SQLite database.
package sqlitestore // import "github.com/unixdj/qrpub/blob/sqlitestore"

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/unixdj/qrpub/blob"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	key          TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	digest       TEXT NOT NULL,
	data         BLOB,
	created      INTEGER NOT NULL
) WITHOUT ROWID;
`

var pragmas = []string{
	"PRAGMA busy_timeout=5000",
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// Store is a blob.Store backed by a pool of SQLite connections.
type Store struct {
	pool   *sqlitex.Pool
	path   string
	logger *slog.Logger
}

// Open opens or creates the database at path.  logger may be nil.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    max(runtime.NumCPU(), 4),
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", path, err)
	}
	logger.Info("blob database opened", "path", path)
	return &Store{pool: pool, path: path, logger: logger}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", p, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitestore: schema: %w", err)
	}
	return nil
}

// Close closes the database.  It blocks until all connections in use
// are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlitestore: closing %s: %w", s.path, err)
	}
	s.logger.Info("blob database closed", "path", s.path)
	return nil
}

// Put stores data under key, replacing any previous blob.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := blob.ValidKey(key); err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: %w", err)
	}
	defer s.pool.Put(conn)
	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO blobs (key, content_type, digest, data, created)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{key, contentType, blob.Digest(data), data,
				time.Now().UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("sqlitestore: put %q: %w", key, err)
	}
	return nil
}

// Get returns the blob stored under key.
func (s *Store) Get(ctx context.Context, key string) (*blob.Object, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	defer s.pool.Put(conn)
	var o *blob.Object
	err = sqlitex.Execute(conn,
		`SELECT content_type, digest, data, created FROM blobs WHERE key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data := make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, data)
				o = &blob.Object{
					ContentType: stmt.ColumnText(0),
					Digest:      stmt.ColumnText(1),
					Data:        data,
					Modified:    time.UnixMilli(stmt.ColumnInt64(3)),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get %q: %w", key, err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %q", blob.ErrNotFound, key)
	}
	return o, nil
}
