// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package filestore implements a blob store in a directory.
//
// Each blob is kept in two files: KEY.data holds the payload,
// compressed according to its content type, and KEY.json holds the
// metadata.  Both are written to temporary files and renamed into
// place, metadata last, so readers never see a partial blob.
package filestore // import "github.com/unixdj/qrpub/blob/filestore"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/unixdj/qrpub/blob"
)

// meta is the content of a metadata file.
type meta struct {
	ContentType string      `json:"content_type"`
	Digest      string      `json:"digest"`
	Size        int         `json:"size"`
	Compression Compression `json:"compression"`
	Modified    time.Time   `json:"modified"`
}

// Store is a blob.Store keeping blobs in a directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New returns a Store in dir, creating the directory if needed.
// logger may be nil.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(key, ext string) string {
	return filepath.Join(s.dir, key+ext)
}

// Put stores data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := blob.ValidKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c := SelectCompression(contentType)
	payload, err := compress(data, c)
	if errors.Is(err, errIncompressible) {
		c, payload = None, data
	} else if err != nil {
		return err
	}
	m, err := json.Marshal(meta{
		ContentType: contentType,
		Digest:      blob.Digest(data),
		Size:        len(data),
		Compression: c,
		Modified:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.writeFile(s.path(key, ".data"), payload); err != nil {
		return err
	}
	if err := s.writeFile(s.path(key, ".json"), m); err != nil {
		return err
	}
	s.logger.Debug("blob stored", "key", key, "size", len(data),
		"stored_size", len(payload), "compression", string(c))
	return nil
}

// writeFile writes data to path through a temporary file.
func (s *Store) writeFile(path string, data []byte) error {
	f, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	tmp := f.Name()
	if _, err = f.Write(data); err != nil {
		f.Close()
	} else {
		err = f.Close()
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filestore: %w", err)
	}
	return nil
}

// Get returns the blob stored under key.
func (s *Store) Get(ctx context.Context, key string) (*blob.Object, error) {
	if err := blob.ValidKey(key); err != nil {
		return nil, fmt.Errorf("%w: %q", blob.ErrNotFound, key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mb, err := os.ReadFile(s.path(key, ".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", blob.ErrNotFound, key)
	} else if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	var m meta
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, fmt.Errorf("filestore: %s: %w", key, err)
	}
	payload, err := os.ReadFile(s.path(key, ".data"))
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	data, err := decompress(payload, m.Compression, m.Size)
	if err != nil {
		return nil, fmt.Errorf("filestore: %s: %w", key, err)
	}
	if d := blob.Digest(data); d != m.Digest {
		return nil, fmt.Errorf("filestore: %s: digest %s, want %s",
			key, d, m.Digest)
	}
	return &blob.Object{
		Data:        data,
		ContentType: m.ContentType,
		Digest:      m.Digest,
		Modified:    m.Modified,
	}, nil
}
