// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blob defines the storage contract for published files.
//
// A Store keeps opaque byte strings under keys chosen by the caller.
// Backends live in the subpackages memstore, filestore and
// sqlitestore.
package blob // import "github.com/unixdj/qrpub/blob"

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

var (
	ErrNotFound = errors.New("blob: not found")
	ErrKey      = errors.New("blob: invalid key")
)

// MaxKeyLen is the longest key accepted by ValidKey.
const MaxKeyLen = 200

// A Store stores blobs.  Implementations are safe for concurrent use.
type Store interface {
	// Put stores data under key, replacing any previous blob.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns the blob stored under key, or an error wrapping
	// ErrNotFound.
	Get(ctx context.Context, key string) (*Object, error)
}

// An Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
	Digest      string // see Digest
	Modified    time.Time
}

// Digest returns the hex encoded BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidKey returns an error wrapping ErrKey unless key consists of
// ASCII letters, digits, '.', '-' and '_', doesn't start with '.' and
// is at most MaxKeyLen bytes long.  Valid keys are safe to use as file
// names.
func ValidKey(key string) error {
	if key == "" || len(key) > MaxKeyLen || key[0] == '.' {
		return fmt.Errorf("%w: %q", ErrKey, key)
	}
	for i := 0; i < len(key); i++ {
		switch c := key[i]; {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z',
			'0' <= c && c <= '9', c == '.', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: %q", ErrKey, key)
		}
	}
	return nil
}
