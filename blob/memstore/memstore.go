// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memstore implements an in-memory blob store.
package memstore // import "github.com/unixdj/qrpub/blob/memstore"

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/unixdj/qrpub/blob"
)

// Store is a blob.Store keeping blobs in a map.
type Store struct {
	mu sync.RWMutex
	m  map[string]blob.Object
}

// New returns an empty Store.
func New() *Store {
	return &Store{m: make(map[string]blob.Object)}
}

// Put stores a copy of data.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := blob.ValidKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	o := blob.Object{
		Data:        bytes.Clone(data),
		ContentType: contentType,
		Digest:      blob.Digest(data),
		Modified:    time.Now(),
	}
	s.mu.Lock()
	s.m[key] = o
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the blob under key.
func (s *Store) Get(ctx context.Context, key string) (*blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	o, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", blob.ErrNotFound, key)
	}
	o.Data = bytes.Clone(o.Data)
	return &o, nil
}

// Keys returns the stored keys in order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	slices.Sort(keys)
	return keys
}
