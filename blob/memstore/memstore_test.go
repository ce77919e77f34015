// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unixdj/qrpub/blob"
)

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	data := []byte("\x89PNG\r\n\x1a\n....")
	require.NoError(t, s.Put(ctx, "a.png", data, "image/png"))
	data[0] = 0 // the store keeps its own copy

	o, err := s.Get(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\r\n\x1a\n....", string(o.Data))
	assert.Equal(t, "image/png", o.ContentType)
	assert.Equal(t, blob.Digest(o.Data), o.Digest)
	assert.False(t, o.Modified.IsZero())

	o.Data[0] = 'x'
	o2, err := s.Get(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), o2.Data[0])

	require.NoError(t, s.Put(ctx, "a.png", []byte("<svg/>"), "image/svg+xml"))
	o, err = s.Get(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", o.ContentType)
	assert.Equal(t, []string{"a.png"}, s.Keys())
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, blob.ErrNotFound), "%v", err)
	assert.True(t, errors.Is(s.Put(ctx, "../x", nil, ""), blob.ErrKey))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Put(cctx, "k", nil, ""), context.Canceled)
	assert.Empty(t, s.Keys())
}

func TestConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%02d", i)
			assert.NoError(t, s.Put(ctx, key, []byte(key), "text/plain"))
			o, err := s.Get(ctx, key)
			if assert.NoError(t, err) {
				assert.Equal(t, key, string(o.Data))
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Keys(), 16)
}
