// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unixdj/qrpub/internal/config"
)

func TestParseArgs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qrpubd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen: ':9000'\npublic_base_url: https://a.example\n"), 0o644))

	var out bytes.Buffer
	cfg, err := parseArgs([]string{"-c", path, "--store", "sqlite:" + dir + "/b.db",
		"--base-url", "https://b.example", "--log-level", "debug"}, &out)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "https://b.example", cfg.PublicBaseURL)
	assert.Equal(t, config.StoreConfig{Kind: config.StoreSQLite, Path: dir + "/b.db"}, cfg.Store)
	assert.Equal(t, "debug", cfg.LogLevel)

	cfg, err = parseArgs([]string{"--version"}, &out)
	assert.NoError(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "qrpubd version")

	for _, args := range [][]string{
		{"--store", "s3:bucket"},
		{"--store", "file"},
		{"--log-level", "loud"},
		{"--bogus"},
		{"extra"},
	} {
		_, err := parseArgs(args, &out)
		assert.Error(t, err, "%q", args)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)
	for _, sc := range []config.StoreConfig{
		{Kind: config.StoreMemory},
		{Kind: config.StoreFile, Path: filepath.Join(dir, "files")},
		{Kind: config.StoreSQLite, Path: filepath.Join(dir, "blobs.db")},
	} {
		s, closeStore, err := openStore(sc, logger)
		require.NoError(t, err, sc.Kind)
		require.NoError(t, s.Put(ctx, "k.png", []byte("data"), "image/png"), sc.Kind)
		o, err := s.Get(ctx, "k.png")
		require.NoError(t, err, sc.Kind)
		assert.Equal(t, []byte("data"), o.Data, sc.Kind)
		assert.NoError(t, closeStore(), sc.Kind)
	}
}

func TestHandler(t *testing.T) {
	cfg := config.Default()
	cfg.PublicBaseURL = "https://cdn.example.com/i"
	cfg.ImageEncoding = []string{"percent", "base64"}
	store, _, err := openStore(cfg.Store, nil)
	require.NoError(t, err)
	h, err := newHandler(cfg, store, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/api/upload", strings.NewReader("GIF89a......"))
	r.Header.Set("Content-Type", "image/gif")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		StoredKey string `json:"storedKey"`
		PublicURL string `json:"publicURL"`
		Image     string `json:"image"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://cdn.example.com/i/"+resp.StoredKey, resp.PublicURL)
	// SVG is text, so the percent encoding is tried first
	assert.True(t, strings.HasPrefix(resp.Image, "data:image/svg+xml,"), resp.Image)
}
