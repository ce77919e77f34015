// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qr "github.com/unixdj/qrpub"
	"github.com/unixdj/qrpub/blob"
	"github.com/unixdj/qrpub/blob/memstore"
	"github.com/unixdj/qrpub/publish"
)

func newServer(store blob.Store, pubOpts *qr.Options) *Server {
	p := &publish.Publisher{Store: store, Options: pubOpts}
	return New(p, qr.DefaultOptions(), nil, nil)
}

func serve(s *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func postJSON(s *Server, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", "/api/qrcode", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return serve(s, r)
}

// dataURL splits a base64 data URL into media type and payload.
func dataURL(t *testing.T, u string) (string, []byte) {
	t.Helper()
	head, payload, ok := strings.Cut(u, ",")
	require.True(t, ok, u)
	mt, ok := strings.CutSuffix(strings.TrimPrefix(head, "data:"), ";base64")
	require.True(t, ok, head)
	data, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	return mt, data
}

func decodePNG(t *testing.T, data []byte) string {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return decodeImage(t, img)
}

func decodeImage(t *testing.T, img image.Image) string {
	t.Helper()
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	require.NoError(t, err)
	res, err := qrcode.NewQRCodeReader().Decode(bmp,
		map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_PURE_BARCODE: true,
		})
	require.NoError(t, err)
	return res.GetText()
}

func pngData(n int) []byte {
	b := make([]byte, n)
	copy(b, "\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR")
	for i := 16; i < n; i++ {
		b[i] = byte(i * 7)
	}
	return b
}

func TestEncode(t *testing.T) {
	s := newServer(memstore.New(), nil)
	w := postJSON(s, `{"text":"https://example.com","size":300}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	var resp encodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	mt, data := dataURL(t, resp.Image)
	assert.Equal(t, "image/svg+xml", mt)
	assert.Contains(t, string(data), `viewBox="0 0 29 29"`)
	assert.Contains(t, string(data), `width="290"`)

	w = postJSON(s, `{"text":"hello, world","format":"png","darkColor":"#123","level":"h"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	mt, data = dataURL(t, resp.Image)
	assert.Equal(t, "image/png", mt)
	assert.Equal(t, "hello, world", decodePNG(t, data))
}

func TestEncodeCBOR(t *testing.T) {
	s := newServer(memstore.New(), nil)
	r := httptest.NewRequest("POST", "/api/qrcode", strings.NewReader(`{"text":"cbor"}`))
	r.Header.Set("Accept", "application/cbor")
	w := serve(s, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/cbor", w.Header().Get("Content-Type"))
	var resp encodeResponse
	require.NoError(t, cbor.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.Image, "data:image/svg+xml;base64,"))

	// deterministic
	r = httptest.NewRequest("POST", "/api/qrcode", strings.NewReader(`{"text":"cbor"}`))
	r.Header.Set("Accept", "application/cbor")
	assert.Equal(t, w.Body.Bytes(), serve(s, r).Body.Bytes())
}

func TestEncodeErrors(t *testing.T) {
	s := newServer(memstore.New(), nil)
	for _, tt := range []struct {
		body string
		code int
	}{
		{`{"text":""}`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`{"text":`, http.StatusBadRequest},
		{`{"text":"x","size":0}`, http.StatusBadRequest},
		{`{"text":"x","size":100000}`, http.StatusBadRequest},
		{`{"text":"x","darkColor":"blue"}`, http.StatusBadRequest},
		{`{"text":"x","level":"X"}`, http.StatusBadRequest},
		{`{"text":"x","format":"gif"}`, http.StatusBadRequest},
		{`{"text":"` + strings.Repeat("a", 3000) + `","level":"H"}`, http.StatusUnprocessableEntity},
	} {
		w := postJSON(s, tt.body)
		assert.Equal(t, tt.code, w.Code, tt.body)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Error)
	}
}

func TestImage(t *testing.T) {
	s := newServer(memstore.New(), nil)
	const target = "/api/qrcode?text=hello+world&format=png&size=200"
	w := serve(s, httptest.NewRequest("GET", target, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "hello world", decodePNG(t, w.Body.Bytes()))
	tag := w.Header().Get("ETag")
	require.Regexp(t, `^"[0-9a-f]{16}"$`, tag)

	r := httptest.NewRequest("GET", target, nil)
	r.Header.Set("If-None-Match", `"abc", `+tag)
	w = serve(s, r)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())

	w = serve(s, httptest.NewRequest("GET", target+"&border=0", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, tag, w.Header().Get("ETag"))

	// server defaults: SVG
	w = serve(s, httptest.NewRequest("GET", "/api/qrcode?text=x", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))

	for target, code := range map[string]int{
		"/api/qrcode":                     http.StatusBadRequest,
		"/api/qrcode?text=x&size=big":     http.StatusBadRequest,
		"/api/qrcode?text=x&lightColor=z": http.StatusBadRequest,
		"/api/qrcode?text=" + strings.Repeat("a", 3000): http.StatusUnprocessableEntity,
	} {
		w := serve(s, httptest.NewRequest("GET", target, nil))
		assert.Equal(t, code, w.Code, target)
		assert.Empty(t, w.Header().Get("ETag"), target)
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	require.NoError(t, mw.WriteField("comment", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	fw.Write(data)
	require.NoError(t, mw.Close())
	return &b, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	store := memstore.New()
	opts := qr.DefaultOptions()
	opts.Format = qr.PNG
	s := newServer(store, &opts)
	data := pngData(2048)

	body, ct := multipartBody(t, "file", "photo.png", data)
	r := httptest.NewRequest("POST", "/api/upload", body)
	r.Header.Set("Content-Type", ct)
	w := serve(s, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Encoded)
	assert.True(t, strings.HasSuffix(resp.StoredKey, ".png"), resp.StoredKey)
	assert.Equal(t, "http://example.com/images/"+resp.StoredKey, resp.PublicURL)
	require.NotNil(t, resp.Image)
	_, img := dataURL(t, *resp.Image)
	assert.Equal(t, resp.PublicURL, decodePNG(t, img))

	w = serve(s, httptest.NewRequest("GET", "/images/"+resp.StoredKey, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	tag := w.Header().Get("ETag")
	assert.Equal(t, `"`+blob.Digest(data)+`"`, tag)

	r = httptest.NewRequest("GET", "/images/"+resp.StoredKey, nil)
	r.Header.Set("If-None-Match", tag)
	assert.Equal(t, http.StatusNotModified, serve(s, r).Code)

	// raw body
	r = httptest.NewRequest("POST", "/api/upload", strings.NewReader("GIF89a......"))
	r.Header.Set("Content-Type", "image/gif")
	w = serve(s, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasSuffix(resp.StoredKey, ".gif"), resp.StoredKey)
	assert.Equal(t, "http://example.com/images/"+resp.StoredKey, resp.PublicURL)
	assert.Len(t, store.Keys(), 2)
}

func TestUploadOrigin(t *testing.T) {
	upload := func(s *Server, header map[string]string) string {
		t.Helper()
		r := httptest.NewRequest("POST", "/api/upload", strings.NewReader("GIF89a......"))
		r.Header.Set("Content-Type", "image/gif")
		for k, v := range header {
			r.Header.Set(k, v)
		}
		w := serve(s, r)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp uploadResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		u, ok := strings.CutSuffix(resp.PublicURL, "/images/"+resp.StoredKey)
		require.True(t, ok, resp.PublicURL)
		return u
	}
	fwd := map[string]string{
		"X-Forwarded-Proto": "https",
		"X-Forwarded-Host":  "qr.example.net, inner.local",
	}

	s := newServer(memstore.New(), nil)
	assert.Equal(t, "http://example.com", upload(s, fwd))

	s.TrustProxy = true
	assert.Equal(t, "https://qr.example.net", upload(s, fwd))
	assert.Equal(t, "http://example.com", upload(s, nil))
	assert.Equal(t, "http://example.com",
		upload(s, map[string]string{"X-Forwarded-Proto": "javascript"}))

	// a configured base URL ignores the request
	p := &publish.Publisher{
		Store:     memstore.New(),
		Resolvers: publish.DefaultResolvers("https://cdn.example.org/i"),
	}
	s = New(p, qr.DefaultOptions(), nil, nil)
	s.TrustProxy = true
	assert.Equal(t, "https://cdn.example.org/i", upload(s, fwd))
}

func TestUploadDegraded(t *testing.T) {
	store := memstore.New()
	s := newServer(store, &qr.Options{})
	r := httptest.NewRequest("POST", "/api/upload", bytes.NewReader(pngData(100)))
	r.Header.Set("Content-Type", "image/png")
	w := serve(s, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"image":null`)
	assert.Contains(t, w.Body.String(), `"encoded":false`)
	assert.Len(t, store.Keys(), 1)
}

type failStore struct{ blob.Store }

func (failStore) Put(context.Context, string, []byte, string) error {
	return errors.New("/var/lib/qrpub: disk on fire")
}

func TestUploadErrors(t *testing.T) {
	store := memstore.New()
	s := newServer(store, nil)

	r := httptest.NewRequest("POST", "/api/upload", strings.NewReader("hello"))
	r.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, serve(s, r).Code)

	body, ct := multipartBody(t, "upload", "a.png", pngData(100))
	r = httptest.NewRequest("POST", "/api/upload", body)
	r.Header.Set("Content-Type", ct)
	w := serve(s, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `missing form field`)

	r = httptest.NewRequest("POST", "/api/upload", bytes.NewReader(pngData(publish.DefaultMaxSize+1)))
	r.Header.Set("Content-Type", "image/png")
	assert.Equal(t, http.StatusBadRequest, serve(s, r).Code)
	assert.Empty(t, store.Keys())

	s = newServer(failStore{store}, nil)
	r = httptest.NewRequest("POST", "/api/upload", bytes.NewReader(pngData(100)))
	r.Header.Set("Content-Type", "image/png")
	w = serve(s, r)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "publish: storage failed", resp.Error)
	assert.NotContains(t, w.Body.String(), "disk")
}

func TestMisc(t *testing.T) {
	s := newServer(memstore.New(), nil)

	w := serve(s, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = serve(s, httptest.NewRequest("GET", "/images/nope.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, httptest.NewRequest("DELETE", "/api/qrcode", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	r := httptest.NewRequest("GET", "/healthz", nil)
	r.Header.Set("X-Request-Id", "req-1")
	assert.Equal(t, "req-1", serve(s, r).Header().Get("X-Request-Id"))
}
