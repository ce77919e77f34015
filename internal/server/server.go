// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server implements the qrpubd HTTP interface.
//
//	POST /api/qrcode     JSON options in, data URL out
//	GET  /api/qrcode     query options in, image out
//	POST /api/upload     multipart field "file" or raw body
//	GET  /images/{key}   stored upload
//	GET  /healthz        liveness
//
// Replies are JSON unless the client accepts application/cbor.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	qr "github.com/unixdj/qrpub"
	"github.com/unixdj/qrpub/blob"
	"github.com/unixdj/qrpub/publish"
	"github.com/unixdj/qrpub/split"
)

const maxRequestBody = 64 << 10

// cborMode encodes with Core Deterministic Encoding (RFC 8949 §4.2).
var cborMode cbor.EncMode

func init() {
	var err error
	if cborMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("server: CBOR encoder initialization failed: " + err.Error())
	}
}

var errBadRequest = errors.New("bad request")

// A Server serves the HTTP interface.  Create it with New.
//
// Upload URLs are resolved against public_base_url when the Publisher
// has one.  Otherwise they are relative to the request's Host, which
// the client controls.
type Server struct {
	// TrustProxy makes the server take the origin of requests from
	// the X-Forwarded-Proto and X-Forwarded-Host headers.  Set it
	// only when a reverse proxy sets or strips those headers.
	TrustProxy bool

	pub      *publish.Publisher
	opts     qr.Options
	encoders []qr.URLEncoder
	log      *slog.Logger
	mux      *http.ServeMux
}

// New returns a Server publishing uploads with p.  Codes requested
// through /api/qrcode start from opts; data URLs are built with the
// encoders in order.  A nil logger discards.
func New(p *publish.Publisher, opts qr.Options, encoders []qr.URLEncoder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		pub:      p,
		opts:     opts,
		encoders: encoders,
		log:      logger,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/qrcode", s.handleEncode)
	s.mux.HandleFunc("GET /api/qrcode", s.handleImage)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("GET /images/{key}", s.handleBlob)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	return s
}

type logKey struct{}

// logger returns the request logger stored in ctx by ServeHTTP.
func (s *Server) logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(logKey{}).(*slog.Logger); ok {
		return l
	}
	return s.log
}

type statusWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.n += n
	return n, err
}

// ServeHTTP tags the request with an ID, dispatches it and logs the
// outcome.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-Id")
	if id == "" || len(id) > 64 {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", id)
	log := s.log.With("request_id", id)
	sw := &statusWriter{ResponseWriter: w}
	start := time.Now()
	s.mux.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), logKey{}, log)))
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	log.InfoContext(r.Context(), "request", "method", r.Method,
		"path", r.URL.Path, "status", sw.status, "bytes", sw.n,
		"duration", time.Since(start))
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// reply writes v as CBOR if the client accepts it, as JSON otherwise.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, code int, v any) {
	var (
		data []byte
		err  error
	)
	if strings.Contains(r.Header.Get("Accept"), "application/cbor") {
		w.Header().Set("Content-Type", "application/cbor")
		data, err = cborMode.Marshal(v)
	} else {
		w.Header().Set("Content-Type", "application/json")
		data, err = json.Marshal(v)
		data = append(data, '\n')
	}
	if err != nil {
		s.logger(r.Context()).ErrorContext(r.Context(), "encoding reply", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError),
			http.StatusInternalServerError)
		return
	}
	w.Header().Add("Vary", "Accept")
	w.WriteHeader(code)
	w.Write(data)
}

// fail replies with the status matching err.  Server errors get a
// generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	msg := err.Error()
	if code >= 500 {
		s.logger(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
		var se *publish.StorageError
		if !errors.As(err, &se) {
			msg = http.StatusText(code)
		}
	}
	s.reply(w, r, code, errorResponse{Error: msg})
}

func status(err error) int {
	var (
		oe *qr.OptionError
		ve *publish.ValidationError
	)
	switch {
	case errors.Is(err, split.ErrCapacity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, blob.ErrNotFound), errors.Is(err, blob.ErrKey):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, qr.ErrEmpty),
		errors.Is(err, qr.ErrLargeImage),
		errors.As(err, &oe), errors.As(err, &ve):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// etagMatch reports whether the If-None-Match header value matches
// etag.
func etagMatch(header, etag string) bool {
	for _, t := range strings.Split(header, ",") {
		t = strings.TrimSpace(t)
		if t == "*" || strings.TrimPrefix(t, "W/") == etag {
			return true
		}
	}
	return false
}
