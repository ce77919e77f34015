// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	qr "github.com/unixdj/qrpub"
	"github.com/unixdj/qrpub/publish"
)

// qrRequest holds the options of a code request.  Unset fields keep
// the server defaults.
type qrRequest struct {
	Text       string `json:"text"`
	Size       int    `json:"size"`
	Border     int    `json:"border"`
	DarkColor  string `json:"darkColor"`
	LightColor string `json:"lightColor"`
	Level      string `json:"level"`
	Format     string `json:"format"`
}

func (s *Server) newRequest() qrRequest {
	return qrRequest{
		Size:       s.opts.Size,
		Border:     s.opts.Border,
		DarkColor:  qr.FormatColor(s.opts.Dark),
		LightColor: qr.FormatColor(s.opts.Light),
		Level:      s.opts.Level.String(),
		Format:     s.opts.Format.String(),
	}
}

// options returns the request as options for qr.Render, starting
// from base.
func (q *qrRequest) options(base qr.Options) (qr.Options, error) {
	o := base
	o.Size, o.Border = q.Size, q.Border
	var err error
	if o.Dark, err = qr.ParseColor(q.DarkColor); err != nil {
		return o, err
	}
	if o.Light, err = qr.ParseColor(q.LightColor); err != nil {
		return o, err
	}
	if o.Level, err = qr.ParseLevel(q.Level); err != nil {
		return o, err
	}
	if o.Format, err = qr.ParseFormat(q.Format); err != nil {
		return o, err
	}
	return o, o.Validate()
}

// etag returns an entity tag for the image text and o produce.
func etag(text string, o qr.Options) string {
	d := xxhash.New()
	fmt.Fprintf(d, "%d\x00%d\x00%s\x00%s\x00%s\x00%s\x00%t\x00",
		o.Size, o.Border, qr.FormatColor(o.Dark), qr.FormatColor(o.Light),
		o.Level, o.Format, o.Kanji)
	d.WriteString(text)
	return fmt.Sprintf(`"%016x"`, d.Sum64())
}

type encodeResponse struct {
	Success bool   `json:"success"`
	Image   string `json:"image"`
}

// handleEncode serves POST /api/qrcode.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	q := s.newRequest()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&q); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	o, err := q.options(s.opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	img, err := qr.Render(q.Text, o)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := img.DataURL(s.encoders...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, http.StatusOK, encodeResponse{Success: true, Image: u})
}

// handleImage serves GET /api/qrcode.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	q := s.newRequest()
	v := r.URL.Query()
	q.Text = v.Get("text")
	for _, f := range []struct {
		name string
		p    *int
	}{{"size", &q.Size}, {"border", &q.Border}} {
		if v.Has(f.name) {
			n, err := strconv.Atoi(v.Get(f.name))
			if err != nil {
				s.fail(w, r, &qr.OptionError{Option: f.name, Value: v.Get(f.name)})
				return
			}
			*f.p = n
		}
	}
	for _, f := range []struct {
		name string
		p    *string
	}{
		{"darkColor", &q.DarkColor}, {"lightColor", &q.LightColor},
		{"level", &q.Level}, {"format", &q.Format},
	} {
		if v.Has(f.name) {
			*f.p = v.Get(f.name)
		}
	}
	o, err := q.options(s.opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tag := etag(q.Text, o)
	w.Header().Set("ETag", tag)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if etagMatch(r.Header.Get("If-None-Match"), tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	img, err := qr.Render(q.Text, o)
	if err != nil {
		w.Header().Del("ETag")
		w.Header().Del("Cache-Control")
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Write(img.Data)
}

type uploadResponse struct {
	Success   bool    `json:"success"`
	StoredKey string  `json:"storedKey"`
	PublicURL string  `json:"publicURL"`
	Image     *string `json:"image"`
	Encoded   bool    `json:"encoded"`
}

// handleUpload serves POST /api/upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.pub.MaxSize
	if limit <= 0 {
		limit = publish.DefaultMaxSize
	}
	u, err := readUpload(r, int64(limit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := publish.WithOrigin(r.Context(), s.origin(r))
	res, err := s.pub.Publish(ctx, u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := uploadResponse{
		Success:   true,
		StoredKey: res.Key,
		PublicURL: res.URL,
		Encoded:   res.Encoded,
	}
	if res.Encoded {
		if du, err := res.Image.DataURL(s.encoders...); err == nil {
			resp.Image = &du
		} else {
			s.logger(ctx).WarnContext(ctx, "no data URL for code",
				"key", res.Key, "error", err)
			resp.Encoded = false
		}
	}
	s.reply(w, r, http.StatusOK, resp)
}

// readUpload reads the upload from the multipart field "file" or,
// for other content types, from the body.  At most limit+1 bytes are
// read so that the publisher can reject oversized uploads.
func readUpload(r *http.Request, limit int64) (publish.Upload, error) {
	var u publish.Upload
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/form-data" {
		u.ContentType = r.Header.Get("Content-Type")
		u.Filename = r.URL.Query().Get("filename")
		u.Data, err = io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err != nil {
			return u, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return u, nil
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return u, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return u, fmt.Errorf(`%w: missing form field "file"`, errBadRequest)
		}
		if err != nil {
			return u, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if p.FormName() != "file" {
			p.Close()
			continue
		}
		u.ContentType = p.Header.Get("Content-Type")
		u.Filename = p.FileName()
		u.Data, err = io.ReadAll(io.LimitReader(p, limit+1))
		p.Close()
		if err != nil {
			return u, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return u, nil
	}
}

// origin returns the scheme and host the request was sent to.
func (s *Server) origin(r *http.Request) string {
	scheme, host := "http", r.Host
	if r.TLS != nil {
		scheme = "https"
	}
	if s.TrustProxy {
		if p := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); p == "http" || p == "https" {
			scheme = p
		}
		if h := r.Header.Get("X-Forwarded-Host"); h != "" {
			host, _, _ = strings.Cut(h, ",")
			host = strings.TrimSpace(host)
		}
	}
	return scheme + "://" + host
}

// handleBlob serves GET /images/{key}.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	o, err := s.pub.Open(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", o.ContentType)
	h.Set("ETag", `"`+o.Digest+`"`)
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
	http.ServeContent(w, r, key, o.Modified, bytes.NewReader(o.Data))
}
