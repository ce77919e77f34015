// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package publish stores uploaded images and encodes their public URLs
// as QR codes.
//
// A publish request runs through the states Validating, Storing,
// Resolving and Encoding, then Succeeded or Degraded, and finally
// Responding.  Validation failures happen before anything is stored.
// Storage failures end the request.  Encoding failures don't: the
// upload is kept and the result reports Encoded == false.
package publish // import "github.com/unixdj/qrpub/publish"

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	qr "github.com/unixdj/qrpub"
	"github.com/unixdj/qrpub/blob"
)

// DefaultMaxSize is the default upload size limit.
const DefaultMaxSize = 10 << 20

// DefaultTypes maps the accepted content types to file extensions.
var DefaultTypes = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
}

// A State is a step of a publish request.
type State int

const (
	Validating State = iota
	Storing
	Resolving
	Encoding
	Succeeded
	Degraded
	Responding
)

var stateNames = [...]string{
	"validating", "storing", "resolving", "encoding",
	"succeeded", "degraded", "responding",
}

func (s State) String() string {
	if 0 <= s && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// A ValidationError reports an upload rejected before storing.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "publish: " + e.Reason }

// A StorageError reports a failure of the blob store.  Its message
// doesn't include the underlying error, which is available through
// Unwrap.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string { return "publish: storage failed" }
func (e *StorageError) Unwrap() error { return e.Err }

// An Upload is a file to publish.
type Upload struct {
	Data        []byte
	ContentType string // sniffed if empty or application/octet-stream
	Filename    string // optional, for the extension
}

// A Result describes a published file.
type Result struct {
	Key     string    // storage key
	URL     string    // public URL
	Digest  string    // blob.Digest of the data
	Image   *qr.Image // QR code for URL, nil unless Encoded
	Encoded bool
	State   State // Succeeded or Degraded
}

// A KeyFunc returns a new storage key ending in ext.
type KeyFunc func(ext string) (string, error)

// A Publisher publishes uploads.  The zero value is not usable; Store
// must be set.  Other fields have defaults.
type Publisher struct {
	Store     blob.Store
	Resolvers []Resolver        // DefaultResolvers("") if nil
	Options   *qr.Options       // qr.DefaultOptions() if nil
	MaxSize   int               // DefaultMaxSize if 0
	Types     map[string]string // DefaultTypes if nil
	NewKey    KeyFunc           // NewKey if nil
	Logger    *slog.Logger      // discarded if nil
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

// Publish validates u, stores it, resolves its public URL and encodes
// the URL as a QR code.  The returned error is a *ValidationError, a
// *StorageError or ErrUnresolved.
func (p *Publisher) Publish(ctx context.Context, u Upload) (*Result, error) {
	log := p.logger()
	var (
		res Result
		ct  string
		ext string
		err error
	)
	for st := Validating; ; {
		log.DebugContext(ctx, "publish", "state", st.String(), "key", res.Key)
		switch st {
		case Validating:
			if ct, ext, err = p.validate(&u); err != nil {
				log.InfoContext(ctx, "upload rejected", "error", err)
				return nil, err
			}
			st = Storing

		case Storing:
			newKey := p.NewKey
			if newKey == nil {
				newKey = NewKey
			}
			if res.Key, err = newKey(ext); err != nil {
				return nil, &StorageError{Err: err}
			}
			if err = p.Store.Put(ctx, res.Key, u.Data, ct); err != nil {
				log.ErrorContext(ctx, "storing upload failed",
					"key", res.Key, "error", err)
				return nil, &StorageError{Key: res.Key, Err: err}
			}
			res.Digest = blob.Digest(u.Data)
			st = Resolving

		case Resolving:
			chain := p.Resolvers
			if chain == nil {
				chain = DefaultResolvers("")
			}
			if res.URL, err = Resolve(ctx, chain, res.Key); err != nil {
				return nil, err
			}
			st = Encoding

		case Encoding:
			opts := qr.DefaultOptions()
			if p.Options != nil {
				opts = *p.Options
			}
			img, err := qr.Render(res.URL, opts)
			if err != nil {
				log.WarnContext(ctx, "encoding public URL failed",
					"key", res.Key, "url", res.URL, "error", err)
				st = Degraded
				break
			}
			res.Image, res.Encoded = img, true
			st = Succeeded

		case Succeeded, Degraded:
			res.State = st
			st = Responding

		case Responding:
			log.InfoContext(ctx, "upload published", "key", res.Key,
				"url", res.URL, "size", len(u.Data),
				"encoded", res.Encoded)
			return &res, nil
		}
	}
}

// validate checks u and returns its content type and the extension
// for its key.
func (p *Publisher) validate(u *Upload) (ct, ext string, err error) {
	if len(u.Data) == 0 {
		return "", "", &ValidationError{"empty upload"}
	}
	limit := p.MaxSize
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	if len(u.Data) > limit {
		return "", "", &ValidationError{fmt.Sprintf(
			"upload too large: %d bytes, limit %d", len(u.Data), limit)}
	}
	ct = mediaType(u.ContentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = mediaType(http.DetectContentType(u.Data))
	}
	types := p.Types
	if types == nil {
		types = DefaultTypes
	}
	ext, ok := types[ct]
	if !ok {
		return "", "", &ValidationError{
			"unsupported content type " + strconv.Quote(ct)}
	}
	// The filename may pick another extension for the same type.
	fe := strings.ToLower(path.Ext(u.Filename))
	if validExt(fe) && mediaType(mime.TypeByExtension(fe)) == ct {
		ext = fe
	}
	return ct, ext, nil
}

func mediaType(ct string) string {
	mt, _, _ := strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// validExt reports whether ext is a dot followed by 1 to 8 lowercase
// letters or digits.
func validExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 9 || ext[0] != '.' {
		return false
	}
	for _, c := range ext[1:] {
		if !('a' <= c && c <= 'z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// lastMilli keeps key timestamps from going backwards.
var lastMilli atomic.Int64

// NewKey returns a key made of the current time in milliseconds, a
// dash, 8 random hex digits and ext.  The timestamp never decreases
// between calls.
func NewKey(ext string) (string, error) {
	now := time.Now().UnixMilli()
	for {
		last := lastMilli.Load()
		if now < last {
			now = last
			break
		}
		if lastMilli.CompareAndSwap(last, now) {
			break
		}
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%08x%s", now, binary.BigEndian.Uint32(b[:]), ext), nil
}

// Open returns the blob stored under key.
func (p *Publisher) Open(ctx context.Context, key string) (*blob.Object, error) {
	return p.Store.Get(ctx, key)
}
