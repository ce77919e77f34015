// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package publish

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrUnresolved is returned by Resolve when no resolver accepts a key.
var ErrUnresolved = errors.New("publish: no public URL for key")

// A Resolver turns a stored key into a public URL, or reports false if
// it can't.
type Resolver interface {
	Resolve(ctx context.Context, key string) (string, bool)
}

// BaseURL resolves keys under a configured public base URL.
type BaseURL struct {
	Base string // e.g. "https://cdn.example.com/uploads"
}

// Resolve returns Base, stripped of trailing slashes, with the escaped
// key appended.  It declines if Base is empty.
func (b BaseURL) Resolve(_ context.Context, key string) (string, bool) {
	base := strings.TrimRight(b.Base, "/")
	if base == "" {
		return "", false
	}
	return base + "/" + url.PathEscape(key), true
}

// Proxy resolves keys to the image route of this server.
type Proxy struct {
	Prefix string // route prefix, "/images/" if empty
}

// Resolve returns the route for key, made absolute against the origin
// in ctx if there is one.  It never declines.
func (p Proxy) Resolve(ctx context.Context, key string) (string, bool) {
	prefix := p.Prefix
	if prefix == "" {
		prefix = "/images/"
	}
	return strings.TrimRight(Origin(ctx), "/") + prefix + url.PathEscape(key), true
}

// DefaultResolvers returns the chain used by a Publisher: base if set,
// then the proxy route.
func DefaultResolvers(base string) []Resolver {
	return []Resolver{BaseURL{Base: base}, Proxy{}}
}

// Resolve returns the URL from the first resolver in chain that
// accepts key.
func Resolve(ctx context.Context, chain []Resolver, key string) (string, error) {
	for _, r := range chain {
		if u, ok := r.Resolve(ctx, key); ok {
			return u, nil
		}
	}
	return "", ErrUnresolved
}

type originKey struct{}

// WithOrigin returns a context carrying the scheme and host requests
// arrived at, such as "https://qr.example.com".
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// Origin returns the origin stored by WithOrigin, or "".
func Origin(ctx context.Context) string {
	s, _ := ctx.Value(originKey{}).(string)
	return s
}
