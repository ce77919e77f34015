// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// A Format is an output image format.
type Format int

const (
	SVG   Format = iota // scalable vector graphics
	PNG                 // 1-bit paletted PNG
	PBM                 // netpbm bitmap; colours are ignored
	UTF8                // text using half block characters
	ASCII               // text using "##" for black pixels
	numFormats
)

var formatNames = [numFormats]string{"svg", "png", "pbm", "utf8", "ascii"}

var contentTypes = [numFormats]string{
	"image/svg+xml",
	"image/png",
	"image/x-portable-bitmap",
	"text/plain; charset=utf-8",
	"text/plain; charset=utf-8",
}

func (f Format) valid() bool { return 0 <= f && f < numFormats }

func (f Format) String() string {
	if f.valid() {
		return formatNames[f]
	}
	return "format(" + strconv.Itoa(int(f)) + ")"
}

// ContentType returns the MIME type of images in format f.
func (f Format) ContentType() string {
	if f.valid() {
		return contentTypes[f]
	}
	return "application/octet-stream"
}

// ParseFormat returns the Format named by s, case insensitively.
func ParseFormat(s string) (Format, error) {
	for i, v := range formatNames {
		if strings.EqualFold(s, v) {
			return Format(i), nil
		}
	}
	return 0, &OptionError{"format", s}
}

// Write writes the code to w in format f.
func (c *Code) Write(w io.Writer, f Format) error {
	switch f {
	case SVG:
		return c.EncodeSVG(w)
	case PNG:
		return c.EncodePNG(w)
	case PBM:
		return c.EncodePBM(w)
	case UTF8:
		return c.EncodeText(w, false)
	case ASCII:
		return c.EncodeText(w, true)
	}
	return &OptionError{"format", f.String()}
}

// An Image is a rendered code.
type Image struct {
	Data        []byte
	ContentType string
	Code        *Code
}

// Render encodes text and renders it according to opts.
func Render(text string, opts Options) (*Image, error) {
	c, err := Encode(text, opts)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := c.Write(&b, opts.Format); err != nil {
		return nil, err
	}
	return &Image{
		Data:        b.Bytes(),
		ContentType: opts.Format.ContentType(),
		Code:        c,
	}, nil
}

// ErrDataURL is returned by DataURL when no encoder accepts the image.
var ErrDataURL = errors.New("qr: no data URL encoding for image")

// A URLEncoder returns img as a data URL, or false if it can't encode
// it.
type URLEncoder func(img *Image) (string, bool)

// Base64 encodes any image in base64.
func Base64(img *Image) (string, bool) {
	return "data:" + mediaType(img.ContentType) + ";base64," +
		base64.StdEncoding.EncodeToString(img.Data), true
}

// Percent percent-encodes textual images, such as SVG.  Binary formats
// are declined.
func Percent(img *Image) (string, bool) {
	mt := mediaType(img.ContentType)
	if !strings.HasPrefix(mt, "text/") && mt != "image/svg+xml" {
		return "", false
	}
	return "data:" + strings.ReplaceAll(img.ContentType, " ", "") + "," +
		url.PathEscape(string(img.Data)), true
}

// URLEncoders maps encoder names to URLEncoders.
var URLEncoders = map[string]URLEncoder{
	"base64":  Base64,
	"percent": Percent,
}

// DefaultURLEncoders is the chain DataURL uses when given none.
var DefaultURLEncoders = []URLEncoder{Base64}

// DataURL returns img as a data URL produced by the first encoder in
// chain that accepts it.
func (img *Image) DataURL(chain ...URLEncoder) (string, error) {
	if len(chain) == 0 {
		chain = DefaultURLEncoders
	}
	for _, enc := range chain {
		if s, ok := enc(img); ok {
			return s, nil
		}
	}
	return "", ErrDataURL
}

func mediaType(ct string) string {
	mt, _, _ := strings.Cut(ct, ";")
	return strings.TrimSpace(mt)
}
