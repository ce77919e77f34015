// Copyright 2011 The Go Authors.  All rights reserved.
// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package qr encodes QR codes and renders them as images.

Encode splits the text into segments, picks the smallest version that
holds them at the requested level and builds the code.  The Code
methods EncodeSVG, EncodePNG, EncodePBM and EncodeText write it out;
Render does both steps according to Options and returns the image
bytes with their content type.
*/
package qr // import "github.com/unixdj/qrpub"

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/unixdj/qrpub/coding"
	"github.com/unixdj/qrpub/split"
)

// A Level denotes a QR error correction level.
// From least to most tolerant of errors, they are L, M, Q, H.
type Level = coding.Level

const (
	L = coding.L // 20% redundant
	M = coding.M // 38% redundant
	Q = coding.Q // 55% redundant
	H = coding.H // 65% redundant
)

var (
	ErrEmpty      = errors.New("qr: empty text")
	ErrArgs       = errors.New("qr: invalid arguments")
	ErrLargeImage = errors.New("qr: image too large")
)

// MaxImageSize is the largest image side in pixels.
const MaxImageSize = 1 << 13

// An OptionError reports an invalid rendering or encoding option.
type OptionError struct {
	Option string
	Value  string
}

func (e *OptionError) Error() string {
	return "qr: invalid " + e.Option + ": " + strconv.Quote(e.Value)
}

// Options controls encoding and rendering.
type Options struct {
	Size   int // requested image side in pixels
	Border int // quiet zone in modules

	Dark  color.RGBA
	Light color.RGBA

	Level  Level
	Format Format

	Kanji    bool // use kanji mode for Shift JIS kanji
	Fallback bool // retry at lower levels if the text doesn't fit
}

// DefaultOptions returns the options used when none are given:
// a 300 pixel black on white SVG at level M with a 2 module quiet
// zone.
func DefaultOptions() Options {
	return Options{
		Size:   300,
		Border: 2,
		Dark:   color.RGBA{0x00, 0x00, 0x00, 0xff},
		Light:  color.RGBA{0xff, 0xff, 0xff, 0xff},
		Level:  M,
		Format: SVG,
	}
}

// Validate checks o for values Render cannot use.
func (o *Options) Validate() error {
	switch {
	case o.Size <= 0 || o.Size > MaxImageSize:
		return &OptionError{"size", strconv.Itoa(o.Size)}
	case o.Border < 0 || o.Border > 64:
		return &OptionError{"border", strconv.Itoa(o.Border)}
	case o.Level < L || o.Level > H:
		return &OptionError{"level", o.Level.String()}
	case !o.Format.valid():
		return &OptionError{"format", o.Format.String()}
	}
	return nil
}

// Scale returns the number of image pixels per module for a code with
// siz modules on a side: the largest that fits the code and its quiet
// zone into o.Size pixels, but at least 1.
func (o *Options) Scale(siz int) int {
	return max(1, o.Size/(siz+2*o.Border))
}

// ParseColor parses a colour in the form "#RRGGBB" or "#RGB".
// The leading "#" is optional.
func ParseColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, &OptionError{"colour", s}
	}
	switch len(h) {
	case 3:
		return color.RGBA{
			uint8(n >> 8 & 0xf * 0x11),
			uint8(n >> 4 & 0xf * 0x11),
			uint8(n & 0xf * 0x11),
			0xff,
		}, nil
	case 6:
		return color.RGBA{uint8(n >> 16), uint8(n >> 8), uint8(n), 0xff}, nil
	}
	return color.RGBA{}, &OptionError{"colour", s}
}

// ParseLevel returns the Level named by s, one of "L", "M", "Q" or
// "H" in either case.
func ParseLevel(s string) (Level, error) {
	l, err := coding.ParseLevel(s)
	if err != nil {
		return 0, &OptionError{"level", s}
	}
	return l, nil
}

// FormatColor returns c as "#rrggbb".
func FormatColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// A Code is a square pixel grid together with the options used to
// draw it.
type Code struct {
	Bitmap []byte // 1 is black, 0 is white
	Size   int    // number of pixels on a side
	Stride int    // number of bytes per row

	Version coding.Version // QR version
	Level   Level          // error correction level
	Mask    int            // mask pattern

	Scale  int        // number of image pixels per QR pixel
	Border int        // quiet zone in QR pixels
	Light  color.RGBA // background
	Dark   color.RGBA // foreground
}

// Black returns true if the pixel at (x,y) is black.
func (c *Code) Black(x, y int) bool {
	return 0 <= x && x < c.Size && 0 <= y && y < c.Size &&
		c.Bitmap[y*c.Stride+x/8]&(1<<uint(7&^x)) != 0
}

// ImageSize returns the side of the rendered image in pixels.
func (c *Code) ImageSize() int {
	return c.Scale * (c.Size + 2*c.Border)
}

func (c *Code) isValid() bool {
	return c != nil && c.Size > 0 && c.Stride == (c.Size+7)>>3 &&
		len(c.Bitmap) == c.Size*c.Stride &&
		c.Scale > 0 && c.Border >= 0
}

// Encode returns a code containing text, with render options taken
// from opts.  If the text doesn't fit at opts.Level and opts.Fallback
// is set, lower levels are tried before giving up.
func Encode(text string, opts Options) (*Code, error) {
	if text == "" {
		return nil, ErrEmpty
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	sopts := split.Options{Kanji: opts.Kanji}
	l := opts.Level
	seg, v, err := split.Split(text, l, sopts)
	for err != nil && opts.Fallback && l > L &&
		errors.Is(err, split.ErrCapacity) {
		l--
		seg, v, err = split.Split(text, l, sopts)
	}
	if err != nil {
		return nil, err
	}
	cc, err := coding.Encode(v, l, seg...)
	if err != nil {
		return nil, err
	}
	c := &Code{
		Bitmap:  cc.Bitmap,
		Size:    cc.Size,
		Stride:  cc.Stride,
		Version: cc.Version,
		Level:   cc.Level,
		Mask:    cc.Mask,
		Border:  opts.Border,
		Light:   opts.Light,
		Dark:    opts.Dark,
	}
	c.Scale = opts.Scale(c.Size)
	return c, nil
}
