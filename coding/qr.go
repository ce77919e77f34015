// Copyright 2011 The Go Authors.  All rights reserved.
// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package coding implements low-level QR coding details.
package coding // import "github.com/unixdj/qrpub/coding"

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/unixdj/qrpub/gf256"
)

var (
	ErrLevel   = errors.New("qr: invalid level")
	ErrVersion = errors.New("qr: invalid version")
)

// Field is the field for QR error correction.
var Field = gf256.NewField(0x11d, 2)

// A Version represents a QR version.
// The version specifies the size of the QR code:
// a QR code with version v has 4v+17 pixels on a side.
// Versions run from 1 to 40: the larger the version, the more
// information the code can store.
type Version int

const (
	MinVersion Version = 1  // Minimum QR version
	MaxVersion Version = 40 // Maximum QR version
)

func (v Version) String() string { return strconv.Itoa(int(v)) }

// QR version size classes.  The classes differ in the lengths of the
// character count fields.
const (
	Class0 = iota // QR versions 1 to 9
	Class1        // QR versions 10 to 26
	Class2        // QR versions 27 to 40
)

// SizeClass returns the size class of v, as documented under Class0.
func (v Version) SizeClass() int {
	if v <= 9 {
		return Class0
	}
	if v <= 26 {
		return Class1
	}
	return Class2
}

// Size returns the number of modules on a side of a code of
// version v.
func (v Version) Size() int { return int(v)*4 + 17 }

// DataBytes returns the number of data bytes that can be
// stored in a QR code with the given version and level.
func (v Version) DataBytes(l Level) int {
	vt := &vtab[v]
	lev := vt.level[l]
	return vt.bytes - lev.nblock*lev.check
}

// DataBits returns the number of data bits that can be
// stored in a QR code with the given version and level.
func (v Version) DataBits(l Level) int { return v.DataBytes(l) * 8 }

// Codewords returns the total number of data and check bytes in a QR
// code of version v.
func (v Version) Codewords() int { return vtab[v].bytes }

// RemainderBits returns the number of modules left over after
// placing all codewords, 0 to 7.
func (v Version) RemainderBits() int { return vtab[v].rem }

// Blocks returns the number of error correction blocks and check
// bytes per block for version v at level l.
func (v Version) Blocks(l Level) (nblock, check int) {
	lev := vtab[v].level[l]
	return lev.nblock, lev.check
}

// A Level represents a QR error correction level.
// From least to most tolerant of errors, they are L, M, Q, H.
type Level int

const (
	L Level = iota // 20% redundant
	M              // 38% redundant
	Q              // 55% redundant
	H              // 65% redundant
)

func (l Level) String() string {
	if L <= l && l <= H {
		return "LMQH"[l : l+1]
	}
	return strconv.Itoa(int(l))
}

// ParseLevel returns the Level named by s, one of "L", "M", "Q" or
// "H" in either case.
func ParseLevel(s string) (Level, error) {
	if len(s) == 1 {
		if i := strings.IndexByte("lmqhLMQH", s[0]); i >= 0 {
			return Level(i & 3), nil
		}
	}
	return 0, ErrLevel
}

// A Code is a square pixel grid.
type Code struct {
	Bitmap []byte // 1 is black, 0 is white
	Size   int    // number of pixels on a side
	Stride int    // number of bytes per row

	Version Version // QR version
	Level   Level   // error correction level
	Mask    int     // mask pattern, 0 to 7
}

func (c *Code) Black(x, y int) bool {
	return 0 <= x && x < c.Size && 0 <= y && y < c.Size &&
		c.Bitmap[y*c.Stride+x/8]&(1<<uint(7&^x)) != 0
}

// Encoder encodes a QR code.
type Encoder struct {
	p *Plan
	b *Bits
}

func newEncoder(p *Plan) *Encoder {
	return &Encoder{p: p, b: NewBits(p.Version, p.Level)}
}

// NewEncoder returns an Encoder for the given version and level.
func NewEncoder(version Version, level Level) (*Encoder, error) {
	p, err := makePlan(version, level)
	if err != nil {
		return nil, err
	}
	return newEncoder(p), nil
}

// Write adds text to e.
func (e *Encoder) Write(text ...Segment) error {
	class := e.p.Version.SizeClass()
	for _, t := range text {
		if err := t.Encode(e.b, class); err != nil {
			return err
		}
	}
	return nil
}

// xor xors a and b into dst.  a and b may not be shorter than dst.
// dst and a or b should not overlap unless they are the same slice.
func xor(dst, a, b []byte) {
	a = a[:len(dst)]
	b = b[:len(dst)]
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

func (e *Encoder) Reset() { e.b.Reset() }

// Code returns a QR code containing data written to e.
func (e *Encoder) Code() (*Code, error) {
	if e.b.Bits() > e.p.DataBits {
		return nil, fmt.Errorf("qr: cannot encode %d bits into %d-bit code",
			e.b.Bits(), e.p.DataBits)
	}
	e.b.AddCheckBytes(e.p.Version, e.p.Level)
	bits := e.b.Permute(e.p.Version, e.p.Level)
	// Now we have the checksum bytes and the data bytes.
	// Construct the bitmap consisting of data and checksum bits.
	siz, stride := e.p.Size, (e.p.Size+7)>>3
	data := make([]byte, siz*stride)
	e.p.Serialise(bits, data)

	// Apply masks to the bitmap to construct the actual codes.
	// Choose the code with the smallest penalty.
	c := &Code{
		Size:    siz,
		Stride:  stride,
		Bitmap:  make([]byte, len(data)),
		Version: e.p.Version,
		Level:   e.p.Level,
	}
	best := make([]byte, len(data)) // best bitmap so far
	var pen [len(e.p.Pattern)]int
	for i, v := range e.p.Pattern {
		// set bitmap to data bits xor plan bits
		xor(c.Bitmap, data, v)
		pen[i] = c.Penalty()
		if BestMask(pen[:i+1]) == i {
			best, c.Bitmap = c.Bitmap, best
			c.Mask = i
		}
	}
	c.Bitmap = best
	return c, nil
}

// Encode is a wrapper around Write and Code.
func (e *Encoder) Encode(text ...Segment) (*Code, error) {
	if err := e.Write(text...); err != nil {
		return nil, err
	}
	return e.Code()
}

// Encode returns a QR code containing text, built from p.
func (p *Plan) Encode(text ...Segment) (*Code, error) {
	return newEncoder(p).Encode(text...)
}

// Encode encodes text using an Encoder with the given version and level.
func Encode(version Version, level Level, text ...Segment) (*Code, error) {
	e, err := NewEncoder(version, level)
	if err != nil {
		return nil, err
	}
	return e.Encode(text...)
}

// A version describes metadata associated with a version.
type version struct {
	apos    int // first alignment box position
	astride int // distance between alignment boxes
	bytes   int // number of data and check bytes
	rem     int // number of remainder bits
	pattern int // version information
	level   [4]level
}

type level struct {
	nblock int
	check  int
}
