// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package split splits strings into QR code segments and chooses the
smallest QR version that holds them.

Split classifies each character of the text by the modes that can
encode it (numeric, alphanumeric, byte and optionally kanji), then
chooses a mode for each run of characters so that the total encoded
length, headers included, is minimal.  The optimal split depends on
the lengths of the character count fields, which differ between
version size classes, so the split is recalculated when the size class
changes.
*/
package split // import "github.com/unixdj/qrpub/split"

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/unixdj/qrpub/coding"
)

// Options control which modes Split may use.
type Options struct {
	// Kanji enables kanji mode for characters in the QR kanji subset
	// of JIS X 0208.
	Kanji bool

	// NoByte disables byte mode.  Text containing characters not
	// encodable in any other enabled mode is rejected with
	// UnsupportedCharacterError.
	NoByte bool
}

// ErrCapacity is matched by CapacityError.
var ErrCapacity = errors.New("qr: text too long")

// CapacityError is returned by Split when the text does not fit in a
// version 40 code at the requested level.
type CapacityError struct {
	Level coding.Level
	Need  int // encoded length in bits
	Have  int // data capacity in bits of version 40 at Level
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("qr: text too long: %d bits, level %v holds %d",
		e.Need, e.Level, e.Have)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacity }

// UnsupportedCharacterError reports a character that none of the
// enabled modes can encode.
type UnsupportedCharacterError struct {
	Offset int  // byte offset in the text
	Rune   rune // the character
}

func (e *UnsupportedCharacterError) Error() string {
	return fmt.Sprintf("qr: character %q at offset %d not encodable",
		e.Rune, e.Offset)
}

var (
	sizeClass = [3]struct{ min, max coding.Version }{
		{1, 9}, {10, 26}, {27, 40},
	}

	sizeLimit = func() (lim [4][3]int) {
		for l := range lim {
			for c, sc := range sizeClass {
				lim[l][c] = sc.max.DataBits(coding.Level(l))
			}
		}
		return lim
	}()
)

/*
Split returns segments and the minimum QR code version for text at the
given error correction level.

If the text doesn't fit, Split returns a *CapacityError; a lower level
may hold it.  Empty text yields no segments and version 1.
*/
func Split(text string, level coding.Level, opts Options) ([]coding.Segment, coding.Version, error) {
	if level < coding.L || level > coding.H {
		return nil, 0, coding.ErrLevel
	}
	if text == "" {
		return nil, coding.MinVersion, nil
	}
	lim := sizeLimit[level]
	// Estimate minimum QR version size class.  This is done in a
	// very crude manner, as it's likely to be completely off anyway.
	bits := coding.Numeric.Length(len(text), 0, coding.Class0)
	class := coding.Class0
	for class < coding.Class2 && lim[class] < bits {
		class++
	}
	// Split text into spans.
	sp, err := newSplitter(text, opts)
	if err != nil {
		return nil, 0, err
	}

	// Split data into segments for the size class.
	bits = sp.split(class)
	// If data is too big for the size class, increment class
	// and resplit.  bits will change, hence the loop.
	for lim[class] < bits {
		if class == coding.Class2 {
			return nil, 0, &CapacityError{level, bits, lim[class]}
		}
		for class++; class < coding.Class2 && lim[class] < bits; class++ {
		}
		bits = sp.split(class)
	}

	// Find version in the size class.
	v := sizeClass[class].min
	for max := sizeClass[class].max; v < max; {
		if mid := (v + max) / 2; mid.DataBits(level) < bits {
			v = mid + 1
		} else {
			max = mid
		}
	}
	return sp.segments(), v, nil
}

// Bits returns the encoded length in bits of segs in a code of
// version v, excluding the terminator.
func Bits(segs []coding.Segment, v coding.Version) int {
	n, class := 0, v.SizeClass()
	for _, seg := range segs {
		n += seg.EncodedLength(class)
	}
	return n
}

/*
splitter and its component types.

newSplitter determines modes in which each rune in the string is
encodable and creates a slice of spans, each span describing a
substring of runes encodable in the same modes.  To avoid multiple
allocations, the span structure contains an array of segments for the
modes.

splitter.split creates a linked list of segments representing an
optimal split of the data.  A segment contains its mode, length in
bytes and runes, total encoded length in bits of the string from this
segment to the end, and a link to the next segment.

The split is calculated by walking the spans backwards.  For each span
n, for each mode m, a segment (n,m) is created representing an optimal
split for the string from span n to the end, starting with mode m.

The segment (n,m) is created thusly.  For each mode mm in which span
n+1 is encodable, a segment (n,m,mm) linking to (n+1,mm) is created.
If m=mm, the segments are merged.  The encoded length is calculated,
and the total encoded length of the next segment is added to it.  Of
these segments, the one with the smallest total encoded length is
chosen as (n,m).  Merged segments win ties.

When the beginning of the span slice is reached, a segment (0,m) with
the smallest total encoded length for any m describes an optimal split
for the whole string.
*/
type (
	// segment describes a segment encoded in a certain mode.
	segment struct {
		mode    coding.Mode // encoding mode
		segdata             // lengths and pointer to next
	}

	// segdata is the mutable portion of segment.
	segdata struct {
		next *segment // link to next segment in the chain
		len  uint32   // length of string in bytes
		rlen uint32   // length of string in Unicode code points
		bits uint32   // encoded size of all segments in the chain
	}

	// span describes a span of bytes encodable in the same modes.
	span struct {
		len  uint32     // length of string in bytes
		rlen uint32     // length of string in Unicode code points
		seg  [4]segment // segments
	}

	// splitter holds the spans of a string and the last split.
	splitter struct {
		s    string   // string
		sp   []span   // spans
		head *segment // optimal split
	}
)

// modeList maps mode bits to modes.
var modeList = [4]coding.Mode{
	coding.Numeric, coding.Alphanumeric, coding.Byte, coding.Kanji,
}

// newSplitter classifies text and returns a splitter for it.
func newSplitter(text string, opts Options) (*splitter, error) {
	mask := byte(numMode | alphaMode | byteMode | kanjiMode)
	if !opts.Kanji {
		mask &^= kanjiMode
	}
	if opts.NoByte {
		mask &^= byteMode
	}
	hier := byte(numMode | alphaMode | byteMode)

	// Scan the string, detect valid encoding modes for each character
	var (
		n, sz  int
		m      byte
		modes  = make([]byte, len(text))
		common = hier
	)
	for i := 0; i < len(text); i += sz {
		old := m
		m, sz = classify(text[i:], mask&kanjiMode != 0)
		if m &= mask; m == 0 {
			r, _ := utf8.DecodeRuneInString(text[i:])
			return nil, &UnsupportedCharacterError{i, r}
		}
		modes[i] = m
		if m != old {
			n++
			common &= m
		}
	}
	// If there are modes common for all spans, mask modes within
	// the hierarchy above the lowest common mode.  E.g., byte mode
	// is never useful for an alphanumeric string.
	mask &^= (common ^ -common) & hier

	// Populate spans
	sp := make([]span, n)
	old, n, start := byte(0), 0, uint32(0)
	for i, v := range modes {
		if v == 0 {
			continue
		} else if v &= mask; v == 0 {
			panic("qr: internal error")
		} else if v != old {
			if i != 0 {
				sp[n].len = uint32(i) - start
				n++
			}
			old = v
			start = uint32(i)
			seg := &sp[n].seg
			for j := range seg {
				if v == 0 {
					seg[j].mode = -1
					break
				}
				bit := v & -v
				v &^= bit
				seg[j].mode = modeList[(bit>>1-bit>>3)&3]
			}
		}
		sp[n].rlen++
	}
	sp[n].len = uint32(len(modes)) - start
	sp = sp[:n+1]
	return &splitter{s: text, sp: sp}, nil
}

const inf = 0x8000 << 4 // excessive encoded length (max is 8*2956)

func (d *segdata) setBits(mode coding.Mode, class int) {
	d.bits = uint32(min(mode.Length(int(d.len), int(d.rlen), class), inf))
	if d.next != nil {
		d.bits += d.next.bits
	}
}

// add adds v to the split before p, returning a pointer to the
// segment with the smallest encoded length.
func (v *span) add(p *span, class int) *segment {
	best := &v.seg[0]
	for j := range v.seg {
		seg := &v.seg[j]
		if seg.mode < 0 {
			break
		}
		seg.bits = inf
		// p.seg is an array, not a slice, so range works when p is nil
		for k := range p.seg {
			if k != 0 && p.seg[k].mode < 0 {
				break
			}
			c := segdata{len: v.len, rlen: v.rlen}
			var add uint32
			if p != nil {
				c.next = &p.seg[k]
				if seg.mode == c.next.mode {
					c.len += c.next.len
					c.rlen += c.next.rlen
					c.next = c.next.next
					add-- // prefer merged on a tie
				}
			}
			c.setBits(seg.mode, class)
			if c.bits+add < seg.bits {
				seg.segdata = c
			}
			if p == nil {
				break
			}
		}
		if seg.bits < best.bits {
			best = seg
		}
	}
	return best
}

// split calculates an optimal split for the size class and returns
// its encoded length.
func (s *splitter) split(class int) int {
	// process spans in reverse order
	var head *segment
	var next *span
	for i := len(s.sp) - 1; i >= 0; i-- {
		head = s.sp[i].add(next, class)
		next = &s.sp[i]
	}
	s.head = head
	return int(head.bits)
}

// segments returns the last split.
func (s *splitter) segments() []coding.Segment {
	var a []coding.Segment
	for seg, s := s.head, s.s; seg != nil; seg = seg.next {
		a = append(a, coding.Segment{
			Text: s[:seg.len],
			Mode: seg.mode,
		})
		s = s[seg.len:]
	}
	return a
}

// chartbl bits: HK000kban
//
//	H  0x80  high byte
//	K  0x40  first byte of Kanji (maybe)       check kanji
//	k  0x08  kanji mode                        unset
//	b  0x04  byte mode (always set)
//	a  0x02  alphanumeric mode
//	n  0x01  numeric mode
//
// chartbl is used by classify to determine in which modes the
// character is encodable.
//
// The K bit enables Kanji validation.  It is set on 15 bytes that may
// begin a UTF-8 character encodable in Kanji mode.
const (
	numMode   = 1 << iota // numeric
	alphaMode             // alphanumeric
	byteMode              // byte          chartbl: always set
	kanjiMode             // kanji         chartbl: unset
	_                     //
	_                     //
	kanjiBit              //               chartbl: maybe Kanji
	highBit               //               chartbl: high byte

	by = byteMode       // ASCII byte
	al = by | alphaMode // alphanumeric
	nu = al | numMode   // numeric
	hi = by | highBit   // high
	ka = hi | kanjiBit  // kanji
)

var chartbl = [256]byte{
	by, by, by, by, by, by, by, by, by, by, by, by, by, by, by, by, // 0x00
	by, by, by, by, by, by, by, by, by, by, by, by, by, by, by, by, // 0x10
	al, by, by, by, al, al, by, by, by, by, al, al, by, al, al, al, // 0x20
	nu, nu, nu, nu, nu, nu, nu, nu, nu, nu, al, by, by, by, by, by, // 0x30
	by, al, al, al, al, al, al, al, al, al, al, al, al, al, al, al, // 0x40
	al, al, al, al, al, al, al, al, al, al, al, by, by, by, by, by, // 0x50
	by, by, by, by, by, by, by, by, by, by, by, by, by, by, by, by, // 0x60
	by, by, by, by, by, by, by, by, by, by, by, by, by, by, by, by, // 0x70
	hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, // 0x80
	hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, // 0x90
	hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, // 0xa0
	hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, // 0xb0
	hi, hi, ka, ka, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, ka, ka, // 0xc0
	ka, ka, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, // 0xd0
	hi, hi, ka, ka, ka, ka, ka, ka, ka, ka, hi, hi, hi, hi, hi, ka, // 0xe0
	hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, hi, // 0xf0
}

// classify returns a bit field of modes in which the first rune in s
// is encodable, and its length in bytes.  Invalid UTF-8 is classified
// one byte at a time as byte mode.
func classify(s string, kanji bool) (byte, int) {
	m := chartbl[s[0]]
	if m&highBit == 0 {
		return m, 1
	}
	r, sz := utf8.DecodeRuneInString(s)
	if kanji && m&kanjiBit != 0 && coding.IsKanji(r) {
		m |= kanjiMode
	}
	return m, sz
}
