// Copyright 2011 The Go Authors.  All rights reserved.
// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coding

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
)

// Predefined encoding modes.
const (
	Numeric       Mode = iota // numeric mode, ASCII-compatible text
	Alphanumeric              // alphanumeric mode, ASCII-compatible text
	Byte                      // byte mode, any data
	Kanji                     // kanji mode, UTF-8 text
	ShiftJISKanji             // kanji mode, Shift JIS text
)

// A Mode is a QR segment encoder.
type Mode int8

// ModeEncoder implements a QR segment encoding.
//
// The segment is validated using CutRune and Accepts.  Kanji has a
// Transform function returning a ShiftJISKanji segment; the encoder
// calls it after validation and encodes the returned segment.
type ModeEncoder struct {
	Name      string // Name for error reporting
	Indicator byte   // 4 bit mode indicator

	// CountLength lists lengths of the character count field in the
	// three QR version size classes.
	CountLength [3]byte

	// EncodedLength returns the encoded data length in bits of a valid
	// string of the given length in bytes and runes.  If nil, each
	// byte is encoded as 8 bits.
	EncodedLength func(bytes, runes int) int

	// CutRune returns the first rune in the string and its width in
	// bytes.  If nil, utf8.DecodeRuneInString is used.
	CutRune func(string) (rune, int)

	// Accepts reports whether the encoding mode accepts the rune.
	// If nil, any rune is accepted.
	Accepts func(rune) bool

	// Transform returns a segment of another Mode with the string
	// transformed for encoding and a boolean indicating whether the
	// transform was successful.
	Transform func(string) (Segment, bool)

	// Count returns the character count of the transformed string.
	// If nil, the length of the string in bytes is used.
	Count func(string) int

	// Encode3, Encode2 and Encode1 return the encoding of the bytes
	// and its length in bits.  The encoder calls a non-nil Encode{N}
	// repeatedly as long as N source bytes are available, in
	// descending order of N.  If all are nil, each byte is encoded as
	// 8 bits.
	Encode3 func([3]byte) (uint32, int)
	Encode2 func([2]byte) (uint32, int)
	Encode1 func(byte) (uint32, int)
}

const alphamask uint64 = 0x07fffffe_07ffec31 // SPACE $% *+ -./ [0-9] : [A-Z]

// Alphanumeric encoding table.  Used after validation.
// "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"
var alpha = [64]byte{
	00, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, // 0x40
	25, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 00, 00, 00, 00, 00, // 0x50
	36, 00, 00, 00, 37, 38, 00, 00, 00, 00, 39, 40, 00, 41, 42, 43, // 0x20
	00, 01, 02, 03, 04, 05, 06, 07, 010, 9, 44, 00, 00, 00, 00, 00, // 0x30
}

// IsNumeric reports whether c is encodable in numeric mode.
func IsNumeric(c rune) bool { return uint32(c-'0') < 10 }

// IsAlphanumeric reports whether c is encodable in alphanumeric mode.
func IsAlphanumeric(c rune) bool {
	return uint32(c)-' ' < 64 && alphamask>>(uint32(c)-' ')&1 != 0
}

// sjisKanji converts a two byte Shift JIS character to its 13 bit
// kanji mode value.  It reports false for characters outside the two
// kanji mode ranges 0x8140-0x9ffc and 0xe040-0xebbf.
func sjisKanji(c uint32) (uint32, bool) {
	switch {
	case 0x8140 <= c && c <= 0x9ffc:
		c -= 0x8140
	case 0xe040 <= c && c <= 0xebbf:
		c -= 0xc140
	default:
		return 0, false
	}
	return c>>8*0xc0 + c&0xff, true
}

// IsKanji reports whether the Unicode rune r is encodable in kanji
// mode, that is, whether its Shift JIS encoding is a double byte
// character in the QR kanji ranges.
func IsKanji(r rune) bool {
	if r < 0x80 || !utf8.ValidRune(r) {
		return false
	}
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	t, err := japanese.ShiftJIS.NewEncoder().Bytes(buf[:n])
	if err != nil || len(t) != 2 {
		return false
	}
	_, ok := sjisKanji(uint32(t[0])<<8 | uint32(t[1]))
	return ok
}

var modes = [...]ModeEncoder{
	Numeric: {
		Name:          "numeric",
		Indicator:     1,
		CountLength:   [3]byte{10, 12, 14},
		EncodedLength: func(b, r int) int { return (10*b + 2) / 3 },
		Accepts:       IsNumeric,
		Encode1: func(b byte) (uint32, int) {
			return uint32(b - '0'), 4
		},
		Encode2: func(b [2]byte) (uint32, int) {
			return uint32(b[0]-'0')*10 + uint32(b[1]-'0'), 7
		},
		Encode3: func(b [3]byte) (uint32, int) {
			return uint32(b[0]-'0')*100 + uint32(b[1]-'0')*10 +
				uint32(b[2]-'0'), 10
		},
	},
	Alphanumeric: {
		Name:          "alphanumeric",
		Indicator:     2,
		CountLength:   [3]byte{9, 11, 13},
		EncodedLength: func(b, r int) int { return (11*b + 1) / 2 },
		Accepts:       IsAlphanumeric,
		Encode1: func(b byte) (uint32, int) {
			return uint32(alpha[b&0x3f]), 6
		},
		Encode2: func(b [2]byte) (uint32, int) {
			return uint32(alpha[b[0]&0x3f])*45 +
				uint32(alpha[b[1]&0x3f]), 11
		},
	},
	Byte: {
		Name:        "byte",
		Indicator:   4,
		CountLength: [3]byte{8, 16, 16},
	},
	Kanji: {
		Name:          "kanji",
		Indicator:     8,
		CountLength:   [3]byte{8, 10, 12},
		EncodedLength: func(b, r int) int { return r * 13 },
		Accepts:       IsKanji,
		Transform: func(s string) (Segment, bool) {
			t, err := japanese.ShiftJIS.NewEncoder().String(s)
			return Segment{t, ShiftJISKanji}, err == nil
		},
	},
	ShiftJISKanji: {
		Name:          "shift-jis-kanji",
		Indicator:     8,
		CountLength:   [3]byte{8, 10, 12},
		EncodedLength: func(b, r int) int { return b >> 1 * 13 },
		Count:         func(s string) int { return len(s) >> 1 },
		CutRune: func(s string) (rune, int) {
			if len(s) > 1 {
				return rune(s[0])<<8 | rune(s[1]), 2
			}
			return rune(s[0]), 1
		},
		Accepts: func(r rune) bool {
			_, ok := sjisKanji(uint32(r))
			return ok
		},
		Encode2: func(b [2]byte) (uint32, int) {
			v, _ := sjisKanji(uint32(b[0])<<8 | uint32(b[1]))
			return v, 13
		},
	},
}

func getMode(mode Mode) *ModeEncoder {
	if mode >= 0 && int(mode) < len(modes) {
		return &modes[mode]
	}
	return nil
}

func (mode Mode) String() string {
	if m := getMode(mode); m != nil {
		return m.Name
	}
	return strconv.Itoa(int(mode))
}

// length returns the length in bits of a valid string of the given
// length in bytes and runes encoded in mode at the given QR version
// size class, including the header.
func (m *ModeEncoder) length(bytes, runes, class int) int {
	n := 4 + int(m.CountLength[class])
	if f := m.EncodedLength; f != nil {
		n += f(bytes, runes)
	} else {
		n += bytes * 8
	}
	return n
}

// Length returns the length in bits of a valid string of the given
// length in bytes and runes encoded in mode at the given QR version
// size class, including the header.  Length returns 0 if and only if
// mode is invalid.
func (mode Mode) Length(bytes, runes int, class int) int {
	n := 0
	if m := getMode(mode); m != nil {
		n = m.length(bytes, runes, class)
	}
	return n
}

// Is reports whether r is encodable in mode.
func Is(r rune, mode Mode) bool {
	m := getMode(mode)
	return m != nil && (m.Accepts == nil || m.Accepts(r))
}

// A Segment describes a QR code segment.
type Segment struct {
	Text string // data to encode
	Mode Mode   // encoding mode
}

// SegmentError represents an invalid Segment.
type SegmentError Segment

func (e SegmentError) Error() string {
	if m := getMode(e.Mode); m != nil {
		return fmt.Sprintf("qr: non-%s string %#q", m.Name, e.Text)
	}
	return fmt.Sprintf("qr: invalid mode %d", e.Mode)
}

// ModeError represents an invalid Mode number.
type ModeError Mode

func (e ModeError) Error() string {
	return fmt.Sprintf("qr: invalid mode %s", Mode(e))
}

// isValid reports whether seg is encodable.
func (m *ModeEncoder) isValid(seg Segment) bool {
	is := m.Accepts
	if is == nil {
		return true
	}
	if seg.Mode < Byte {
		for i := 0; i < len(seg.Text); i++ {
			if !is(rune(seg.Text[i])) {
				return false
			}
		}
	} else if cut := m.CutRune; cut != nil {
		for s := seg.Text; s != ""; {
			r, sz := cut(s)
			s = s[sz:]
			if !is(r) {
				return false
			}
		}
	} else {
		for _, r := range seg.Text {
			if !is(r) {
				return false
			}
		}
	}
	return true
}

// IsValid reports whether seg is encodable.
func (seg Segment) IsValid() bool {
	if m := getMode(seg.Mode); m != nil {
		return m.isValid(seg)
	}
	return false
}

// EncodedLength returns the encoded length in bits of seg in the
// given QR version size class.  EncodedLength returns 0 if and only
// if mode is invalid.  The segment is not validated.
func (seg Segment) EncodedLength(class int) int {
	m := getMode(seg.Mode)
	if m == nil {
		return 0
	}
	var rlen int
	if seg.Mode == Kanji {
		rlen = utf8.RuneCountInString(seg.Text)
	}
	return m.length(len(seg.Text), rlen, class)
}

// transform transforms seg for encoding and validates the result.
func (seg Segment) transform() (Segment, *ModeEncoder, error) {
	m := getMode(seg.Mode)
	if m == nil {
		return Segment{}, nil, ModeError(seg.Mode)
	}
	if !m.isValid(seg) {
		return Segment{}, nil, SegmentError(seg)
	}
	if m.Transform == nil {
		return seg, m, nil
	}
	ts, ok := m.Transform(seg.Text)
	if !ok {
		return Segment{}, nil, SegmentError(seg)
	}
	if m = getMode(ts.Mode); m == nil || m.Transform != nil {
		return Segment{}, nil, ModeError(seg.Mode)
	}
	return ts, m, nil
}

// Transform returns seg converted for encoding, turning Kanji
// segments into ShiftJISKanji ones.
func (seg Segment) Transform() (Segment, error) {
	seg, _, err := seg.transform()
	return seg, err
}

// Encode writes seg encoded for the given QR version size class to b.
func (seg Segment) Encode(b *Bits, class int) error {
	ts, m, err := seg.transform()
	if err != nil {
		return err
	} else if !m.isValid(ts) {
		return SegmentError(seg)
	}
	// write header
	s := ts.Text
	w := len(s)
	if m.Count != nil {
		w = m.Count(s)
	}
	if w >= 1<<m.CountLength[class] {
		return SegmentError(seg)
	}
	b.Write(uint32(m.Indicator), 4)
	b.Write(uint32(w), int(m.CountLength[class]))
	// encode the string
	enc3, enc2, enc1 := m.Encode3, m.Encode2, m.Encode1
	if enc3 != nil || enc2 != nil || enc1 != nil {
		if enc3 != nil {
			for len(s) >= 3 {
				b.Write(enc3([3]byte{s[0], s[1], s[2]}))
				s = s[3:]
			}
		}
		if enc2 != nil {
			for len(s) >= 2 {
				b.Write(enc2([2]byte{s[0], s[1]}))
				s = s[2:]
			}
		}
		if enc1 != nil {
			for len(s) >= 1 {
				b.Write(enc1(s[0]))
				s = s[1:]
			}
		} else if s != "" {
			panic("qr: " + m.Name + " mode internal error")
		}
	} else if b.nbit&7 != 0 {
		for ; len(s) >= 3; s = s[3:] {
			v := uint32(s[0])<<16 | uint32(s[1])<<8 | uint32(s[2])
			b.Write(v, 24)
		}
		for ; s != ""; s = s[1:] {
			b.Write(uint32(s[0]), 8)
		}
	} else {
		b.b = append(b.b, s...)
		b.nbit += len(s) * 8
	}
	return nil
}
