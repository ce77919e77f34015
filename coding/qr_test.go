// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coding

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func px(b []byte, stride, x, y int) bool {
	return b[y*stride+x>>3]&(0x80>>(x&7)) != 0
}

var levels = []Level{L, M, Q, H}

func TestBitsWrite(t *testing.T) {
	var b Bits
	b.Write(0b1, 1)
	b.Write(0b0110, 4)
	b.Write(0b101_0101_0101, 11)
	b.Write(0b11, 2)
	if b.Bits() != 18 {
		t.Fatalf("Bits() = %d, want 18", b.Bits())
	}
	want := []byte{0b1011_0101, 0b0101_0101, 0b1100_0000}
	if !bytes.Equal(b.b, want) {
		t.Errorf("have %08b\nwant %08b", b.b, want)
	}
}

func TestPadTo(t *testing.T) {
	for _, tt := range []struct {
		nbit, n int
		want  []byte
	}{
		{0, 32, []byte{0, 0xec, 0x11, 0xec}},
		{4, 32, []byte{0xf0, 0xec, 0x11, 0xec}},
		{6, 32, []byte{0xfc, 0, 0xec, 0x11}},
		{29, 32, []byte{0xff, 0xff, 0xff, 0xf8}},
		{32, 32, []byte{0xff, 0xff, 0xff, 0xff}},
	} {
		var b Bits
		for i := 0; i < tt.nbit; i++ {
			b.Write(1, 1)
		}
		b.PadTo(4, tt.n)
		if !bytes.Equal(b.Bytes(), tt.want) {
			t.Errorf("PadTo(4, %d) after %d bits:\nhave %#x\nwant %#x",
				tt.n, tt.nbit, b.Bytes(), tt.want)
		}
	}
}

func TestCheckBytes(t *testing.T) {
	for _, tt := range []struct {
		v     Version
		l     Level
		seg   Segment
		check []byte
	}{
		{1, Q, Segment{"HELLO WORLD", Alphanumeric}, []byte{
			32, 91, 11, 120, 209, 114, 220, 77, 67, 64, 236, 17, 236,
			168, 72, 22, 82, 217, 54, 156, 0, 46, 15, 180, 122, 16,
		}},
		{1, M, Segment{"01234567", Numeric}, []byte{
			16, 32, 12, 86, 97, 128, 236, 17, 236, 17, 236, 17, 236, 17, 236, 17,
			165, 36, 212, 193, 237, 54, 199, 135, 44, 85,
		}},
	} {
		b := NewBits(tt.v, tt.l)
		if err := tt.seg.Encode(b, tt.v.SizeClass()); err != nil {
			t.Fatal(err)
		}
		b.AddCheckBytes(tt.v, tt.l)
		if !bytes.Equal(b.Bytes(), tt.check) {
			t.Errorf("%v-%v %q:\nhave %d\nwant %d",
				tt.v, tt.l, tt.seg.Text, b.Bytes(), tt.check)
		}
	}
}

func TestInterleave(t *testing.T) {
	// two short blocks of 2 and two long blocks of 3
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	want := []byte{1, 3, 5, 8, 2, 4, 6, 9, 7, 10}
	dst := make([]byte, len(src))
	interleave(dst, src, 4)
	if !bytes.Equal(dst, want) {
		t.Errorf("have %d\nwant %d", dst, want)
	}
}

func TestVersionTable(t *testing.T) {
	for v := MinVersion; v <= MaxVersion; v++ {
		want := Class0
		if v >= 27 {
			want = Class2
		} else if v >= 10 {
			want = Class1
		}
		if c := v.SizeClass(); c != want {
			t.Errorf("%v: size class %d, want %d", v, c, want)
		}
		for _, l := range levels[1:] {
			if v.DataBytes(l) >= v.DataBytes(l-1) {
				t.Errorf("%v: %v holds %d bytes, %v %d", v,
					l, v.DataBytes(l), l-1, v.DataBytes(l-1))
			}
		}
	}
	for _, tt := range []struct {
		v     Version
		l     Level
		bytes int
	}{
		{1, L, 19}, {1, M, 16}, {1, Q, 13}, {1, H, 9},
		{5, Q, 62}, {10, M, 216}, {25, H, 538}, {40, L, 2956},
	} {
		if n := tt.v.DataBytes(tt.l); n != tt.bytes {
			t.Errorf("%v-%v: %d data bytes, want %d", tt.v, tt.l, n, tt.bytes)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for i, s := range []string{"L", "m", "Q", "h"} {
		if l, err := ParseLevel(s); err != nil || l != Level(i) {
			t.Errorf("ParseLevel(%q) = %v, %v", s, l, err)
		}
	}
	for _, s := range []string{"", "X", "LL", "1"} {
		if _, err := ParseLevel(s); !errors.Is(err, ErrLevel) {
			t.Errorf("ParseLevel(%q): err = %v", s, err)
		}
	}
}

func TestNewPlanErrors(t *testing.T) {
	if _, err := NewPlan(0, L); err != ErrVersion {
		t.Errorf("version 0: err = %v", err)
	}
	if _, err := NewPlan(41, L); err != ErrVersion {
		t.Errorf("version 41: err = %v", err)
	}
	if _, err := NewPlan(1, H+1); err != ErrLevel {
		t.Errorf("level 4: err = %v", err)
	}
}

// maskFunc[m](x, y) reports whether mask m flips the module at x, y.
var maskFunc = [8]func(x, y int) bool{
	func(x, y int) bool { return (x+y)%2 == 0 },
	func(x, y int) bool { return y%2 == 0 },
	func(x, y int) bool { return x%3 == 0 },
	func(x, y int) bool { return (x+y)%3 == 0 },
	func(x, y int) bool { return (y/2+x/3)%2 == 0 },
	func(x, y int) bool { return x*y%2+x*y%3 == 0 },
	func(x, y int) bool { return (x*y%2+x*y%3)%2 == 0 },
	func(x, y int) bool { return ((x+y)%2+x*y%3)%2 == 0 },
}

func TestPlan(t *testing.T) {
	for v := MinVersion; v <= MaxVersion; v++ {
		l := levels[int(v)%4]
		p, err := NewPlan(v, l)
		if err != nil {
			t.Fatal(err)
		}
		siz := v.Size()
		stride := (siz + 7) >> 3
		if p.Size != siz || len(p.Map) != siz*stride {
			t.Fatalf("%v: size %d, map %d", v, p.Size, len(p.Map))
		}
		if n, want := countFree(p.Map), v.Codewords()*8+v.RemainderBits(); n != want {
			t.Errorf("%v: %d data modules, want %d", v, n, want)
		}
		for m, pat := range p.Pattern {
			fb := FormatBits(l, m)
			for i := 0; i < 15; i++ {
				bit := fb>>i&1 != 0
				var x1, y1, x2, y2 int
				switch {
				case i < 6:
					x1, y1 = 8, i
				case i < 8:
					x1, y1 = 8, i+1
				case i == 8:
					x1, y1 = 7, 8
				default:
					x1, y1 = 14-i, 8
				}
				if i < 8 {
					x2, y2 = siz-1-i, 8
				} else {
					x2, y2 = 8, siz-15+i
				}
				if px(pat, stride, x1, y1) != bit || px(pat, stride, x2, y2) != bit {
					t.Fatalf("%v-%v mask %d: format bit %d wrong", v, l, m, i)
				}
			}
			for y := 0; y < siz; y++ {
				for x := 0; x < siz; x++ {
					if !px(p.Map, stride, x, y) &&
						px(pat, stride, x, y) != maskFunc[m](x, y) {
						t.Fatalf("%v mask %d: module %d,%d", v, m, x, y)
					}
				}
			}
		}
		pat := p.Pattern[0]
		for i := 8; i < siz-8; i++ {
			if !px(p.Map, stride, i, 6) || !px(p.Map, stride, 6, i) {
				t.Fatalf("%v: timing module %d not reserved", v, i)
			}
			if px(pat, stride, i, 6) != (i%2 == 0) ||
				px(pat, stride, 6, i) != (i%2 == 0) {
				t.Fatalf("%v: timing module %d", v, i)
			}
		}
		for y := 0; y < 9; y++ {
			for x := 0; x < 9; x++ {
				if !px(p.Map, stride, x, y) {
					t.Fatalf("%v: %d,%d not reserved", v, x, y)
				}
			}
		}
		if !px(pat, stride, 8, siz-8) {
			t.Errorf("%v: dark module missing", v)
		}
		if vb := VersionBits(v); vb != 0 {
			for i := 0; i < 18; i++ {
				a, b := siz-11+i%3, i/3
				bit := vb>>i&1 != 0
				if px(pat, stride, a, b) != bit || px(pat, stride, b, a) != bit {
					t.Fatalf("%v: version bit %d wrong", v, i)
				}
			}
		}
	}
}

func TestSerialise(t *testing.T) {
	for _, v := range []Version{1, 2, 7, 14, 21, 40} {
		p, err := NewPlan(v, M)
		if err != nil {
			t.Fatal(err)
		}
		stride := (p.Size + 7) >> 3
		data := bytes.Repeat([]byte{0xff}, v.Codewords())
		bitmap := make([]byte, len(p.Map))
		p.Serialise(NewBitStream(data), bitmap)
		set, free := 0, 0
		for y := 0; y < p.Size; y++ {
			for x := 0; x < p.Size; x++ {
				black := px(bitmap, stride, x, y)
				reserved := px(p.Map, stride, x, y)
				if black {
					set++
					if reserved {
						t.Fatalf("%v: data written to reserved %d,%d", v, x, y)
					}
				} else if !reserved {
					free++
				}
			}
		}
		if set != len(data)*8 || free != v.RemainderBits() {
			t.Errorf("%v: %d data modules, %d left, want %d, %d",
				v, set, free, len(data)*8, v.RemainderBits())
		}
	}
}

func TestSerialiseOrder(t *testing.T) {
	// The first codeword fills the two bottom right columns upwards.
	p, err := NewPlan(1, L)
	if err != nil {
		t.Fatal(err)
	}
	bitmap := make([]byte, len(p.Map))
	p.Serialise(NewBitStream([]byte{0b1010_0101}), bitmap)
	stride := (p.Size + 7) >> 3
	want := []bool{true, false, true, false, false, true, false, true}
	for i, w := range want {
		x, y := 20-i%2, 20-i/2
		if px(bitmap, stride, x, y) != w {
			t.Errorf("bit %d at %d,%d: have %v", i, x, y, !w)
		}
	}
}

func TestPenaltyBlank(t *testing.T) {
	// 21 rows and 21 columns of runs of 21: 2*21*19
	// 20*20 boxes: 1200
	// 0% black: 90
	c := &Code{Size: 21, Stride: 3, Bitmap: make([]byte, 21*3)}
	if p := c.Penalty(); p != 2*21*19+1200+90 {
		t.Errorf("Penalty() = %d, want %d", p, 2*21*19+1200+90)
	}
}

func TestEncodeMask(t *testing.T) {
	for _, tt := range []struct {
		v    Version
		l    Level
		text []Segment
	}{
		{1, M, []Segment{{"HELLO WORLD", Alphanumeric}}},
		{3, H, []Segment{{"0123456789", Numeric}, {"Ab", Byte}}},
		{7, L, []Segment{{strings.Repeat("https://example.com/", 6), Byte}}},
		{12, Q, []Segment{{"点茗", Kanji}, {"314159265358979", Numeric}}},
	} {
		c, err := Encode(tt.v, tt.l, tt.text...)
		if err != nil {
			t.Fatalf("%v-%v: %v", tt.v, tt.l, err)
		}
		if c.Version != tt.v || c.Level != tt.l || c.Size != tt.v.Size() {
			t.Errorf("code %v-%v size %d, want %v-%v", c.Version, c.Level,
				c.Size, tt.v, tt.l)
		}
		p, _ := NewPlan(tt.v, tt.l)
		data := make([]byte, len(c.Bitmap))
		xor(data, c.Bitmap, p.Pattern[c.Mask])
		var pen [8]int
		trial := &Code{Size: c.Size, Stride: c.Stride, Bitmap: make([]byte, len(data))}
		for m, pat := range p.Pattern {
			xor(trial.Bitmap, data, pat)
			pen[m] = trial.Penalty()
		}
		if best := BestMask(pen[:]); best != c.Mask {
			t.Errorf("%v-%v: mask %d, want %d, penalties %v",
				tt.v, tt.l, c.Mask, best, pen)
		}
		if !c.Black(8, c.Size-8) || c.Black(-1, 0) || c.Black(0, c.Size) {
			t.Errorf("%v-%v: Black", tt.v, tt.l)
		}
	}
}

func TestEncodeTooLong(t *testing.T) {
	_, err := Encode(1, H, Segment{strings.Repeat("9", 18), Numeric})
	if err == nil {
		t.Error("18 digits fit in 1-H")
	}
	if _, err := Encode(1, H, Segment{strings.Repeat("9", 17), Numeric}); err != nil {
		t.Errorf("17 digits in 1-H: %v", err)
	}
}

func TestEncoderReuse(t *testing.T) {
	e, err := NewEncoder(2, Q)
	if err != nil {
		t.Fatal(err)
	}
	a, err := e.Encode(Segment{"REUSE", Alphanumeric})
	if err != nil {
		t.Fatal(err)
	}
	e.Reset()
	b, err := e.Encode(Segment{"REUSE", Alphanumeric})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bitmap, b.Bitmap) || a.Mask != b.Mask {
		t.Error("Encoder after Reset produced a different code")
	}
}

func TestNewPlanCopy(t *testing.T) {
	for _, v := range []Version{1, 7, 40} {
		pp, err := makePlan(v, Q)
		if err != nil {
			t.Fatal(err)
		}
		p, err := NewPlan(v, Q)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(p.Map, pp.Map) {
			t.Errorf("%v: map differs", v)
		}
		for m := range p.Pattern {
			if !bytes.Equal(p.Pattern[m], pp.Pattern[m]) {
				t.Errorf("%v mask %d: pattern differs", v, m)
			}
			if countFree(p.Pattern[m]) == len(p.Pattern[m])*8 {
				t.Errorf("%v mask %d: pattern is blank", v, m)
			}
		}
		for i := range p.Map {
			p.Map[i] = 0
		}
		for m := range p.Pattern {
			for i := range p.Pattern[m] {
				p.Pattern[m][i] = 0xff
			}
		}
		if countFree(pp.Map) == len(pp.Map)*8 {
			t.Errorf("%v: clearing a copy cleared the shared map", v)
		}
		if countFree(pp.Pattern[0]) == 0 {
			t.Errorf("%v: filling a copy filled the shared pattern", v)
		}
	}
}

// TestEncodeMaskTie duplicates the winning pattern under another id,
// so that two masks have the same penalty.
func TestEncodeMaskTie(t *testing.T) {
	seg := Segment{"HELLO WORLD", Alphanumeric}
	ref, err := Encode(1, M, seg)
	if err != nil {
		t.Fatal(err)
	}
	best := ref.Mask
	for dup := 0; dup < 8; dup++ {
		p, err := NewPlan(1, M)
		if err != nil {
			t.Fatal(err)
		}
		copy(p.Pattern[dup], p.Pattern[best])
		c, err := p.Encode(seg)
		if err != nil {
			t.Fatal(err)
		}
		if want := min(dup, best); c.Mask != want {
			t.Errorf("mask %d duplicated as %d: chose %d, want %d",
				best, dup, c.Mask, want)
		}
		if !bytes.Equal(c.Bitmap, ref.Bitmap) {
			t.Errorf("mask %d duplicated as %d: bitmap differs", best, dup)
		}
	}

	// all masks alike
	p, err := NewPlan(1, M)
	if err != nil {
		t.Fatal(err)
	}
	for m := range p.Pattern {
		copy(p.Pattern[m], p.Pattern[7])
	}
	c, err := p.Encode(seg)
	if err != nil {
		t.Fatal(err)
	}
	if c.Mask != 0 {
		t.Errorf("identical masks: chose %d, want 0", c.Mask)
	}
}
