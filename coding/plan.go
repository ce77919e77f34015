// Copyright 2011 The Go Authors.  All rights reserved.
// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coding

import (
	"fmt"
	"math/bits"
	"sync"
)

// A Plan describes how to construct a QR code
// with a specific version and level.
type Plan struct {
	Version Version // QR code version
	Level   Level   // QR error correction Level

	DataBits int // number of data bits
	Size     int // number of pixels on a side

	Map     []byte    // pixel map: 0 is data or checksum, 1 is other
	Pattern [8][]byte // position and alignment boxes, timing, format, mask
}

// NewPlan returns a Plan for a QR code with the given version and level.
// The returned Plan is a copy and may be modified.
func NewPlan(version Version, level Level) (*Plan, error) {
	pp, err := makePlan(version, level)
	if err != nil {
		return nil, err
	}
	p := *pp
	siz := len(pp.Map)
	bitmap := make([]byte, siz*(1+len(pp.Pattern)))
	p.Map, bitmap = bitmap[:siz:siz], bitmap[siz:]
	copy(p.Map, pp.Map)
	for i := range p.Pattern {
		p.Pattern[i], bitmap = bitmap[:siz:siz], bitmap[siz:]
		copy(p.Pattern[i], pp.Pattern[i])
	}
	return &p, nil
}

// Pre-allocated Plans.  A Plan is created the first time a
// combination of version and level is used.  Each plan is 13 words
// plus a bitmap the size of 9 Code bitmaps, from 567 bytes for
// version 1 to 36 KB for version 40.
var plans [MaxVersion + 1][H + 1]struct {
	once sync.Once
	p    *Plan
}

// makePlan returns plans[version][level].
// If it doesn't exist, it is created.
func makePlan(version Version, level Level) (*Plan, error) {
	if version < MinVersion || version > MaxVersion {
		return nil, ErrVersion
	}
	if level < L || level > H {
		return nil, ErrLevel
	}
	p := &plans[version][level]
	p.once.Do(func() {
		pp := vplan(version, level)
		for mask, v := range ftab[level] {
			fplan(v, mask, pp)
			mplan(mask, pp)
		}
		p.p = pp
	})
	return p.p, nil
}

// Serialise writes bits from s to the bitmap in zigzag scan order.
func (p *Plan) Serialise(s BitStream, bitmap []byte) {
	siz := p.Size
	stride := (siz + 7) >> 3
	pmap := p.Map
	for x := siz - 2; x >= 0; {
		lx, lb := x>>3, byte(0x80)>>(x&7)
		rxOff, rb := int(lb&1), byte(0x80)>>((x+1)&7)
		for off := (siz-1)*stride + lx; off >= 0; off -= stride {
			if pmap[off+rxOff]&rb == 0 && s.Next() != 0 {
				bitmap[off+rxOff] ^= rb
			}
			if pmap[off]&lb == 0 && s.Next() != 0 {
				bitmap[off] ^= lb
			}
		}
		x -= 2
		if x < 0 {
			return
		} else if x == 5 { // vertical timing strip
			x--
		}
		lx, lb = x>>3, byte(0x80)>>(x&7)
		rxOff, rb = int(lb&1), byte(0x80)>>((x+1)&7)
		for off := lx; off < len(pmap); off += stride {
			if pmap[off+rxOff]&rb == 0 && s.Next() != 0 {
				bitmap[off+rxOff] ^= rb
			}
			if pmap[off]&lb == 0 && s.Next() != 0 {
				bitmap[off] ^= lb
			}
		}
		x -= 2
	}
}

func set16(b []byte, bits uint16) {
	_ = b[1]
	b[0] |= byte(bits >> 8)
	b[1] |= byte(bits)
}

// countFree returns the number of data pixels in a plan's Map.
func countFree(m []byte) int {
	n := len(m) * 8
	for _, v := range m {
		n -= bits.OnesCount8(v)
	}
	return n
}

// vplan creates a Plan for the given version.
func vplan(v Version, l Level) *Plan {
	info := &vtab[v]
	p := &Plan{
		Version:  v,
		Level:    l,
		DataBits: v.DataBits(l),
	}
	siz := v.Size()
	stride := (siz + 7) >> 3
	p.Size = siz
	bitmap := make([]byte, stride*siz*(len(p.Pattern)+1))
	p.Map, bitmap = bitmap[:stride*siz:stride*siz], bitmap[stride*siz:]

	// Timing markers (overwritten by boxes).
	// Vertical.  Mask ends of rows.
	const tdot = 0x02
	mpat := uint16(0xffff) >> (p.Size & 7) & (0xff00 | tdot)
	for n := stride - 1; n+1 < len(p.Map); n += stride {
		set16(p.Map[n:], mpat)
		n += stride
		set16(p.Map[n:], mpat)
		bitmap[n+1] = tdot
	}
	p.Map[len(p.Map)-1] = byte(mpat >> 8)
	// Horizontal.
	for n := stride*6 + 1; n < stride*7-1; n++ {
		p.Map[n] = 0xff
		bitmap[n] = 0xaa
	}

	// Position boxes.
	// Mask 9x9 pixels on top left, 8x9 on top right, 9x8 on bottom left.
	off := stride - 2
	shift := 6 &^ siz
	lpat := uint64(0xfe82bababa82fe)
	mpat = 0x1fe << shift
	for i, s, e := 0, 0, len(p.Map)-stride; ; i++ {
		set16(p.Map[s:], 0xff80)   // top left
		set16(p.Map[s+off:], mpat) // top right
		if i == 8 {
			break
		}
		set16(p.Map[e:], 0xff80) // bottom left
		bitmap[e] = byte(lpat)
		set16(bitmap[s+off:], uint16(lpat&0xff)<<shift)
		e -= stride
		bitmap[s] = byte(lpat)
		lpat >>= 8
		s += stride
	}

	// Alignment boxes.
	for x := info.apos; ; x += info.astride {
		for y := info.apos; y < siz; y += info.astride {
			alignBox(p.Map, bitmap, stride, x, y)
		}
		if x >= siz-12 {
			break
		}
		alignBox(p.Map, bitmap, stride, x, 4)
		alignBox(p.Map, bitmap, stride, 4, x)
	}

	// Version pattern.
	if v := info.pattern; v != 0 {
		// vpat: 3x6 pixels at (siz-11, 0)
		// hpat: 6x3 pixels at (0, siz-11)
		off := (siz - 11) / 8
		shift := (siz - 11) & 7
		mpat = 0xe000 >> shift
		var hpat uint32
		for x := 0; x < 6; x++ {
			vpat := uint32(v&7) * 0x421 & 0x1041
			hpat = hpat<<1 | vpat
			vpat = vpat * 0x8102 & 0xe000 >> shift
			v >>= 3
			set16(p.Map[off:], mpat)
			set16(bitmap[off:], uint16(vpat))
			off += stride
		}
		off = (siz - 11) * stride
		for i := 0; i < 3; i++ {
			p.Map[off] = 0xfe
			bitmap[off] |= byte(hpat << 2)
			hpat >>= 6
			off += stride
		}
	}

	// One lonely black pixel
	bitmap[(siz-8)*stride+1] = 0x80

	if n, want := countFree(p.Map), info.bytes*8+info.rem; n != want {
		panic(fmt.Sprintf("coding: internal error: version %d has %d data pixels, want %d",
			v, n, want))
	}

	sz := len(p.Map)
	for n := sz; n < len(bitmap); {
		n += copy(bitmap[n:], bitmap[:n])
	}
	for i := range p.Pattern {
		p.Pattern[i], bitmap = bitmap[:sz:sz], bitmap[sz:]
	}
	return p
}

// fplan sets the format bits
func fplan(fb uint16, mask int, p *Plan) {
	// Format pixels.
	b := p.Pattern[mask]
	siz := p.Size
	stride := (siz + 7) >> 3
	off := 1
	for i, v := 0, fb; i < 15; i++ {
		switch i {
		case 6:
			off = stride*7 + 1
		case 8:
			off = stride*(siz-7) + 1
		}
		b[off] |= byte(v << 7)
		v >>= 1
		off += stride
	}
	off = 8 * stride
	hi := byte(fb >> 8)
	b[off] |= hi<<1 | hi&0x01
	fb = fb & 0xff << (-siz & 7)
	set16(b[off+stride-2:], fb)
}

// alignBox draws an alignment (small) box at upper left x, y into the
// pixel map m and the pattern b.
func alignBox(m, b []byte, stride, x, y int) {
	mpat := uint32(0xf800) >> (x & 7)
	bpat := uint32(0xf8a8f800) >> (x & 7)
	for off := y*stride + x>>3; bpat > mpat; off += stride {
		set16(m[off:], uint16(mpat))
		set16(b[off:], uint16(bpat&mpat))
		bpat >>= 4
	}
}
