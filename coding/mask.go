// Copyright 2011 The Go Authors.  All rights reserved.
// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coding

// Mask penalty rules.  The total penalty of a code is the sum of:
//
//   - N1: n-2 for every non-overlapping run of n >= 5 pixels of the
//     same colour in a row or column
//   - N2: 3 for every, possibly overlapping, 2x2 box of one colour
//   - N3: 40 for every finder-like pattern 1011101 in a row or column
//     with 0000 on either side, or its inverse; the light side may
//     extend into the quiet zone
//   - N4: 10 for every full 5% by which the share of black pixels
//     deviates from 50%
//
// https://www.nayuki.io/page/creating-a-qr-code-step-by-step
const (
	n1Min    = 5  // shortest penalised run
	n1Delta  = -2 // added to run length
	n2Points = 3
	n3Points = 40
	n4Points = 10
	n4Steps  = 20            // 5% steps
	n4Max    = n4Steps/2 - 1 // at most 9 steps

	// The last pixels of a line are kept in a uint16 and matched
	// against 12 bit patterns shifted left 4 bits.
	pShift = 16 - 12

	n3Before    = uint16(0b0000_1011101_0 << pShift) // light before
	n3After     = uint16(0b0_1011101_0000 << pShift) // light after
	n3InvBefore = ^n3Before &^ (1<<pShift - 1)
	n3InvAfter  = ^n3After &^ (1<<pShift - 1)
)

// lineEnd returns the N1 penalty for the final run of r pixels of a
// row or column and the N3 penalty for patterns reaching into the
// quiet zone, pat holding the last pixels.
func lineEnd(r int, pat uint16) int {
	p := 0
	if r >= n1Min {
		p += r + n1Delta
	}
	// n3Before with 1 pixel in the quiet zone, which also covers
	// n3After with 4
	if pat <<= 1; pat == n3Before {
		return p + 2*n3Points
	}
	switch n3After {
	case pat, pat << 1, pat << 2, pat << 3:
		p += n3Points
	}
	return p
}

// Penalty returns the mask penalty of c under the N1 to N4 rules.
// The mask giving the lowest penalty is chosen.
func (c *Code) Penalty() int {
	siz, stride := c.Size, c.Stride
	bm := c.Bitmap
	p := 0   // total penalty
	bal := 0 // black pixels, shifted left by pShift

	// Rows: N1, N2, N3, and the N4 count.
	var line, prev []byte
	for len(bm) >= stride {
		prev, line, bm = line, bm[:stride], bm[stride:]
		r := 1                      // current run
		pat := uint16(line[0] >> 3) // last 12 pixels
		var pp uint16               // same pixels of the previous row
		if len(prev) != 0 {
			pp = uint16(prev[0] >> 3)
		}
		bal += int(pat) & (1 << pShift)
		// N2 is detected at the bottom right pixel of the box, so
		// scanning starts at x=1.
		for x := 1; x < siz; x++ {
			pat = pat<<1 | uint16(line[x>>3])>>(7&^x)<<pShift
			if xx := x >> 3; xx < len(prev) {
				pp = pp<<1 | uint16(prev[xx])>>(7&^x)<<pShift
			}
			bal += int(pat) & (1 << pShift)
			switch pat {
			case n3Before, n3After, n3InvBefore, n3InvAfter:
				p += n3Points
			}
			if (pat-1<<pShift)&(2<<pShift) == 0 { // colour change
				if r >= n1Min {
					p += r + n1Delta
				}
				r = 0
			} else if len(prev) != 0 && (pat^pp)&(3<<pShift) == 0 {
				p += n2Points
			}
			r++
		}
		p += lineEnd(r, pat)
	}

	// N4.  Exact multiples of 5% get the lower penalty: 40% scores
	// 10 like 41%, not 20 like 39%.  Folding bal below half the
	// pixels and dividing rounding down does that; exactly 50% can't
	// happen with an odd size.
	bal >>= pShift
	sq := siz * siz
	if bal > sq/2 {
		bal = sq - bal
	}
	p += (n4Max - bal*n4Steps/sq) * n4Points

	// Columns: N1, N3.
	bm = c.Bitmap
	for x := 0; x < siz; x++ {
		r := 1
		off, shift := x>>3, 7&^x
		pat := uint16(bm[off]) >> shift & 1 << pShift
		for off += stride; off < len(bm); off += stride {
			pat = pat<<1 | uint16(bm[off])>>shift&1<<pShift
			switch pat {
			case n3Before, n3After, n3InvBefore, n3InvAfter:
				p += n3Points
			}
			if (pat-1<<pShift)&(2<<pShift) == 0 {
				if r >= n1Min {
					p += r + n1Delta
				}
				r = 0
			}
			r++
		}
		p += lineEnd(r, pat)
	}
	return p
}

// Mask patterns:
//
//	0: ▄▀▄▀▄▀▄▀▄▀▄▀  1: ▄▄▄▄▄▄▄▄▄▄▄▄  2:  ██ ██ ██ ██  3: ▄█▀▄█▀▄█▀▄█▀
//	   ▄▀▄▀▄▀▄▀▄▀▄▀     ▄▄▄▄▄▄▄▄▄▄▄▄      ██ ██ ██ ██     ▀▄█▀▄█▀▄█▀▄█
//	   ▄▀▄▀▄▀▄▀▄▀▄▀     ▄▄▄▄▄▄▄▄▄▄▄▄      ██ ██ ██ ██     █▀▄█▀▄█▀▄█▀▄
//	   ▄▀▄▀▄▀▄▀▄▀▄▀     ▄▄▄▄▄▄▄▄▄▄▄▄      ██ ██ ██ ██     ▄█▀▄█▀▄█▀▄█▀
//	   ▄▀▄▀▄▀▄▀▄▀▄▀     ▄▄▄▄▄▄▄▄▄▄▄▄      ██ ██ ██ ██     ▀▄█▀▄█▀▄█▀▄█
//	   ▄▀▄▀▄▀▄▀▄▀▄▀     ▄▄▄▄▄▄▄▄▄▄▄▄      ██ ██ ██ ██     █▀▄█▀▄█▀▄█▀▄
//
//	4:    ███   ███  5:  ▄▄▄▄▄ ▄▄▄▄▄  6:    ▄▄▄   ▄▄▄  7: ▄█▄▀ ▀▄█▄▀ ▀
//	   ███   ███         █▀▄▀█ █▀▄▀█      ▄▀▄ █ ▄▀▄ █     ▄▀█▀▄ ▄▀█▀▄
//	      ███   ███      ██▄██ ██▄██      █▄▄▀  █▄▄▀      ▄  ▀██▄  ▀██
//	   ███   ███         ▄▄▄▄▄ ▄▄▄▄▄        ▄▄▄   ▄▄▄     ▄█▄▀ ▀▄█▄▀ ▀
//	      ███   ███      █▀▄▀█ █▀▄▀█      ▄▀▄ █ ▄▀▄ █     ▄▀█▀▄ ▄▀█▀▄
//	   ███   ███         ██▄██ ██▄██      █▄▄▀  █▄▄▀      ▄  ▀██▄  ▀██
var maskPat = [8][]uint16{
	{05252, 02525},
	{07777, 00000},
	{04444},
	{04444, 01111, 02222},
	{07070, 07070, 00707, 00707},
	{07777, 04040, 04444, 05252, 04444, 04040},
	{07777, 07070, 06666, 05252, 05555, 04343},
	{05252, 00707, 04343, 02525, 07070, 03434},
}

// mplan edits a version+level-only Plan to add the mask.
func mplan(mask int, p *Plan) {
	stride := (p.Size + 7) >> 3
	var mpbuf [(MaxVersion*4 + 17 + 7) / 8 * 6]byte
	b := p.Pattern[mask]
	m := p.Map[:len(b)]
	mpx := maskPat[mask] // mask patterns
	// create a pattern of 1-6 rows of 3-23 bytes
	for i, v := range mpx {
		pr := mpbuf[i*stride:]
		_ = pr[2]
		pr[0], pr[1], pr[2] = byte(v>>4), byte(v>>2), byte(v)
		pr = pr[:stride]
		for n := 3; n < len(pr); n += copy(pr[n:], pr[:n]) {
		}
	}
	mp := mpbuf[:len(mpx)*stride] // mask pattern
	// apply mask pattern
	for len(b) != 0 {
		ml := min(len(b), len(mp))
		bb, mm := b[:ml], m[:ml]
		b, m = b[ml:], m[ml:]
		for i, v := range mp[:ml] {
			bb[i] |= v &^ mm[i]
		}
	}
}
