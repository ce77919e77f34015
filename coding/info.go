// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coding

import "math/bits"

const (
	formatPoly  = 0x537  // x^10+x^8+x^5+x^4+x^2+x+1
	formatMask  = 0x5412 // 101010000010010
	versionPoly = 0x1f25 // x^12+x^11+x^10+x^9+x^8+x^5+x^2+1
)

// bch returns v with the remainder of dividing v<<n by the
// generator polynomial poly of degree n appended as n low bits.
func bch(v, poly uint32, n int) uint32 {
	v <<= n
	rem := v
	for i := 31; i >= n; i-- {
		if rem&(1<<i) != 0 {
			rem ^= poly << (i - n)
		}
	}
	return v | rem
}

// FormatBits returns the 15 bit format information for level l and
// mask pattern mask: 2 level bits and 3 mask bits protected by a
// BCH(15,5) code and masked with 101010000010010.
func FormatBits(l Level, mask int) uint16 {
	fb := uint32(l^1)<<3 | uint32(mask&7) // L=01, M=00, Q=11, H=10
	return uint16(bch(fb, formatPoly, 10) ^ formatMask)
}

// VersionBits returns the 18 bit version information for version v,
// or 0 for versions below 7, which carry none.
func VersionBits(v Version) uint32 {
	if v < 7 || v > MaxVersion {
		return 0
	}
	return bch(uint32(v), versionPoly, 12)
}

// DecodeFormat returns the level and mask whose format information
// is closest to bits.  It reports false if more than 3 bits differ.
func DecodeFormat(fb uint16) (l Level, mask int, ok bool) {
	best := 4
	for ll := L; ll <= H; ll++ {
		for m, v := range ftab[ll] {
			if d := bits.OnesCount16(v ^ fb); d < best {
				best, l, mask = d, ll, m
			}
		}
	}
	return l, mask, best <= 3
}

// DecodeVersion returns the version whose version information is
// closest to vb.  It reports false if more than 3 bits differ.
func DecodeVersion(vb uint32) (Version, bool) {
	best, ver := 4, Version(0)
	for v := Version(7); v <= MaxVersion; v++ {
		if d := bits.OnesCount32(uint32(vtab[v].pattern) ^ vb); d < best {
			best, ver = d, v
		}
	}
	return ver, best <= 3
}

// BestMask returns the index of the lowest penalty, the first one on
// a tie.
func BestMask(penalty []int) int {
	best := 0
	for i, p := range penalty {
		if p < penalty[best] {
			best = i
		}
	}
	return best
}
