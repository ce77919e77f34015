// Copyright 2011 The Go Authors.  All rights reserved.
// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qr

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"
)

// EncodePBM writes a Portable Bit Map image displaying the code to w,
// for use with netpbm.  PBM has no colours, so c.Dark and c.Light are
// disregarded.
func (c *Code) EncodePBM(w io.Writer) error {
	if !c.isValid() {
		return ErrArgs
	}
	pix := c.ImageSize()
	if pix > MaxImageSize {
		return ErrLargeImage
	}
	b := bufio.NewWriter(w)
	ps := strconv.Itoa(pix)
	b.WriteString("P4\n" + ps + " " + ps + "\n")

	scale := c.Scale
	quiet := scale * c.Border
	row := make([]byte, (pix+7)/8)
	for i := 0; i < quiet; i++ {
		b.Write(row)
	}
	data := row[quiet/8 : (quiet+scale*c.Size+7)/8]
	off := quiet & 7
	for y := 0; y < c.Size; y++ {
		src := c.Bitmap[y*c.Stride : (y+1)*c.Stride]
		// Bespoke fast encoders for common cases.
		switch {
		case scale == 8:
			pbmRow8(data, src)
		case scale == 4:
			pbmRow4(data, src, off)
		case scale == 1 && off == 0:
			copy(data, src)
		default:
			clear(data)
			pbmRow(data, src, c.Size, scale, off)
		}
		for i := 0; i < scale; i++ {
			b.Write(row)
		}
	}
	clear(data)
	for i := 0; i < quiet; i++ {
		b.Write(row)
	}
	// bufio.Writer keeps the first error.
	return b.Flush()
}

// pbmRow8 encodes a row of QR data pixels in PBM format at scale 8.
func pbmRow8(row, src []byte) {
	var b uint64
	for _, v := range src {
		for i := 0; i < 8; i++ {
			b = b<<8 | uint64(-(v & 1))
			v >>= 1
		}
		if len(row) < 8 {
			break
		}
		binary.LittleEndian.PutUint64(row, b)
		row = row[8:]
	}
	if len(row) > 4 {
		binary.LittleEndian.PutUint32(row, uint32(b))
		b >>= 32
		row = row[4:]
	}
	for i := range row {
		row[i] = byte(b)
		b >>= 8
	}
}

// pbmRow4 encodes a row of QR data pixels in PBM format at scale 4.
// off is 0 or 4, the number of quiet zone bits in the first byte.
func pbmRow4(row, src []byte, off int) {
	var b uint32
	var last uint16
	off >>= 2
	for _, v := range src {
		last |= uint16(v)
		// spread 8 bits into nibbles
		b = uint32(byte(last>>off)) * 01001001 & 0300070007 *
			0111 & 0x11111111 * 0xf
		last <<= 8
		if len(row) < 4 {
			break
		}
		binary.BigEndian.PutUint32(row, b)
		row = row[4:]
	}
	for i := range row {
		row[i] = byte(b >> 24)
		b <<= 8
	}
}

// pbmRow sets the bits of the black pixels among the first siz in src,
// each repeated scale times, in row starting at bit off.
func pbmRow(row, src []byte, siz, scale, off int) {
	for x := 0; x < siz; x++ {
		if src[x>>3]&(0x80>>(x&7)) == 0 {
			continue
		}
		for i := off + x*scale; i < off+(x+1)*scale; i++ {
			row[i>>3] |= 0x80 >> (i & 7)
		}
	}
}
