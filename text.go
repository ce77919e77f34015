// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qr

import (
	"io"
	"strings"
)

// halfBlocks is indexed by top pixel | bottom pixel<<1.
var halfBlocks = [4]string{" ", "▀", "▄", "█"}

// EncodeText writes the code to w as text, one line per two rows of
// pixels drawn with half block characters, or, if ascii is set, one
// line per row with "##" for each black pixel.  The quiet zone is
// c.Border characters wide; c.Scale and colours are disregarded.
func (c *Code) EncodeText(w io.Writer, ascii bool) error {
	if !c.isValid() {
		return ErrArgs
	}
	_, err := io.WriteString(w, c.text(ascii))
	return err
}

// String returns the code drawn with half block characters.
func (c *Code) String() string {
	if !c.isValid() {
		return ""
	}
	return c.text(false)
}

func (c *Code) text(ascii bool) string {
	bord := c.Border
	var b strings.Builder
	if ascii {
		pix := c.Size + 2*bord
		b.Grow((pix*2 + 1) * pix)
		for y := -bord; y < c.Size+bord; y++ {
			for x := -bord; x < c.Size+bord; x++ {
				if c.Black(x, y) {
					b.WriteString("##")
				} else {
					b.WriteString("  ")
				}
			}
			b.WriteByte('\n')
		}
		return b.String()
	}
	for y := -bord; y < c.Size+bord; y += 2 {
		for x := -bord; x < c.Size+bord; x++ {
			i := 0
			if c.Black(x, y) {
				i |= 1
			}
			if c.Black(x, y+1) {
				i |= 2
			}
			b.WriteString(halfBlocks[i])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
