// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qr

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
)

// EncodeSVG writes an SVG image displaying the code to w.
// The view box is in QR pixels, one rectangle per horizontal run of
// black pixels, offset by the quiet zone; the image is c.ImageSize()
// pixels wide.
func (c *Code) EncodeSVG(w io.Writer) error {
	if !c.isValid() {
		return ErrArgs
	}
	b := bufio.NewWriter(w)
	pix, box := c.ImageSize(), c.Size+2*c.Border
	fmt.Fprintf(b, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" version="1.1" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">
`, pix, pix, box, box)
	if c.Light.A != 0 {
		fmt.Fprintf(b, "<rect width=\"%d\" height=\"%d\"%s/>\n",
			box, box, svgFill(c.Light))
	}
	fmt.Fprintf(b, "<g%s>\n", svgFill(c.Dark))
	for y := 0; y < c.Size; y++ {
		for x := 0; x < c.Size; {
			for x < c.Size && !c.Black(x, y) {
				x++
			}
			if x == c.Size {
				break
			}
			s := x
			for x < c.Size && c.Black(x, y) {
				x++
			}
			fmt.Fprintf(b, "<rect x=\"%d\" y=\"%d\" width=\"%d\" height=\"1\"/>\n",
				s+c.Border, y+c.Border, x-s)
		}
	}
	b.WriteString("</g>\n</svg>\n")
	return b.Flush()
}

// svgFill returns the fill attributes for colour col.
func svgFill(col color.RGBA) string {
	s := ` fill="` + FormatColor(col) + `"`
	if col.A != 0xff {
		s += fmt.Sprintf(` fill-opacity="%.3g"`, float64(col.A)/0xff)
	}
	return s
}
