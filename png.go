// Copyright 2011 The Go Authors.  All rights reserved.
// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qr

import (
	"image"
	"image/color"
	"image/png"
	"io"
)

// Image returns a paletted image displaying the code, with c.Light at
// index 0 and c.Dark at index 1.  Image returns nil if c is not valid
// or the image would be larger than MaxImageSize on a side.
func (c *Code) Image() *image.Paletted {
	if !c.isValid() || c.ImageSize() > MaxImageSize {
		return nil
	}
	pix := c.ImageSize()
	img := image.NewPaletted(image.Rect(0, 0, pix, pix),
		color.Palette{c.Light, c.Dark})
	quiet := c.Scale * c.Border
	for y := 0; y < c.Size; y++ {
		row := img.Pix[(quiet+y*c.Scale)*img.Stride:][:pix]
		for x := 0; x < c.Size; x++ {
			if c.Black(x, y) {
				p := row[quiet+x*c.Scale:][:c.Scale]
				for i := range p {
					p[i] = 1
				}
			}
		}
		for i := 1; i < c.Scale; i++ {
			copy(img.Pix[(quiet+y*c.Scale+i)*img.Stride:], row)
		}
	}
	return img
}

// pngEncoder is shared by all codes.  Paletted images with two colours
// are written with 1 bit per pixel.
var pngEncoder = png.Encoder{CompressionLevel: png.BestCompression}

// EncodePNG writes a PNG image displaying the code to w.
func (c *Code) EncodePNG(w io.Writer) error {
	if !c.isValid() {
		return ErrArgs
	}
	img := c.Image()
	if img == nil {
		return ErrLargeImage
	}
	return pngEncoder.Encode(w, img)
}
