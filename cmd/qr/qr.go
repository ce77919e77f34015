// Copyright 2011 The Go Authors.  All rights reserved.
// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qr writes a QR code for its arguments or standard input.
package main

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
	"github.com/pborman/getopt/v2"

	qr "github.com/unixdj/qrpub"
	"github.com/unixdj/qrpub/coding"
	"github.com/unixdj/qrpub/split"
)

var g = struct {
	scale   int       // scale
	border  int       // quiet zone
	fn      string    // filename
	format  qr.Format // output file format
	lev     qr.Level  // QR correction level
	bg, fg  rgba      // colour
	nokanji bool      // kanji mode disabled
	upper   bool      // uppercase
	diag    bool      // print diagnostics
}{
	border: 4,
	bg:     rgba{0xff, 0xff, 0xff, 0xff},
	fg:     rgba{0x00, 0x00, 0x00, 0xff},
}

func printUsage(w io.Writer) {
	cl := getopt.CommandLine
	prog := cl.Program()
	ul := make([]string, 1, 4)
	ul[0] = cl.UsageLine() + " [string ...]"
	ml := max(70-len("Usage: ")-1-len(prog), 0)
	for i := 0; len(ul[i]) > ml; i++ {
		s := ul[i]
		n := ml - 1
		for n > 0 && (s[n] != ' ' || s[n+1] != '[') {
			n--
		}
		ul = append(ul, s[n+1:])
		ul[i] = s[:max(n, 0)]
		ml = 60
	}
	fmt.Fprint(w, "QR code generator\nUsage: ", prog, " ",
		strings.Join(ul, "\n          "), `
If no string is given, data is read from standard input and the final
newline is stripped.  Input is UTF-8; kanji mode segments are enabled.

`)
	var b bytes.Buffer
	cl.PrintOptions(&b)
	w.Write(b.Bytes())
}

type opt func()

func (opt) String() string                    { return "" }
func (o opt) Set(string, getopt.Option) error { o(); return nil }

func usage() {
	printUsage(os.Stderr)
	os.Exit(2)
}

func help() {
	printUsage(os.Stdout)
	os.Exit(0)
}

func version() {
	fmt.Println(`qr version 0.9.0
Copyright (c) 2011 The Go Authors
Copyright (c) 2024 Vadim Vygonets`)
	os.Exit(0)
}

type rgba color.RGBA

func (c *rgba) String() string {
	switch *c {
	case rgba{0x00, 0x00, 0x00, 0xff}:
		return "black"
	case rgba{0xff, 0xff, 0xff, 0xff}:
		return "white"
	}
	return qr.FormatColor(color.RGBA(*c))
}

func (c *rgba) Set(s string, _ getopt.Option) error {
	switch strings.ToLower(s) {
	case "black":
		*c = rgba{0x00, 0x00, 0x00, 0xff}
		return nil
	case "white":
		*c = rgba{0xff, 0xff, 0xff, 0xff}
		return nil
	}
	v, err := qr.ParseColor(s)
	if err != nil {
		return fmt.Errorf("%q: bad colour spec", s)
	}
	*c = rgba(v)
	return nil
}

var formats = []string{"svg", "png", "pbm", "utf8", "ascii"}

func parseFlags() {
	getopt.SetUsage(usage)
	getopt.Flag(opt(help), 'h', "show this help").SetFlag()
	getopt.Flag(opt(version), 'V', "print version and copyright").SetFlag()
	getopt.FlagLong(&g.bg, "background", 'B', `background colour; see -F`,
		"RGB|name")
	getopt.FlagLong(&g.fg, "foreground", 'F', `foreground colour `+
		`as 3 or 6 hex digits, "black" or "white"; `+
		`only for types png, svg and pbm`, "RGB|name")
	getopt.Flag(&g.nokanji, 'K', "disable kanji mode")
	getopt.Flag(&g.upper, 'i', `ignore case, convert input to uppercase`)
	getopt.Flag(&g.diag, 'd', "print version, level, mask and segments "+
		"to standard error")
	getopt.Flag(&g.border, 'm', `quiet zone pixels`, "margin")
	fno := getopt.Flag(&g.fn, 'o', `output file, or "-" for `+
		`standard output`, "file")
	lev := getopt.Enum('l',
		[]string{"l", "m", "q", "h", "L", "M", "Q", "H"}, "l",
		"error correction level, lowest to highest", "l|m|q|h")
	scale := getopt.Unsigned('s', 4,
		&(getopt.UnsignedLimit{0, 16, 1, 1 << 10}),
		`image pixels per QR module ("pixel"); `+
			`ignored for types utf8 and ascii`, "scale")
	ff := getopt.Enum('t', formats, "", `output format, one of: `+
		strings.Join(formats, ", ")+
		`; if no -o is given and standard output is a TTY, `+
		`default is utf8, otherwise png`, "type")

	getopt.Parse()
	if g.border < 0 || g.border > 64 {
		fmt.Fprintln(os.Stderr, "-m: margin must be between 0 and 64")
		usage()
	}
	g.scale = int(*scale)
	g.lev, _ = qr.ParseLevel(*lev)
	if *ff == "" {
		if !fno.Seen() && isatty.IsTerminal(uintptr(syscall.Stdout)) {
			*ff = "utf8"
		} else {
			*ff = "png"
		}
	}
	g.format, _ = qr.ParseFormat(*ff)
	if g.fn == "-" {
		g.fn = ""
	}
}

func main() {
	log.SetFlags(0)
	parseFlags()

	var s string
	if args := getopt.Args(); len(args) != 0 {
		s = strings.Join(args, " ")
	} else {
		var b strings.Builder
		if _, err := io.Copy(&b, os.Stdin); err != nil {
			log.Fatalln(err)
		}
		s, _ = strings.CutSuffix(
			strings.ReplaceAll(b.String(), "\r\n", "\n"), "\n")
	}
	if g.upper {
		s = strings.ToUpper(s)
	}

	opts := qr.DefaultOptions()
	opts.Size = 1
	opts.Border = g.border
	opts.Level = g.lev
	opts.Format = g.format
	opts.Kanji = !g.nokanji
	opts.Dark, opts.Light = color.RGBA(g.fg), color.RGBA(g.bg)
	c, err := qr.Encode(s, opts)
	if err != nil {
		log.Fatalln(err)
	}
	c.Scale = g.scale
	if g.diag {
		diagnose(os.Stderr, s, c, opts.Kanji)
	}
	write(c)
}

func write(c *qr.Code) {
	w := os.Stdout
	if g.fn != "" {
		var err error
		if w, err = os.OpenFile(g.fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC,
			0666); err != nil {
			log.Fatalln(err)
		}
	}
	err := c.Write(w, g.format)
	if g.fn != "" {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		log.Fatalln(err)
	}
}

// diagnose prints the code parameters and the segments the text was
// split into.
func diagnose(w io.Writer, s string, c *qr.Code, kanji bool) {
	fmt.Fprintf(w, "version %d (%dx%d), level %v, mask %d, image %dx%d\n",
		c.Version, c.Size, c.Size, c.Level, c.Mask,
		c.ImageSize(), c.ImageSize())
	fb := formatBits(c)
	if l, m, ok := coding.DecodeFormat(fb); ok {
		fmt.Fprintf(w, "format bits %015b: level %v, mask %d\n", fb, l, m)
	} else {
		fmt.Fprintf(w, "format bits %015b: unreadable\n", fb)
	}
	segs, v, err := split.Split(s, c.Level, split.Options{Kanji: kanji})
	if err != nil {
		fmt.Fprintln(w, err)
		return
	}
	fmt.Fprintf(w, "%d data bits of %d\n",
		split.Bits(segs, v), v.DataBits(c.Level))
	for _, seg := range segs {
		fmt.Fprintf(w, "  %-12v %4d %q\n", seg.Mode,
			utf8.RuneCountInString(seg.Text), seg.Text)
	}
}

// formatBits reads the copy of the format information running down
// column 8, least significant bit first.
func formatBits(c *qr.Code) uint16 {
	var fb uint16
	for i := 0; i < 15; i++ {
		y := i
		switch {
		case i >= 8:
			y = c.Size - 15 + i
		case i >= 6:
			y = i + 1
		}
		if c.Black(8, y) {
			fb |= 1 << i
		}
	}
	return fb
}
