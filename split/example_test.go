// Copyright 2011 The Go Authors.  All rights reserved.
// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package split_test

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/unixdj/qrpub/coding"
	"github.com/unixdj/qrpub/split"
)

func ExampleSplit() {
	// The string demonstrates segments of all four modes.
	text := "点茗 [123;45] HTTPS://EXAMPLE.COM/0123456789"
	seg, v, err := split.Split(text, coding.M, split.Options{Kanji: true})
	if err != nil {
		log.Fatalln(err)
	}
	fmt.Printf("version %d, %d bits, %d segments:\n", v, split.Bits(seg, v), len(seg))
	for _, s := range seg {
		fmt.Printf("  %-12s %3d bits  %q\n", s.Mode,
			s.EncodedLength(v.SizeClass()), s.Text)
	}

	// To encode the segments:
	c, err := coding.Encode(v, coding.M, seg...)
	if err != nil {
		log.Fatalln(err)
	}
	fmt.Printf("%d×%d modules\n", c.Size, c.Size)
	// Output:
	// version 3, 299 bits, 4 segments:
	//   kanji         38 bits  "点茗"
	//   byte          84 bits  " [123;45]"
	//   alphanumeric 129 bits  " HTTPS://EXAMPLE.COM/"
	//   numeric       48 bits  "0123456789"
	// 29×29 modules
}

func ExampleCapacityError() {
	text := strings.Repeat("https://example.com/", 70)
	_, _, err := split.Split(text, coding.H, split.Options{})
	if errors.Is(err, split.ErrCapacity) {
		fmt.Println(err)
		// retry at the lowest level
		_, v, err := split.Split(text, coding.L, split.Options{})
		fmt.Println(v, err)
	}
	// Output:
	// qr: text too long: 11220 bits, level H holds 10208
	// 27 <nil>
}
