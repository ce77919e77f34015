// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filestore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// A Compression names the algorithm a blob is stored with.
type Compression string

const (
	None Compression = "none"
	LZ4  Compression = "lz4"  // LZ4 block
	Zstd Compression = "zstd" // zstd, default level
)

var errIncompressible = errors.New("filestore: incompressible")

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("filestore: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("filestore: zstd decoder: " + err.Error())
	}
}

// SelectCompression returns the compression for a blob of the given
// content type.  Text compresses well with zstd; BMP is uncompressed
// pixels and goes through the faster LZ4.  PNG, JPEG, GIF and WebP are
// compressed already.
func SelectCompression(contentType string) Compression {
	mt, _, _ := strings.Cut(contentType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	switch {
	case mt == "image/svg+xml", strings.HasPrefix(mt, "text/"),
		mt == "application/json", mt == "application/xml":
		return Zstd
	case mt == "image/bmp", mt == "image/x-portable-bitmap":
		return LZ4
	}
	return None
}

// compress compresses data with c.  It returns errIncompressible if
// the result is not smaller than data.
func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case None:
		return data, nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil
	case Zstd:
		dst := zstdEncoder.EncodeAll(data, nil)
		if len(dst) >= len(data) {
			return nil, errIncompressible
		}
		return dst, nil
	}
	return nil, fmt.Errorf("filestore: unknown compression %q", c)
}

// decompress reverses compress.  size is the length of the original.
func decompress(data []byte, c Compression, size int) ([]byte, error) {
	var (
		dst []byte
		err error
	)
	switch c {
	case None:
		dst = data
	case LZ4:
		dst = make([]byte, size)
		var n int
		n, err = lz4.UncompressBlock(data, dst)
		dst = dst[:n]
	case Zstd:
		dst, err = zstdDecoder.DecodeAll(data, make([]byte, 0, size))
	default:
		return nil, fmt.Errorf("filestore: unknown compression %q", c)
	}
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", c, err)
	}
	if len(dst) != size {
		return nil, fmt.Errorf("%s decompress: got %d bytes, want %d",
			c, len(dst), size)
	}
	return dst, nil
}
