// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package codec decodes MPQ sector payloads.
//
// A compressed sector starts with a mask byte naming every codec that was
// applied when the archive was built. Decompress undoes them in the reverse
// of the order the archive writer applies them.
package codec

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compression mask bits
const (
	Huffman     byte = 0x01 // adaptive Huffman (used on wave files only)
	Zlib        byte = 0x02 // Zlib/Deflate
	PKWare      byte = 0x08 // PKWARE DCL implode
	BZip2       byte = 0x10 // BZip2
	Sparse      byte = 0x20 // Sparse/RLE
	ADPCMMono   byte = 0x40 // IMA ADPCM mono audio
	ADPCMStereo byte = 0x80 // IMA ADPCM stereo audio

	// LZMA is an exclusive mask value, not a bit.
	LZMA byte = 0x12

	knownMask = Huffman | Zlib | PKWare | BZip2 | Sparse | ADPCMMono | ADPCMStereo

	growStep = 64 << 10
)

var (
	// ErrUnsupported is matched by every *Error.
	ErrUnsupported = errors.New("unsupported compression")

	// ErrCorrupt is returned when a payload cannot be decoded.
	ErrCorrupt = errors.New("corrupt compressed data")
)

// Error reports a compression the package cannot decode.
type Error struct {
	Codec  string
	Mask   byte
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("unsupported compression %s (mask 0x%02X): %s", e.Codec, e.Mask, e.Reason)
}

func (e *Error) Unwrap() error { return ErrUnsupported }

type stage struct {
	bit    byte
	name   string
	decode func(data []byte, size int) ([]byte, error)
}

// stages lists the codecs in decompression order.
var stages = []stage{
	{BZip2, "bzip2", decompressBzip2},
	{PKWare, "pkware", Explode},
	{Zlib, "zlib", decompressZlib},
	{Sparse, "sparse", DecompressSparse},
	{Huffman, "huffman", DecompressHuffman},
	{ADPCMStereo, "adpcm-stereo", func(data []byte, size int) ([]byte, error) {
		return DecompressADPCM(data, size, 2)
	}},
	{ADPCMMono, "adpcm-mono", func(data []byte, size int) ([]byte, error) {
		return DecompressADPCM(data, size, 1)
	}},
}

// Decompress decodes a masked sector whose plain length is size.
// The returned slice may alias data when the mask names no codec.
func Decompress(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty sector", ErrCorrupt)
	}

	mask := data[0]
	result := data[1:]

	if mask == LZMA {
		return nil, &Error{Codec: "lzma", Mask: mask, Reason: "LZMA sectors are not decoded natively"}
	}
	if unknown := mask &^ knownMask; unknown != 0 {
		return nil, &Error{Codec: fmt.Sprintf("0x%02X", unknown), Mask: mask, Reason: "unknown compression bits"}
	}

	var err error
	for _, s := range stages {
		if mask&s.bit == 0 {
			continue
		}
		result, err = s.decode(result, size)
		if err != nil {
			var cerr *Error
			if errors.As(err, &cerr) {
				cerr.Mask = mask
				return nil, cerr
			}
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	return result, nil
}

// Names returns the codec names set in mask, in decompression order.
func Names(mask byte) []string {
	if mask == LZMA {
		return []string{"lzma"}
	}
	var names []string
	for _, s := range stages {
		if mask&s.bit != 0 {
			names = append(names, s.name)
		}
	}
	return names
}

// decompressZlib decompresses zlib-compressed data
func decompressZlib(data []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w", err)
	}
	defer r.Close()

	return readUpTo(r, size)
}

// decompressBzip2 decompresses bzip2-compressed data
func decompressBzip2(data []byte, size int) ([]byte, error) {
	return readUpTo(bzip2.NewReader(bytes.NewReader(data)), size)
}

// readUpTo reads at most size bytes from r. The buffer grows with the
// decoded stream, so a size taken from an untrusted header reserves at
// most growStep bytes up front.
func readUpTo(r io.Reader, size int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(min(size, growStep))
	if _, err := io.CopyN(&buf, r, int64(size)); err != nil && err != io.EOF {
		return nil, err
	}
	return buf.Bytes(), nil
}
