// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/klauspost/compress/zlib"
)

func zlibSector(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		t.Fatalf("create zlib writer: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

// sparseEncode emits zero runs of at least three bytes and literal runs otherwise.
func sparseEncode(data []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	for i := 0; i < len(data); {
		zeros := 0
		for i+zeros < len(data) && data[i+zeros] == 0 && zeros < 0x7F+3 {
			zeros++
		}
		if zeros >= 3 {
			out = append(out, byte(zeros-3))
			i += zeros
			continue
		}
		n := 0
		for i+n < len(data) && n < 0x80 {
			if i+n+2 < len(data) && data[i+n] == 0 && data[i+n+1] == 0 && data[i+n+2] == 0 {
				break
			}
			n++
		}
		out = append(out, 0x80|byte(n-1))
		out = append(out, data[i:i+n]...)
		i += n
	}
	return out
}

func TestDecompressZlib(t *testing.T) {
	plain := bytes.Repeat([]byte("war3map.w3i terrain doodads "), 200)
	sector := append([]byte{Zlib}, zlibSector(t, plain)...)

	got, err := Decompress(sector, len(plain))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("zlib round trip mismatch: got %d bytes, want %d", len(got), len(plain))
	}
}

func TestDecompressSparseThenZlib(t *testing.T) {
	plain := make([]byte, 4096)
	copy(plain[10:], "header")
	copy(plain[2000:], bytes.Repeat([]byte{0xAB}, 300))
	plain[4095] = 0x01

	sector := append([]byte{Zlib | Sparse}, zlibSector(t, sparseEncode(plain))...)
	got, err := Decompress(sector, len(plain))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("sparse+zlib chain mismatch")
	}
}

func TestDecompressSparse(t *testing.T) {
	tests := []struct {
		name  string
		plain []byte
	}{
		{"all zeros", make([]byte, 500)},
		{"literals", []byte("no zero runs here")},
		{"mixed", append(append([]byte("abc"), make([]byte, 40)...), 'z')},
		{"short zero runs", []byte{1, 0, 0, 2, 0, 3}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecompressSparse(sparseEncode(tc.plain), len(tc.plain))
			if err != nil {
				t.Fatalf("DecompressSparse: %v", err)
			}
			if !bytes.Equal(got, tc.plain) {
				t.Errorf("got %v, want %v", got, tc.plain)
			}
		})
	}

	if _, err := DecompressSparse(sparseEncode(make([]byte, 100)), 50); !errors.Is(err, ErrCorrupt) {
		t.Errorf("oversized sparse length: err = %v, want ErrCorrupt", err)
	}
	if _, err := DecompressSparse([]byte{0, 0, 0, 4, 0x83, 'a'}, 4); !errors.Is(err, ErrCorrupt) {
		t.Errorf("truncated literal run: err = %v, want ErrCorrupt", err)
	}
	// Two control bytes cannot expand to 4 GiB.
	if _, err := DecompressSparse([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F, 0x7F}, 1<<32-1); !errors.Is(err, ErrCorrupt) {
		t.Errorf("huge sparse length: err = %v, want ErrCorrupt", err)
	}
}

func TestExplode(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{
			// Reference stream from blast.c.
			name: "binary literals",
			in:   []byte{0x00, 0x04, 0x82, 0x24, 0x25, 0x8f, 0x80, 0x7f},
			want: "AIAIAIAIAIAIA",
		},
		{
			name: "binary literals with short match",
			in:   []byte{0x00, 0x04, 0x82, 0x08, 0x19, 0x4A, 0x17, 0x21, 0x3B, 0x01, 0xFF},
			want: "ABCABCABCABC!!!",
		},
		{
			name: "coded literals",
			in:   []byte{0x01, 0x06, 0x62, 0x54, 0x51, 0xBA, 0x00, 0xCA, 0x9D, 0x80, 0x7F},
			want: "ABCABCABCABC!!!",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Explode(tc.in, 4096)
			if err != nil {
				t.Fatalf("Explode: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("Explode = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExplodeStopsAtSize(t *testing.T) {
	got, err := Explode([]byte{0x00, 0x04, 0x82, 0x24, 0x25, 0x8f, 0x80, 0x7f}, 5)
	if err != nil {
		t.Fatalf("Explode: %v", err)
	}
	if string(got) != "AIAIA" {
		t.Errorf("Explode = %q, want %q", got, "AIAIA")
	}
}

func TestExplodeReaderSmallReads(t *testing.T) {
	r := NewExplodeReader(bytes.NewReader([]byte{0x00, 0x04, 0x82, 0x24, 0x25, 0x8f, 0x80, 0x7f}))
	got, err := io.ReadAll(iotest.OneByteReader(r))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "AIAIAIAIAIAIA" {
		t.Errorf("got %q, want AIAIAIAIAIAIA", got)
	}
}

func TestExplodeHugeSize(t *testing.T) {
	got, err := Explode([]byte{0x00, 0x04, 0x82, 0x24, 0x25, 0x8f, 0x80, 0x7f}, 1<<32-1)
	if err != nil {
		t.Fatalf("Explode: %v", err)
	}
	if string(got) != "AIAIAIAIAIAIA" {
		t.Errorf("got %q", got)
	}
}

func TestExplodeRejectsBadInput(t *testing.T) {
	tests := map[string][]byte{
		"bad literal mode": {0x02, 0x04, 0x00},
		"bad dictionary":   {0x00, 0x07, 0x00},
		"truncated":        {0x00, 0x04, 0x82},
		"empty":            {},
	}
	for name, in := range tests {
		if _, err := Explode(in, 100); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: err = %v, want ErrCorrupt", name, err)
		}
	}
}

func TestExplodeTables(t *testing.T) {
	codes := explodeCodes()
	for name, tc := range map[string]struct {
		h    *huffmanCode
		syms int
	}{
		"literal":  {codes.lit, 256},
		"length":   {codes.length, 16},
		"distance": {codes.dist, 64},
	} {
		if len(tc.h.symbol) != tc.syms {
			t.Errorf("%s table has %d symbols, want %d", name, len(tc.h.symbol), tc.syms)
		}
		left := 1
		for l := 1; l <= explodeMaxBits; l++ {
			left <<= 1
			left -= tc.h.count[l]
		}
		if left != 0 {
			t.Errorf("%s code is not complete: %d codes left", name, left)
		}
	}
}

func TestDecompressADPCMMono(t *testing.T) {
	in := []byte{
		0x00, 0x00, // unused, bit shift 0
		0x64, 0x00, // initial sample 100
		0x00, // +step (494)
		0x40, // -step (449)
		0x80, // repeat
	}
	got, err := Decompress(append([]byte{ADPCMMono}, in...), 64)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	want := []int16{100, 594, 145, 145}
	if len(got) != len(want)*2 {
		t.Fatalf("got %d bytes, want %d", len(got), len(want)*2)
	}
	for i, w := range want {
		if s := int16(binary.LittleEndian.Uint16(got[i*2:])); s != w {
			t.Errorf("sample %d = %d, want %d", i, s, w)
		}
	}
}

func TestDecompressADPCMStereoInterleaves(t *testing.T) {
	in := []byte{
		0x00, 0x00,
		0x0A, 0x00, // left 10
		0x14, 0x00, // right 20
		0x80, 0x80, // repeat left, repeat right
	}
	got, err := DecompressADPCM(in, 64, 2)
	if err != nil {
		t.Fatalf("DecompressADPCM: %v", err)
	}
	want := []int16{10, 20, 10, 20}
	if len(got) != len(want)*2 {
		t.Fatalf("got %d bytes, want %d", len(got), len(want)*2)
	}
	for i, w := range want {
		if s := int16(binary.LittleEndian.Uint16(got[i*2:])); s != w {
			t.Errorf("sample %d = %d, want %d", i, s, w)
		}
	}
}

func TestDecompressADPCMClamps(t *testing.T) {
	// Start near the top of the range and push past it.
	in := []byte{0x00, 0x00, 0xF0, 0x7F, 0x3F}
	got, err := DecompressADPCM(in, 16, 1)
	if err != nil {
		t.Fatalf("DecompressADPCM: %v", err)
	}
	if s := int16(binary.LittleEndian.Uint16(got[2:])); s != 32767 {
		t.Errorf("clamped sample = %d, want 32767", s)
	}
}

func TestDecompressUnsupported(t *testing.T) {
	tests := []struct {
		name  string
		mask  byte
		codec string
	}{
		{"huffman without a weight table", Huffman, "huffman"},
		{"huffman with adpcm", Huffman | ADPCMStereo, "huffman"},
		{"lzma", LZMA, "lzma"},
		{"unknown bit", 0x04, "0x04"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decompress([]byte{tc.mask, 9, 2, 3, 4}, 16)
			if !errors.Is(err, ErrUnsupported) {
				t.Fatalf("err = %v, want ErrUnsupported", err)
			}
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("err is not *Error: %T", err)
			}
			if cerr.Codec != tc.codec || cerr.Mask != tc.mask {
				t.Errorf("codec = %q mask = 0x%02X, want %q 0x%02X", cerr.Codec, cerr.Mask, tc.codec, tc.mask)
			}
		})
	}
}

func TestDecompressCorrupt(t *testing.T) {
	if _, err := Decompress(nil, 10); !errors.Is(err, ErrCorrupt) {
		t.Errorf("empty sector: err = %v, want ErrCorrupt", err)
	}
	if _, err := Decompress([]byte{Zlib, 0xDE, 0xAD, 0xBE, 0xEF}, 10); err == nil {
		t.Errorf("garbage zlib sector decoded without error")
	}
	if _, err := Decompress([]byte{BZip2, 'n', 'o', 'p', 'e'}, 10); err == nil {
		t.Errorf("garbage bzip2 sector decoded without error")
	}
}

func TestNames(t *testing.T) {
	got := Names(Zlib | Sparse | ADPCMMono)
	want := []string{"zlib", "sparse", "adpcm-mono"}
	if len(got) != len(want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if n := Names(Huffman | ADPCMMono); len(n) != 2 || n[0] != "huffman" || n[1] != "adpcm-mono" {
		t.Errorf("Names(0x41) = %v", n)
	}
	if n := Names(LZMA); len(n) != 1 || n[0] != "lzma" {
		t.Errorf("Names(LZMA) = %v", n)
	}
}

func TestSectorChecksum(t *testing.T) {
	if got := SectorChecksum(nil); got != 0 {
		t.Errorf("SectorChecksum(nil) = 0x%08X, want 0", got)
	}
	// a = 97+98+99, b = 97 + 195 + 294
	if got, want := SectorChecksum([]byte("abc")), uint32(586<<16|294); got != want {
		t.Errorf("SectorChecksum(abc) = 0x%08X, want 0x%08X", got, want)
	}

	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(255 - i%7)
	}
	var a, b uint32
	for _, v := range data {
		a = (a + uint32(v)) % 65521
		b = (b + a) % 65521
	}
	if got := SectorChecksum(data); got != b<<16|a {
		t.Errorf("SectorChecksum over long input = 0x%08X, want 0x%08X", got, b<<16|a)
	}
}
