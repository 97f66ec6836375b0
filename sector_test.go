// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/suprsokr/mpqx/codec"
	"github.com/suprsokr/mpqx/internal/mpqtest"
)

func extractError(t *testing.T, err error) *ExtractError {
	t.Helper()
	var ee *ExtractError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v (%T), want *ExtractError", err, err)
	}
	return ee
}

func TestStoredSectorsPassThrough(t *testing.T) {
	// Noise does not compress, so every sector is stored at full length
	// even though the block is flagged compressed.
	data := noiseData(3*4096, 7)
	b := mpqtest.New()
	b.Add("noise.bin", data, mpqtest.FileOptions{Compress: true})
	archive := buildArchive(t, b)

	f := mustExtract(t, archive, "noise.bin")
	if f.Flags&FileCompress == 0 {
		t.Fatalf("block not flagged compressed")
	}
	if !bytes.Equal(f.Data, data) {
		t.Errorf("stored sectors were not passed through unchanged")
	}
}

func TestImplodedFile(t *testing.T) {
	b := mpqtest.New()
	b.AddRaw("imploded.txt", []byte{0x00, 0x04, 0x82, 0x24, 0x25, 0x8f, 0x80, 0x7f}, 13,
		mpqtest.FlagExists|mpqtest.FlagImplode|mpqtest.FlagSingleUnit)
	archive := buildArchive(t, b)

	if f := mustExtract(t, archive, "imploded.txt"); string(f.Data) != "AIAIAIAIAIAIA" {
		t.Errorf("got %q, want AIAIAIAIAIAIA", f.Data)
	}
}

func TestSectorSizeMismatch(t *testing.T) {
	b := mpqtest.New()
	b.AddRaw("short.txt", mpqtest.Zlib([]byte("short")), 100,
		mpqtest.FlagExists|mpqtest.FlagCompress|mpqtest.FlagSingleUnit)
	b.Add("fine.txt", []byte("fine"), mpqtest.FileOptions{})
	archive := buildArchive(t, b)

	_, err := archive.ExtractFile("short.txt")
	if !errors.Is(err, ErrSectorSizeMismatch) {
		t.Fatalf("err = %v, want ErrSectorSizeMismatch", err)
	}
	if ee := extractError(t, err); ee.Stage != StageDecompress || ee.Name != "short.txt" {
		t.Errorf("ExtractError = %+v", ee)
	}

	// The archive stays usable after a per-file failure.
	if f := mustExtract(t, archive, "fine.txt"); string(f.Data) != "fine" {
		t.Errorf("got %q, want fine", f.Data)
	}
}

func TestDecryptionKeyMismatch(t *testing.T) {
	b := mpqtest.New()
	b.Add("Units\\secret.txt", textData(9000), mpqtest.FileOptions{Compress: true, Encrypt: true, KeyName: "other.txt"})
	archive := buildArchive(t, b)

	_, err := archive.ExtractFile("Units\\secret.txt")
	if !errors.Is(err, ErrDecryptionKeyMismatch) {
		t.Fatalf("err = %v, want ErrDecryptionKeyMismatch", err)
	}
	if ee := extractError(t, err); ee.Stage != StageDecrypt {
		t.Errorf("Stage = %s, want decrypt", ee.Stage)
	}
}

func TestSectorOffsetsOutOfBounds(t *testing.T) {
	// 5000 bytes in 4 KiB sectors: two sectors, three offsets.
	raw := make([]byte, 20)
	binary.LittleEndian.PutUint32(raw[0:], 12)
	binary.LittleEndian.PutUint32(raw[4:], 20)
	binary.LittleEndian.PutUint32(raw[8:], 9999)

	b := mpqtest.New()
	b.AddRaw("broken.bin", raw, 5000, mpqtest.FlagExists|mpqtest.FlagCompress)
	archive := buildArchive(t, b)

	_, err := archive.ExtractFile("broken.bin")
	if !errors.Is(err, ErrRangeOutOfBounds) {
		t.Fatalf("err = %v, want ErrRangeOutOfBounds", err)
	}
	if ee := extractError(t, err); ee.Sector != 1 {
		t.Errorf("Sector = %d, want 1", ee.Sector)
	}
}

func TestOffsetTableLargerThanFile(t *testing.T) {
	b := mpqtest.New()
	b.AddRaw("tiny.bin", []byte{1, 2, 3}, 100000, mpqtest.FlagExists|mpqtest.FlagCompress)
	archive := buildArchive(t, b)

	if _, err := archive.ExtractFile("tiny.bin"); !errors.Is(err, ErrRangeOutOfBounds) {
		t.Errorf("err = %v, want ErrRangeOutOfBounds", err)
	}
}

func TestHugeDeclaredFileSize(t *testing.T) {
	stored := bytes.Repeat([]byte{0xA5}, 16)
	tests := []struct {
		name     string
		stored   []byte
		fileSize uint32
		flags    uint32
		want     error
		stage    Stage
	}{
		{"single unit", stored, 0xFFFFFFFF,
			mpqtest.FlagExists | mpqtest.FlagCompress | mpqtest.FlagSingleUnit, ErrSectorSizeMismatch, StageRead},
		{"single unit within ratio", mpqtest.Zlib([]byte("short")), 1 << 20,
			mpqtest.FlagExists | mpqtest.FlagCompress | mpqtest.FlagSingleUnit, ErrSectorSizeMismatch, StageDecompress},
		{"sectored", stored, 0xFFFFFFFF,
			mpqtest.FlagExists | mpqtest.FlagCompress, ErrRangeOutOfBounds, StageRead},
		{"plain sectors", stored, 0xFFFFFFFF,
			mpqtest.FlagExists, ErrRangeOutOfBounds, StageRead},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := mpqtest.New()
			b.AddRaw("huge.bin", tc.stored, tc.fileSize, tc.flags)
			archive := buildArchive(t, b)

			_, err := archive.ExtractFile("huge.bin")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if ee := extractError(t, err); ee.Stage != tc.stage {
				t.Errorf("Stage = %s, want %s", ee.Stage, tc.stage)
			}
		})
	}
}

func TestSectorChecksums(t *testing.T) {
	b := mpqtest.New()
	b.Add("checked.txt", textData(2*4096), mpqtest.FileOptions{Compress: true, SectorCRC: true})
	data := b.MustBytes()

	// The file starts right after the 32-byte header; its offset table has
	// four entries (two sectors, the end and the checksum table end).
	data[0x20+16+3] ^= 0x55

	archive, err := Parse(data, WithSectorChecksums(true))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = archive.ExtractFile("checked.txt")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	if ee := extractError(t, err); ee.Stage != StageVerify || ee.Sector != 0 {
		t.Errorf("ExtractError stage %s sector %d, want verify 0", ee.Stage, ee.Sector)
	}
}

func TestUnsupportedCodec(t *testing.T) {
	tests := []struct {
		name  string
		mask  byte
		codec string
	}{
		{"huffman without a weight table", codec.Huffman, "huffman"},
		{"lzma", codec.LZMA, "lzma"},
		{"unknown bit", 0x04, "0x04"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := mpqtest.New()
			b.Add("Sound\\wave.wav", textData(5000), mpqtest.FileOptions{ForceMask: tc.mask})
			archive := buildArchive(t, b)

			_, err := archive.ExtractFile("Sound\\wave.wav")
			if !errors.Is(err, ErrUnsupportedCodec) {
				t.Fatalf("err = %v, want ErrUnsupportedCodec", err)
			}
			var ce *codec.Error
			if !errors.As(err, &ce) {
				t.Fatalf("err does not carry a *codec.Error")
			}
			if ce.Codec != tc.codec {
				t.Errorf("Codec = %q, want %q", ce.Codec, tc.codec)
			}
		})
	}
}

func TestPatchFileRejected(t *testing.T) {
	b := mpqtest.New()
	b.Add("patched.txt", []byte("delta"), mpqtest.FileOptions{Extra: mpqtest.FlagPatchFile})
	archive := buildArchive(t, b)

	if _, err := archive.ExtractFile("patched.txt"); !errors.Is(err, ErrPatchFile) {
		t.Errorf("err = %v, want ErrPatchFile", err)
	}
}
