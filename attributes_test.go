// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/suprsokr/mpqx/internal/mpqtest"
)

func TestAttributes(t *testing.T) {
	content := textData(7000)
	b := mpqtest.New()
	b.Attributes = true
	b.Add("war3map.j", content, mpqtest.FileOptions{Compress: true})
	b.Add("war3map.w3i", []byte("info"), mpqtest.FileOptions{Encrypt: true})
	archive := buildArchive(t, b)
	ctx := context.Background()

	attrs, err := archive.Attributes()
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if attrs == nil {
		t.Fatalf("Attributes returned nil")
	}
	if attrs.Version != attributesVersion || len(attrs.CRC32) != archive.BlockCount() {
		t.Fatalf("attributes version %d with %d CRCs for %d blocks", attrs.Version, len(attrs.CRC32), archive.BlockCount())
	}
	if attrs.CRC32[0] != crc32.ChecksumIEEE(content) {
		t.Errorf("CRC32[0] = 0x%08X, want 0x%08X", attrs.CRC32[0], crc32.ChecksumIEEE(content))
	}

	for _, name := range []string{"war3map.j", "war3map.w3i", "(listfile)"} {
		if err := archive.VerifyFile(ctx, name); err != nil {
			t.Errorf("VerifyFile(%s): %v", name, err)
		}
	}

	attrs.CRC32[1] ^= 1
	err = archive.VerifyFile(ctx, "war3map.w3i")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	if ee := extractError(t, err); ee.Stage != StageVerify {
		t.Errorf("Stage = %s, want verify", ee.Stage)
	}

	if err := archive.VerifyFile(ctx, "missing"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("VerifyFile(missing) err = %v, want ErrFileNotFound", err)
	}
}

func TestAttributesAbsent(t *testing.T) {
	b := mpqtest.New()
	b.Add("a.txt", []byte("a"), mpqtest.FileOptions{})
	archive := buildArchive(t, b)

	attrs, err := archive.Attributes()
	if attrs != nil || err != nil {
		t.Errorf("Attributes = %v, %v; want nil, nil", attrs, err)
	}
	if err := archive.VerifyFile(context.Background(), "a.txt"); err != nil {
		t.Errorf("VerifyFile without attributes: %v", err)
	}
}

func TestParseAttributes(t *testing.T) {
	data := make([]byte, 8+2*4+2*8+2*16+1)
	binary.LittleEndian.PutUint32(data[0:], attributesVersion)
	binary.LittleEndian.PutUint32(data[4:], attributesFlagCRC32|attributesFlagFileTime|attributesFlagMD5|attributesFlagPatchBit)
	binary.LittleEndian.PutUint32(data[8:], 0xAABBCCDD)
	binary.LittleEndian.PutUint64(data[24:], 0x01D0000000000000)
	data[32] = 0x7F
	data[len(data)-1] = 0x02

	attrs, err := parseAttributes(data, 2)
	if err != nil {
		t.Fatalf("parseAttributes: %v", err)
	}
	if attrs.CRC32[0] != 0xAABBCCDD || attrs.FileTime[1] != 0x01D0000000000000 || attrs.MD5[0][0] != 0x7F {
		t.Errorf("parsed %+v", attrs)
	}
	if attrs.Patch[0] || !attrs.Patch[1] {
		t.Errorf("Patch = %v, want [false true]", attrs.Patch)
	}

	if _, err := parseAttributes(data[:20], 2); err == nil {
		t.Errorf("truncated attributes parsed")
	}
	binary.LittleEndian.PutUint32(data[0:], 99)
	if _, err := parseAttributes(data, 2); err == nil {
		t.Errorf("unknown attributes version parsed")
	}
}
