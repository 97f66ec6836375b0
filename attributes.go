// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"hash/crc32"

	"github.com/suprsokr/mpqx/internal/cursor"
)

const (
	attributesName    = "(attributes)"
	attributesVersion = 100

	attributesFlagCRC32    = 0x00000001
	attributesFlagFileTime = 0x00000002
	attributesFlagMD5      = 0x00000004
	attributesFlagPatchBit = 0x00000008
)

// Attributes holds the per-block values of the (attributes) file. Each
// slice is indexed by block and empty when the archive does not record it.
type Attributes struct {
	Version  uint32
	Flags    uint32
	CRC32    []uint32
	FileTime []uint64 // Windows FILETIME
	MD5      [][md5.Size]byte
	Patch    []bool
}

// Attributes returns the parsed (attributes) file, or nil when the archive
// has none. The result is read once and shared; callers must not modify it.
func (a *Archive) Attributes() (*Attributes, error) {
	if a.attrsRead {
		return a.attrs, nil
	}

	f, err := a.ExtractFile(attributesName)
	if err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}
	if f != nil {
		a.attrs, err = parseAttributes(f.Data, len(a.blockTable))
		if err != nil {
			return nil, err
		}
	}
	a.attrsRead = true
	return a.attrs, nil
}

func parseAttributes(data []byte, blocks int) (*Attributes, error) {
	c := cursor.New(data)
	attrs := &Attributes{Version: c.U32(), Flags: c.U32()}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("parse attributes: %w", err)
	}
	if attrs.Version != attributesVersion {
		return nil, fmt.Errorf("parse attributes: unsupported version %d", attrs.Version)
	}

	if attrs.Flags&attributesFlagCRC32 != 0 {
		attrs.CRC32 = make([]uint32, blocks)
		for i := range attrs.CRC32 {
			attrs.CRC32[i] = c.U32()
		}
	}
	if attrs.Flags&attributesFlagFileTime != 0 {
		attrs.FileTime = make([]uint64, blocks)
		for i := range attrs.FileTime {
			attrs.FileTime[i] = c.U64()
		}
	}
	if attrs.Flags&attributesFlagMD5 != 0 {
		attrs.MD5 = make([][md5.Size]byte, blocks)
		for i := range attrs.MD5 {
			copy(attrs.MD5[i][:], c.Bytes(md5.Size))
		}
	}
	if attrs.Flags&attributesFlagPatchBit != 0 {
		bits := c.Bytes((blocks + 7) / 8)
		attrs.Patch = make([]bool, blocks)
		for i := range attrs.Patch {
			if bits != nil {
				attrs.Patch[i] = bits[i/8]&(1<<(i%8)) != 0
			}
		}
	}

	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("parse attributes: %w", err)
	}
	return attrs, nil
}

// VerifyFile checks a file against the CRC32 and MD5 values recorded in
// (attributes). Values recorded as zero are not checked, and an archive
// without attributes verifies trivially.
func (a *Archive) VerifyFile(ctx context.Context, name string) error {
	f, err := a.ExtractFileContext(ctx, name)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	attrs, err := a.Attributes()
	if err != nil || attrs == nil {
		return err
	}

	fail := func(err error) error {
		return &ExtractError{Name: name, Flags: f.Flags, Stage: StageVerify, Sector: -1, Err: err}
	}

	if f.BlockIndex < len(attrs.CRC32) {
		want := attrs.CRC32[f.BlockIndex]
		if got := crc32.ChecksumIEEE(f.Data); want != 0 && got != want {
			return fail(fmt.Errorf("%w: crc32 0x%08X, recorded 0x%08X", ErrChecksumMismatch, got, want))
		}
	}
	if f.BlockIndex < len(attrs.MD5) {
		want := attrs.MD5[f.BlockIndex]
		if got := md5.Sum(f.Data); want != [md5.Size]byte{} && !bytes.Equal(got[:], want[:]) {
			return fail(fmt.Errorf("%w: md5 %x, recorded %x", ErrChecksumMismatch, got, want))
		}
	}
	return nil
}
