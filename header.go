// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/suprsokr/mpqx/rangeio"
)

// headerSearchChunk is the window read per step of the header scan. It is a
// multiple of headerAlignment so every candidate offset starts inside a chunk.
const headerSearchChunk = 64 << 10

// HeaderInfo is a read-only view of the parsed archive header.
type HeaderInfo struct {
	Offset             int64  // header position in the backing store
	HeaderSize         uint32 // recorded header size
	ArchiveSize        uint64 // declared archive size
	FormatVersion      uint16 // 0 = V1, 1 = V2, ...
	SectorSize         uint32 // logical sector size in bytes
	HashTableOffset    uint64 // relative to Offset
	BlockTableOffset   uint64 // relative to Offset
	HiBlockTableOffset uint64 // relative to Offset, 0 when absent
	HashTableSize      uint32 // entries
	BlockTableSize     uint32 // entries

	UserDataOffset int64  // -1 when the archive has no user data block
	UserDataSize   uint32 // bytes of user data
}

func (h *archiveHeader) info() HeaderInfo {
	info := HeaderInfo{
		Offset:             h.Offset,
		HeaderSize:         h.HeaderSize,
		ArchiveSize:        h.declaredSize(),
		FormatVersion:      h.FormatVersion,
		SectorSize:         h.sectorSize(),
		HashTableOffset:    h.getHashTableOffset64(),
		BlockTableOffset:   h.getBlockTableOffset64(),
		HiBlockTableOffset: h.HiBlockTableOffset64,
		HashTableSize:      h.HashTableSize,
		BlockTableSize:     h.BlockTableSize,
		UserDataOffset:     -1,
	}
	if h.hasUserData {
		info.UserDataOffset = h.UserDataOffset
		info.UserDataSize = h.UserDataSize
	}
	return info
}

// locateHeader finds the archive header: at offset 0, or on the first
// 512-byte boundary within limit that holds an archive or user data
// signature.
func locateHeader(ctx context.Context, r rangeio.Reader, limit int64) (*archiveHeader, error) {
	size := r.Size()
	if size < 4 {
		return nil, headerInvalid(0, "magic: store holds %d bytes", size)
	}

	h, ok, err := readHeaderAt(ctx, r, 0)
	if err != nil || ok {
		return h, err
	}

	window, err := rangeio.Section(r, 0, min(size, limit+4))
	if err != nil {
		return nil, fmt.Errorf("search for header: %w", err)
	}
	for chunk, err := range rangeio.Chunks(ctx, window, headerSearchChunk) {
		if err != nil {
			return nil, fmt.Errorf("search for header: %w", err)
		}
		for i := 0; i+4 <= len(chunk.Data); i += headerAlignment {
			off := chunk.Offset + int64(i)
			if off == 0 || off > limit {
				continue
			}
			magic := binary.LittleEndian.Uint32(chunk.Data[i:])
			if magic != headerMagic && magic != userDataMagic {
				continue
			}
			if h, ok, err := readHeaderAt(ctx, r, off); err != nil || ok {
				return h, err
			}
		}
	}

	return nil, headerInvalid(0, "magic: no archive signature in the first %d bytes", min(size, limit))
}

// readHeaderAt parses the header at off, following a user data block to the
// header it points at. ok is false when off holds neither signature.
func readHeaderAt(ctx context.Context, r rangeio.Reader, off int64) (*archiveHeader, bool, error) {
	b, err := r.ReadRange(ctx, off, int(min(headerSizeV3, r.Size()-off)))
	if err != nil {
		return nil, false, fmt.Errorf("read header: %w", err)
	}
	if len(b) < 4 {
		return nil, false, nil
	}

	switch binary.LittleEndian.Uint32(b) {
	case headerMagic:
		h, err := decodeHeader(b)
		if err != nil {
			return nil, false, &ParseError{Kind: ErrHeaderInvalid, Invariant: "header truncated", Offset: off, Err: err}
		}
		h.Offset = off
		return h, true, nil

	case userDataMagic:
		if len(b) < userDataHeaderSize {
			return nil, false, headerInvalid(off, "user data header truncated")
		}
		userDataSize := binary.LittleEndian.Uint32(b[4:])
		headerOffset := binary.LittleEndian.Uint32(b[8:])
		if headerOffset < userDataHeaderSize {
			return nil, false, headerInvalid(off, "user data header offset %d", headerOffset)
		}

		pos := off + int64(headerOffset)
		if pos+headerSizeV1 > r.Size() {
			return nil, false, headerInvalid(pos, "user data points past the store")
		}
		hb, err := r.ReadRange(ctx, pos, int(min(headerSizeV3, r.Size()-pos)))
		if err != nil {
			return nil, false, fmt.Errorf("read header: %w", err)
		}
		if magic := binary.LittleEndian.Uint32(hb); magic != headerMagic {
			return nil, false, headerInvalid(pos, "magic: user data points at 0x%08X", magic)
		}
		h, err := decodeHeader(hb)
		if err != nil {
			return nil, false, &ParseError{Kind: ErrHeaderInvalid, Invariant: "header truncated", Offset: pos, Err: err}
		}
		h.Offset = pos
		h.UserDataOffset = off
		h.UserDataSize = userDataSize
		h.hasUserData = true
		return h, true, nil
	}

	return nil, false, nil
}

// validateHeader checks the header against the store, first failure wins.
func validateHeader(h *archiveHeader, storeSize int64, o *options) error {
	if h.FormatVersion > formatVersion4 {
		return headerInvalid(h.Offset, "format version %d", h.FormatVersion)
	}
	if h.SectorSizeShift > maxSectorSizeShift {
		return headerInvalid(h.Offset, "sector size shift %d", h.SectorSizeShift)
	}
	if h.HashTableSize >= o.maxTableEntries {
		return tableCorrupt(h.Offset, "hash table size %d reaches the %d entry ceiling", h.HashTableSize, o.maxTableEntries)
	}
	if h.BlockTableSize >= o.maxTableEntries {
		return tableCorrupt(h.Offset, "block table size %d reaches the %d entry ceiling", h.BlockTableSize, o.maxTableEntries)
	}

	available := uint64(storeSize - h.Offset)
	declared := h.declaredSize()
	check := func(name string, pos uint64, entries uint32, entrySize uint64) error {
		if entries == 0 {
			return nil
		}
		if declared != 0 && pos > declared {
			return tableCorrupt(h.Offset, "%s position 0x%X beyond declared archive size %d", name, pos, declared)
		}
		if end := pos + uint64(entries)*entrySize; end < pos || end > available {
			return tableCorrupt(h.Offset, "%s (%d entries at 0x%X) exceeds the backing store", name, entries, pos)
		}
		return nil
	}

	if err := check("hash table", h.getHashTableOffset64(), h.HashTableSize, tableEntrySize); err != nil {
		return err
	}
	if err := check("block table", h.getBlockTableOffset64(), h.BlockTableSize, tableEntrySize); err != nil {
		return err
	}
	if h.HiBlockTableOffset64 != 0 {
		return check("hi-block table", h.HiBlockTableOffset64, h.BlockTableSize, 2)
	}
	return nil
}
