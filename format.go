// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"

	"github.com/suprsokr/mpqx/internal/cursor"
)

// MPQ format constants
const (
	// Magic signature "MPQ\x1A" in little-endian
	headerMagic = 0x1A51504D
	// User data signature "MPQ\x1B" in little-endian
	userDataMagic = 0x1B51504D

	// Format versions
	formatVersion1 = 0 // Original format (up to 4GB)
	formatVersion2 = 1 // Extended format (Burning Crusade+)
	formatVersion4 = 3 // Newest known format

	// Header sizes
	headerSizeV1 = 0x20 // 32 bytes
	headerSizeV2 = 0x2C // 44 bytes
	headerSizeV3 = 0x44 // 68 bytes

	userDataHeaderSize = 0x10

	// Hash and block table entries are 16 bytes each
	tableEntrySize = 16

	// Archive headers start on 512-byte boundaries
	headerAlignment = 0x200

	maxSectorSizeShift = 16
)

// Block table entry flags
const (
	FileImplode      uint32 = 0x00000100 // Imploded (PKWARE compression)
	FileCompress     uint32 = 0x00000200 // Compressed (multi-algorithm)
	FileEncrypted    uint32 = 0x00010000 // Encrypted
	FileFixKey       uint32 = 0x00020000 // Key adjusted by block offset
	FilePatchFile    uint32 = 0x00100000 // Patch file
	FileSingleUnit   uint32 = 0x01000000 // Single unit (not split into sectors)
	FileDeleteMarker uint32 = 0x02000000 // File is a deletion marker
	FileSectorCRC    uint32 = 0x04000000 // Sector CRC values after data
	FileExists       uint32 = 0x80000000 // File exists

	fileCompressMask = FileImplode | FileCompress
)

// Hash table entry constants
const (
	hashTableEmpty   = 0xFFFFFFFF
	hashTableDeleted = 0xFFFFFFFE

	localeNeutral = 0x0000
)

// baseHeader is the MPQ archive header (V1 format - 32 bytes)
type baseHeader struct {
	Magic            uint32 // "MPQ\x1A"
	HeaderSize       uint32 // Size of this header
	ArchiveSize      uint32 // Size of the entire archive (deprecated in V2)
	FormatVersion    uint16 // Format version (0 = V1, 1 = V2, ...)
	SectorSizeShift  uint16 // Power of 2 for sector size
	HashTableOffset  uint32 // Offset to hash table (low 32 bits)
	BlockTableOffset uint32 // Offset to block table (low 32 bits)
	HashTableSize    uint32 // Number of entries in hash table
	BlockTableSize   uint32 // Number of entries in block table
}

// extendedHeader contains V2 extended header fields (12 bytes)
type extendedHeader struct {
	HiBlockTableOffset64 uint64 // 64-bit offset to the hi-block table
	HashTableOffsetHi    uint16 // High 16 bits of hash table offset
	BlockTableOffsetHi   uint16 // High 16 bits of block table offset
}

// archiveHeader combines the header versions with where it was found.
type archiveHeader struct {
	baseHeader
	extendedHeader

	// ArchiveSize64 is the V3+ 64-bit archive size, 0 when absent.
	ArchiveSize64 uint64

	// Offset of the header within the backing store. Every table and file
	// position is relative to it.
	Offset int64

	// User data block, when the archive starts with one.
	UserDataOffset int64
	UserDataSize   uint32
	hasUserData    bool
}

// getHashTableOffset64 returns the full 64-bit hash table offset
func (h *archiveHeader) getHashTableOffset64() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.HashTableOffset) | (uint64(h.HashTableOffsetHi) << 32)
	}
	return uint64(h.HashTableOffset)
}

// getBlockTableOffset64 returns the full 64-bit block table offset
func (h *archiveHeader) getBlockTableOffset64() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.BlockTableOffset) | (uint64(h.BlockTableOffsetHi) << 32)
	}
	return uint64(h.BlockTableOffset)
}

// declaredSize returns the archive size recorded in the header.
func (h *archiveHeader) declaredSize() uint64 {
	if h.ArchiveSize64 != 0 {
		return h.ArchiveSize64
	}
	return uint64(h.ArchiveSize)
}

// sectorSize returns the logical sector size in bytes.
func (h *archiveHeader) sectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

// decodeHeader parses a header from b, which starts at the magic.
// Extension fields are read only when both the version and the recorded
// header size call for them and b holds them.
func decodeHeader(b []byte) (*archiveHeader, error) {
	c := cursor.New(b)
	h := &archiveHeader{}

	h.Magic = c.U32()
	h.HeaderSize = c.U32()
	h.ArchiveSize = c.U32()
	h.FormatVersion = c.U16()
	h.SectorSizeShift = c.U16()
	h.HashTableOffset = c.U32()
	h.BlockTableOffset = c.U32()
	h.HashTableSize = c.U32()
	h.BlockTableSize = c.U32()
	if err := c.Err(); err != nil {
		return nil, err
	}

	if h.FormatVersion >= formatVersion2 && h.HeaderSize >= headerSizeV2 && c.Remaining() >= headerSizeV2-headerSizeV1 {
		h.HiBlockTableOffset64 = c.U64()
		h.HashTableOffsetHi = c.U16()
		h.BlockTableOffsetHi = c.U16()
	}

	// V3 adds the 64-bit archive size right after the V2 fields.
	if h.FormatVersion > formatVersion2 && h.HeaderSize >= headerSizeV3 && c.Remaining() >= 8 {
		h.ArchiveSize64 = c.U64()
	}

	return h, c.Err()
}

// hashTableEntry represents an entry in the hash table
type hashTableEntry struct {
	HashA      uint32 // First hash of the file name
	HashB      uint32 // Second hash of the file name
	Locale     uint16 // Locale ID
	Platform   uint16 // Platform ID (0 = default)
	BlockIndex uint32 // Index into the block table
}

// blockTableEntry represents an entry in the block table
type blockTableEntry struct {
	FilePos        uint32 // Offset of the file data (low 32 bits)
	CompressedSize uint32 // Compressed file size
	FileSize       uint32 // Uncompressed file size
	Flags          uint32 // File flags
}

// blockTableEntryEx extends blockTableEntry with 64-bit offset support
type blockTableEntryEx struct {
	blockTableEntry
	FilePosHi uint16 // High 16 bits of file offset (from extended block table)
}

// getFilePos64 returns the full 64-bit file position
func (b *blockTableEntryEx) getFilePos64() uint64 {
	return uint64(b.FilePos) | (uint64(b.FilePosHi) << 32)
}

func (b *blockTableEntryEx) exists() bool {
	return b.Flags&FileExists != 0
}

// decodeWords converts a little-endian byte slice to words.
func decodeWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// decodeHashTable builds hash entries from decrypted table words.
func decodeHashTable(words []uint32) []hashTableEntry {
	table := make([]hashTableEntry, len(words)/4)
	for i := range table {
		table[i] = hashTableEntry{
			HashA:      words[i*4],
			HashB:      words[i*4+1],
			Locale:     uint16(words[i*4+2] & 0xFFFF),
			Platform:   uint16(words[i*4+2] >> 16),
			BlockIndex: words[i*4+3],
		}
	}
	return table
}

// decodeBlockTable builds block entries from decrypted table words.
func decodeBlockTable(words []uint32) []blockTableEntryEx {
	table := make([]blockTableEntryEx, len(words)/4)
	for i := range table {
		table[i] = blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        words[i*4],
				CompressedSize: words[i*4+1],
				FileSize:       words[i*4+2],
				Flags:          words[i*4+3],
			},
		}
	}
	return table
}
