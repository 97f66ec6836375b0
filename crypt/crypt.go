// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package crypt implements the MPQ string hash and stream cipher.
//
// Both share a single 0x500-entry crypt table that is generated once per
// process on first use and never modified afterwards.
package crypt

import (
	"encoding/binary"
	"strings"
	"sync"
)

// HashType selects one of the banks of the crypt table.
type HashType uint32

// Hash types for HashString
const (
	HashTableOffset HashType = 0 // Initial slot index into the hash table
	HashNameA       HashType = 1 // First verification hash
	HashNameB       HashType = 2 // Second verification hash
	HashFileKey     HashType = 3 // Encryption key derivation
)

// Well-known table keys.
const (
	// HashTableKey is HashString("(hash table)", HashFileKey).
	HashTableKey uint32 = 0xC3AF3770
	// BlockTableKey is HashString("(block table)", HashFileKey).
	BlockTableKey uint32 = 0xEC83B3A3
)

const (
	tableSize = 0x500
	keyBank   = 0x400
)

// table is built on first use.
var table = sync.OnceValue(func() *[tableSize]uint32 {
	var t [tableSize]uint32
	seed := uint32(0x00100001)

	for index1 := 0; index1 < 0x100; index1++ {
		index2 := index1
		for i := 0; i < 5; i++ {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 0x10

			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF

			t[index2] = temp1 | temp2
			index2 += 0x100
		}
	}
	return &t
})

// Table returns a copy of the crypt table.
func Table() [tableSize]uint32 {
	return *table()
}

// HashString computes the MPQ hash of name.
// The name is hashed case-insensitively and with '/' treated as '\'.
func HashString(name string, hashType HashType) uint32 {
	t := table()
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)
	bank := uint32(hashType&0x0F) << 8

	for i := 0; i < len(name); i++ {
		ch := uint32(normalizeByte(name[i]))
		seed1 = t[bank+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}

	return seed1
}

// NameHashes returns the table offset hash and both verification hashes.
func NameHashes(name string) (offset, a, b uint32) {
	return HashString(name, HashTableOffset), HashString(name, HashNameA), HashString(name, HashNameB)
}

// Normalize returns name as the hash function sees it.
func Normalize(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for i := 0; i < len(name); i++ {
		sb.WriteByte(normalizeByte(name[i]))
	}
	return sb.String()
}

func normalizeByte(ch byte) byte {
	if ch >= 'a' && ch <= 'z' {
		return ch - 0x20
	}
	if ch == '/' {
		return '\\'
	}
	return ch
}

// nextKey advances the cipher key.
func nextKey(key uint32) uint32 {
	return ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
}

// EncryptWords encrypts data in place.
func EncryptWords(data []uint32, key uint32) {
	t := table()
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += t[keyBank+(key&0xFF)]
		plain := data[i]
		data[i] = plain ^ (key + seed)
		key = nextKey(key)
		seed = plain + seed + (seed << 5) + 3
	}
}

// DecryptWords decrypts data in place.
func DecryptWords(data []uint32, key uint32) {
	t := table()
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += t[keyBank+(key&0xFF)]
		plain := data[i] ^ (key + seed)
		key = nextKey(key)
		seed = plain + seed + (seed << 5) + 3
		data[i] = plain
	}
}

// EncryptBytes encrypts the whole 4-byte words of data in place.
// Trailing bytes that do not form a word are left as they are.
func EncryptBytes(data []byte, key uint32) {
	t := table()
	seed := uint32(0xEEEEEEEE)

	for i := 0; i+4 <= len(data); i += 4 {
		seed += t[keyBank+(key&0xFF)]
		plain := binary.LittleEndian.Uint32(data[i:])
		binary.LittleEndian.PutUint32(data[i:], plain^(key+seed))
		key = nextKey(key)
		seed = plain + seed + (seed << 5) + 3
	}
}

// DecryptBytes decrypts the whole 4-byte words of data in place.
// Trailing bytes that do not form a word are left as they are.
func DecryptBytes(data []byte, key uint32) {
	t := table()
	seed := uint32(0xEEEEEEEE)

	for i := 0; i+4 <= len(data); i += 4 {
		seed += t[keyBank+(key&0xFF)]
		plain := binary.LittleEndian.Uint32(data[i:]) ^ (key + seed)
		binary.LittleEndian.PutUint32(data[i:], plain)
		key = nextKey(key)
		seed = plain + seed + (seed << 5) + 3
	}
}

// FileKey computes the encryption key for a stored file.
// Only the base name of path takes part. When fixKey is set the key is
// adjusted by the file's position relative to the archive start and its size.
func FileKey(path string, filePos uint64, fileSize uint32, fixKey bool) uint32 {
	key := HashString(BaseName(path), HashFileKey)
	if fixKey {
		key = (key + uint32(filePos)) ^ fileSize
	}
	return key
}

// BaseName returns the part of an archive path after the last separator.
func BaseName(path string) string {
	if idx := strings.LastIndexAny(path, "\\/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
