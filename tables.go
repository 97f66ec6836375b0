// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/suprsokr/mpqx/crypt"
	"github.com/suprsokr/mpqx/rangeio"
)

// readTables reads and decrypts the hash and block tables, merging the
// hi-block table into 64-bit file positions when present.
func readTables(ctx context.Context, r rangeio.Reader, h *archiveHeader) ([]hashTableEntry, []blockTableEntryEx, error) {
	hashWords, err := readTable(ctx, r, h.Offset+int64(h.getHashTableOffset64()), h.HashTableSize, crypt.HashTableKey)
	if err != nil {
		return nil, nil, fmt.Errorf("read hash table: %w", err)
	}
	blockWords, err := readTable(ctx, r, h.Offset+int64(h.getBlockTableOffset64()), h.BlockTableSize, crypt.BlockTableKey)
	if err != nil {
		return nil, nil, fmt.Errorf("read block table: %w", err)
	}

	hashTable := decodeHashTable(hashWords)
	blockTable := decodeBlockTable(blockWords)

	if h.FormatVersion >= formatVersion2 && h.HiBlockTableOffset64 != 0 && h.BlockTableSize > 0 {
		hi, err := r.ReadRange(ctx, h.Offset+int64(h.HiBlockTableOffset64), int(h.BlockTableSize)*2)
		if err != nil {
			return nil, nil, fmt.Errorf("read hi-block table: %w", err)
		}
		for i := range blockTable {
			blockTable[i].FilePosHi = binary.LittleEndian.Uint16(hi[i*2:])
		}
	}

	return hashTable, blockTable, nil
}

// readTable reads entries 16-byte records at pos with one range read.
func readTable(ctx context.Context, r rangeio.Reader, pos int64, entries uint32, key uint32) ([]uint32, error) {
	if entries == 0 {
		return nil, nil
	}
	raw, err := r.ReadRange(ctx, pos, int(entries)*tableEntrySize)
	if err != nil {
		return nil, err
	}
	words := decodeWords(raw)
	crypt.DecryptWords(words, key)
	return words, nil
}

// lookup resolves name to a block index, or -1 when the archive does not
// hold it. Probing starts at the name's offset hash, stops at an empty slot
// and visits each slot at most once. When several locales match, the
// configured locale wins, then the neutral one, then the first match.
func (a *Archive) lookup(name string) int {
	size := uint32(len(a.hashTable))
	if size == 0 {
		return -1
	}

	offset, hashA, hashB := crypt.NameHashes(name)
	start := offset % size
	first, neutral := -1, -1

	for i := uint32(0); i < size; i++ {
		entry := &a.hashTable[(start+i)%size]

		if entry.BlockIndex == hashTableEmpty {
			break
		}
		if entry.BlockIndex == hashTableDeleted {
			continue
		}
		if entry.HashA != hashA || entry.HashB != hashB {
			continue
		}
		if entry.BlockIndex >= uint32(len(a.blockTable)) || !a.blockTable[entry.BlockIndex].exists() {
			continue
		}

		idx := int(entry.BlockIndex)
		if entry.Locale == a.opts.locale {
			return idx
		}
		if entry.Locale == localeNeutral && neutral < 0 {
			neutral = idx
		}
		if first < 0 {
			first = idx
		}
	}

	if neutral >= 0 {
		return neutral
	}
	return first
}

// findFile looks up a file in the hash table and returns its block entry.
func (a *Archive) findFile(name string) (*blockTableEntryEx, bool) {
	idx := a.lookup(name)
	if idx < 0 {
		return nil, false
	}
	return &a.blockTable[idx], true
}
