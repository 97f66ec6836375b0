// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package crypt

import "encoding/binary"

// DetectFileKey recovers the key of an encrypted sectored file whose name is
// unknown. encrypted holds at least the first two words of the encrypted
// sector offset table, tableSize is the known plain value of the first word
// and sectorSize bounds the plain value of the second.
//
// The returned key is the file key (the offset table itself is encrypted
// with key-1).
func DetectFileKey(encrypted []byte, tableSize, sectorSize uint32) (uint32, bool) {
	if len(encrypted) < 8 || tableSize < 8 {
		return 0, false
	}
	t := table()
	word0 := binary.LittleEndian.Uint32(encrypted[0:])
	word1 := binary.LittleEndian.Uint32(encrypted[4:])
	maxSecond := tableSize + sectorSize

	// word0 ^ plain0 == key + 0xEEEEEEEE + t[keyBank+(key&0xFF)]
	sum := (word0 ^ tableSize) - 0xEEEEEEEE

	for i := uint32(0); i < 0x100; i++ {
		key := sum - t[keyBank+i]
		if key&0xFF != i {
			continue
		}

		seed := 0xEEEEEEEE + t[keyBank+i]
		next := nextKey(key)
		seed = tableSize + seed + (seed << 5) + 3
		seed += t[keyBank+(next&0xFF)]
		plain1 := word1 ^ (next + seed)

		if plain1 >= tableSize && plain1 <= maxSecond {
			return key + 1, true
		}
	}
	return 0, false
}
