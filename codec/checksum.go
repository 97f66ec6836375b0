// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

// SectorChecksum computes the Adler-32 variant stored in sector checksum
// tables. Archive writers seed it with 0 rather than 1, so both running sums
// start at zero.
func SectorChecksum(data []byte) uint32 {
	const mod = 65521
	var a, b uint32
	for len(data) > 0 {
		// 5552 bytes is the most that can be summed before b overflows.
		n := min(len(data), 5552)
		for _, v := range data[:n] {
			a += uint32(v)
			b += a
		}
		a %= mod
		b %= mod
		data = data[n:]
	}
	return (b << 16) | a
}
