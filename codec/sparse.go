// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

import (
	"encoding/binary"
	"fmt"
)

// sparseMaxRun is the longest output of one control byte.
const sparseMaxRun = 0x7F + 3

// DecompressSparse expands a sparse (zero run-length) payload.
//
// The payload starts with the big-endian plain length. Each control byte
// either copies (b&0x7F)+1 literal bytes (high bit set) or emits (b&0x7F)+3
// zero bytes.
func DecompressSparse(data []byte, size int) ([]byte, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: sparse payload too small", ErrCorrupt)
	}
	plain := int(binary.BigEndian.Uint32(data))
	if plain > size {
		return nil, fmt.Errorf("%w: sparse length %d exceeds %d", ErrCorrupt, plain, size)
	}
	if plain > sparseMaxRun*(len(data)-4) {
		return nil, fmt.Errorf("%w: sparse length %d from %d control bytes", ErrCorrupt, plain, len(data)-4)
	}

	out := make([]byte, plain)
	pos := 0
	in := data[4:]
	for len(in) > 0 && pos < plain {
		ctl := in[0]
		in = in[1:]

		if ctl&0x80 != 0 {
			n := min(int(ctl&0x7F)+1, plain-pos)
			if n > len(in) {
				return nil, fmt.Errorf("%w: sparse literal run past end of input", ErrCorrupt)
			}
			copy(out[pos:], in[:n])
			in = in[n:]
			pos += n
		} else {
			pos += min(int(ctl&0x7F)+3, plain-pos)
		}
	}
	return out, nil
}
