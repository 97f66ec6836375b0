// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	adpcmInitialStep = 0x2C
	adpcmMaxStep     = 88
)

var adpcmNextStep = [32]int{
	-1, 0, -1, 4, -1, 2, -1, 6, -1, 1, -1, 5, -1, 3, -1, 7,
	-1, 1, -1, 5, -1, 3, -1, 7, -1, 2, -1, 4, -1, 6, -1, 8,
}

var adpcmStepSize = [adpcmMaxStep + 1]int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

// DecompressADPCM decodes Blizzard's IMA ADPCM variant into 16-bit
// little-endian PCM of at most size bytes.
func DecompressADPCM(data []byte, size, channels int) ([]byte, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d ADPCM channels", ErrCorrupt, channels)
	}
	if len(data) < 2+2*channels {
		return nil, fmt.Errorf("%w: ADPCM header truncated", ErrCorrupt)
	}

	shift := uint(data[1])
	in := data[2:]
	// Every input byte yields at most one 16-bit sample.
	out := make([]byte, 0, min(size, 2*len(data)))

	put := func(sample int) bool {
		if len(out)+2 > size {
			return false
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(sample)))
		return true
	}

	var predicted [2]int
	var step [2]int
	for ch := 0; ch < channels; ch++ {
		step[ch] = adpcmInitialStep
		predicted[ch] = int(int16(binary.LittleEndian.Uint16(in)))
		in = in[2:]
		if !put(predicted[ch]) {
			return out, nil
		}
	}

	ch := channels - 1
	for _, enc := range in {
		ch = (ch + 1) % channels

		if enc&0x80 != 0 {
			switch enc & 0x7F {
			case 0:
				// Repeat the previous sample.
				if step[ch] != 0 {
					step[ch]--
				}
				if !put(predicted[ch]) {
					return out, nil
				}
			case 1:
				step[ch] = min(step[ch]+8, adpcmMaxStep)
				ch = (ch + 1) % channels
			case 2:
				ch = (ch + 1) % channels
			default:
				step[ch] = max(step[ch]-8, 0)
				ch = (ch + 1) % channels
			}
			continue
		}

		stepSize := adpcmStepSize[step[ch]]
		predicted[ch] = adpcmDecodeSample(predicted[ch], int(enc), stepSize, stepSize>>shift)
		if !put(predicted[ch]) {
			return out, nil
		}
		step[ch] = max(0, min(step[ch]+adpcmNextStep[enc&0x1F], adpcmMaxStep))
	}

	return out, nil
}

func adpcmDecodeSample(predicted, enc, stepSize, diff int) int {
	for bit := 0; bit < 6; bit++ {
		if enc&(1<<bit) != 0 {
			diff += stepSize >> bit
		}
	}

	if enc&0x40 != 0 {
		return max(predicted-diff, -32768)
	}
	return min(predicted+diff, 32767)
}
