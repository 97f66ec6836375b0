// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// PKWARE Data Compression Library "implode" streams: a literal mode byte, a
// dictionary size byte, then LSB-first codes from three fixed Huffman tables.

const (
	explodeMaxBits = 13
	explodeEndLen  = 519
	explodeWindow  = 4096
)

// Code length tables, run-length packed: high nibble+1 repeats of low nibble.
var (
	explodeLitLen = []byte{
		11, 124, 8, 7, 28, 7, 188, 13, 76, 4, 10, 8, 12, 10, 12, 10, 8, 23, 8,
		9, 7, 6, 7, 8, 7, 6, 55, 8, 23, 24, 12, 11, 7, 9, 11, 12, 6, 7, 22, 5,
		7, 24, 6, 11, 9, 6, 7, 22, 7, 11, 38, 7, 9, 8, 25, 11, 8, 11, 9, 12,
		8, 12, 5, 38, 5, 38, 5, 11, 7, 5, 6, 21, 6, 10, 53, 8, 7, 24, 10, 27,
		44, 253, 253, 253, 252, 252, 252, 13, 12, 45, 12, 45, 12, 61, 12, 45,
		44, 173,
	}
	explodeLenLen  = []byte{2, 35, 36, 53, 38, 23}
	explodeDistLen = []byte{2, 20, 53, 230, 247, 151, 248}

	explodeLenBase  = [16]int{3, 2, 4, 5, 6, 7, 8, 9, 10, 12, 16, 24, 40, 72, 136, 264}
	explodeLenExtra = [16]uint{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
)

// huffmanCode is a canonical code: counts per length and symbols ordered by code.
type huffmanCode struct {
	count  [explodeMaxBits + 1]int
	symbol []int
}

type explodeTables struct {
	lit, length, dist *huffmanCode
}

var explodeCodes = sync.OnceValue(func() explodeTables {
	return explodeTables{
		lit:    buildCode(explodeLitLen),
		length: buildCode(explodeLenLen),
		dist:   buildCode(explodeDistLen),
	}
})

// buildCode expands a packed length table into a canonical code.
func buildCode(rep []byte) *huffmanCode {
	var lengths []int
	for _, b := range rep {
		for n := int(b>>4) + 1; n > 0; n-- {
			lengths = append(lengths, int(b&0x0F))
		}
	}

	h := &huffmanCode{symbol: make([]int, len(lengths))}
	for _, l := range lengths {
		h.count[l]++
	}

	var offs [explodeMaxBits + 1]int
	for l := 1; l < explodeMaxBits; l++ {
		offs[l+1] = offs[l] + h.count[l]
	}
	for sym, l := range lengths {
		if l != 0 {
			h.symbol[offs[l]] = sym
			offs[l]++
		}
	}
	return h
}

// bitReader reads LSB-first bit fields.
type bitReader struct {
	in  io.ByteReader
	buf uint32
	cnt uint
}

func (b *bitReader) bits(need uint) (int, error) {
	val := b.buf
	for b.cnt < need {
		c, err := b.in.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: implode stream truncated", ErrCorrupt)
		}
		val |= uint32(c) << b.cnt
		b.cnt += 8
	}
	b.buf = val >> need
	b.cnt -= need
	return int(val & (1<<need - 1)), nil
}

// decode reads one symbol. Codes are stored bit-inverted.
func (b *bitReader) decode(h *huffmanCode) (int, error) {
	code, first, index := 0, 0, 0
	for l := 1; l <= explodeMaxBits; l++ {
		bit, err := b.bits(1)
		if err != nil {
			return 0, err
		}
		code |= bit ^ 1
		count := h.count[l]
		if code < first+count {
			return h.symbol[index+(code-first)], nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, fmt.Errorf("%w: invalid implode code", ErrCorrupt)
}

// explodeReader streams the plain bytes of an imploded stream. Matches
// copy out of a ring holding the last explodeWindow bytes.
type explodeReader struct {
	br    bitReader
	codes explodeTables

	lit  int  // 1 when literals are Huffman coded
	dict uint // low distance bits

	window  [explodeWindow]byte
	written int // bytes produced so far
	copyLen int // bytes of the current match still to emit
	dist    int

	started bool
	err     error
}

// NewExplodeReader returns a reader of the plain bytes imploded in r.
func NewExplodeReader(r io.ByteReader) io.Reader {
	return &explodeReader{br: bitReader{in: r}, codes: explodeCodes()}
}

func (e *explodeReader) Read(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if !e.started {
		if e.err = e.readHeader(); e.err != nil {
			return 0, e.err
		}
		e.started = true
	}

	n := 0
	for n < len(p) {
		if e.copyLen > 0 {
			c := e.window[(e.written-e.dist)%explodeWindow]
			e.put(c)
			p[n] = c
			n++
			e.copyLen--
			continue
		}

		c, isLit, err := e.next()
		if err != nil {
			e.err = err
			break
		}
		if isLit {
			e.put(c)
			p[n] = c
			n++
		}
	}
	if n > 0 {
		return n, nil
	}
	return 0, e.err
}

func (e *explodeReader) put(c byte) {
	e.window[e.written%explodeWindow] = c
	e.written++
}

func (e *explodeReader) readHeader() error {
	lit, err := e.br.bits(8)
	if err != nil {
		return err
	}
	if lit > 1 {
		return fmt.Errorf("%w: implode literal mode %d", ErrCorrupt, lit)
	}
	dict, err := e.br.bits(8)
	if err != nil {
		return err
	}
	if dict < 4 || dict > 6 {
		return fmt.Errorf("%w: implode dictionary bits %d", ErrCorrupt, dict)
	}
	e.lit, e.dict = lit, uint(dict)
	return nil
}

// next decodes one token. A literal is returned; a match is queued in
// copyLen and dist. The end code yields io.EOF.
func (e *explodeReader) next() (byte, bool, error) {
	flag, err := e.br.bits(1)
	if err != nil {
		return 0, false, err
	}

	if flag == 0 {
		var sym int
		if e.lit == 1 {
			sym, err = e.br.decode(e.codes.lit)
		} else {
			sym, err = e.br.bits(8)
		}
		return byte(sym), true, err
	}

	sym, err := e.br.decode(e.codes.length)
	if err != nil {
		return 0, false, err
	}
	extra, err := e.br.bits(explodeLenExtra[sym])
	if err != nil {
		return 0, false, err
	}
	length := explodeLenBase[sym] + extra
	if length == explodeEndLen {
		return 0, false, io.EOF
	}

	shift := e.dict
	if length == 2 {
		shift = 2
	}
	high, err := e.br.decode(e.codes.dist)
	if err != nil {
		return 0, false, err
	}
	low, err := e.br.bits(shift)
	if err != nil {
		return 0, false, err
	}
	dist := high<<shift + low + 1
	if dist > e.written {
		return 0, false, fmt.Errorf("%w: implode distance %d beyond %d bytes of output", ErrCorrupt, dist, e.written)
	}
	e.copyLen, e.dist = length, dist
	return 0, false, nil
}

// Explode decompresses a PKWARE DCL imploded stream of at most size bytes.
func Explode(data []byte, size int) ([]byte, error) {
	return readUpTo(NewExplodeReader(bytes.NewReader(data)), size)
}
