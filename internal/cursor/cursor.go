// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package cursor provides bounds-checked little-endian reads over a byte slice.
//
// A Cursor is sticky: once a read runs past the end of the buffer every
// following read returns zero values and Err reports the first failure. This
// lets callers decode a fixed-layout record with a run of reads and check the
// error once.
package cursor

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ErrShort is returned when a read needs more bytes than remain.
var ErrShort = fmt.Errorf("cursor: short buffer: %w", io.ErrUnexpectedEOF)

// Cursor reads little-endian values from a byte slice.
type Cursor struct {
	buf []byte
	pos int
	err error
}

// New returns a cursor positioned at the start of b.
func New(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Err returns the first error encountered, if any.
func (c *Cursor) Err() error { return c.err }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	if c.pos >= len(c.buf) {
		return 0
	}
	return len(c.buf) - c.pos
}

// take returns the next n bytes or nil after recording ErrShort.
func (c *Cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || n > c.Remaining() {
		c.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShort, n, c.pos, c.Remaining())
		return nil
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b
}

// U8 reads one byte.
func (c *Cursor) U8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads a little-endian uint16.
func (c *Cursor) U16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32 reads a little-endian uint32.
func (c *Cursor) U32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64.
func (c *Cursor) U64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Bytes returns the next n bytes without copying.
func (c *Cursor) Bytes(n int) []byte {
	return c.take(n)
}
