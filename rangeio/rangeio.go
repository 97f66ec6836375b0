// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package rangeio provides bounded range reads over archive backing stores.
//
// Every component of the archive reader fetches exactly the bytes it needs
// through a Reader, so an archive of any size can be parsed without loading
// it whole. In-memory buffers, memory-mapped files, io.ReaderAt values and
// HTTP resources all satisfy the same contract.
package rangeio

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrAborted is returned when a read is cancelled through its context.
	ErrAborted = errors.New("read aborted")

	// ErrOutOfBounds is returned when a range extends past the store.
	ErrOutOfBounds = errors.New("range out of bounds")
)

// Reader reads byte ranges from a store of fixed size.
//
// ReadRange returns exactly n bytes starting at off in a buffer owned by the
// caller, or an error. It never returns a short buffer.
type Reader interface {
	ReadRange(ctx context.Context, off int64, n int) ([]byte, error)
	Size() int64
}

// checkRange validates a request against ctx and the store size.
func checkRange(ctx context.Context, off int64, n int, size int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	if off < 0 || n < 0 || off > size || int64(n) > size-off {
		return fmt.Errorf("%w: %d bytes at offset %d, store size %d", ErrOutOfBounds, n, off, size)
	}
	return nil
}

// bytesReader serves ranges from memory.
type bytesReader struct {
	data []byte
}

// FromBytes returns a Reader over data. Each range is returned as a fresh
// copy, so callers may decrypt in place without touching data.
func FromBytes(data []byte) Reader {
	return &bytesReader{data: data}
}

func (r *bytesReader) Size() int64 { return int64(len(r.data)) }

func (r *bytesReader) ReadRange(ctx context.Context, off int64, n int) ([]byte, error) {
	if err := checkRange(ctx, off, n, r.Size()); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[off:])
	return out, nil
}

// readerAt serves ranges from an io.ReaderAt.
type readerAt struct {
	ra   io.ReaderAt
	size int64
}

// FromReaderAt returns a Reader over the first size bytes of ra.
func FromReaderAt(ra io.ReaderAt, size int64) Reader {
	return &readerAt{ra: ra, size: size}
}

func (r *readerAt) Size() int64 { return r.size }

func (r *readerAt) ReadRange(ctx context.Context, off int64, n int) ([]byte, error) {
	return readAt(ctx, r.ra, off, n, r.size)
}

func readAt(ctx context.Context, ra io.ReaderAt, off int64, n int, size int64) ([]byte, error) {
	if err := checkRange(ctx, off, n, size); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	read, err := ra.ReadAt(out, off)
	if read == n {
		return out, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("read %d bytes at offset %d: %w", n, off, err)
}

// section is a window onto another Reader.
type section struct {
	r    Reader
	base int64
	size int64
}

// Section returns a Reader over n bytes of r starting at off.
func Section(r Reader, off, n int64) (Reader, error) {
	if off < 0 || n < 0 || off > r.Size() || n > r.Size()-off {
		return nil, fmt.Errorf("%w: section of %d bytes at offset %d, store size %d", ErrOutOfBounds, n, off, r.Size())
	}
	if s, ok := r.(*section); ok {
		return &section{r: s.r, base: s.base + off, size: n}, nil
	}
	return &section{r: r, base: off, size: n}, nil
}

func (s *section) Size() int64 { return s.size }

func (s *section) ReadRange(ctx context.Context, off int64, n int) ([]byte, error) {
	if err := checkRange(ctx, off, n, s.size); err != nil {
		return nil, err
	}
	return s.r.ReadRange(ctx, s.base+off, n)
}
