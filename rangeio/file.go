// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package rangeio

import (
	"context"
	"fmt"

	"golang.org/x/exp/mmap"
)

// File is a memory-mapped file Reader. Close must be called when done.
type File struct {
	m    *mmap.ReaderAt
	path string
}

// OpenFile maps the file at path for range reads.
func OpenFile(path string) (*File, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("map file: %w", err)
	}
	return &File{m: m, path: path}, nil
}

// Path returns the file path given to OpenFile.
func (f *File) Path() string { return f.path }

func (f *File) Size() int64 { return int64(f.m.Len()) }

func (f *File) ReadRange(ctx context.Context, off int64, n int) ([]byte, error) {
	return readAt(ctx, f.m, off, n, f.Size())
}

// Close unmaps the file.
func (f *File) Close() error {
	return f.m.Close()
}
