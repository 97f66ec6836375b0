// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package rangeio

import (
	"context"
	"iter"
)

// Progress describes the I/O issued through a Counter so far.
type Progress struct {
	Reads     int   // Range reads completed
	BytesRead int64 // Total bytes returned
	Size      int64 // Store size
}

// Counter wraps a Reader and tracks the volume of data read through it.
// It is not safe for concurrent use, matching the single-goroutine archive
// pipeline it serves.
type Counter struct {
	r        Reader
	progress func(Progress)
	stats    Progress
}

// Counting wraps r. progress, if non-nil, is called after every read.
func Counting(r Reader, progress func(Progress)) *Counter {
	return &Counter{r: r, progress: progress, stats: Progress{Size: r.Size()}}
}

func (c *Counter) Size() int64 { return c.r.Size() }

func (c *Counter) ReadRange(ctx context.Context, off int64, n int) ([]byte, error) {
	b, err := c.r.ReadRange(ctx, off, n)
	if err != nil {
		return nil, err
	}
	c.stats.Reads++
	c.stats.BytesRead += int64(len(b))
	if c.progress != nil {
		c.progress(c.stats)
	}
	return b, nil
}

// Stats returns the counters accumulated so far.
func (c *Counter) Stats() Progress { return c.stats }

// Chunk is one piece of a sequential scan.
type Chunk struct {
	Offset int64
	Data   []byte
	Last   bool
}

// Chunks returns a lazy sequence of consecutive chunks covering r. The
// sequence stops after the first error, which is yielded with a zero Chunk.
func Chunks(ctx context.Context, r Reader, chunkSize int) iter.Seq2[Chunk, error] {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	return func(yield func(Chunk, error) bool) {
		size := r.Size()
		if size == 0 {
			yield(Chunk{Last: true, Data: []byte{}}, nil)
			return
		}
		for off := int64(0); off < size; {
			n := int(min(int64(chunkSize), size-off))
			data, err := r.ReadRange(ctx, off, n)
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			next := off + int64(n)
			if !yield(Chunk{Offset: off, Data: data, Last: next == size}, nil) {
				return
			}
			off = next
		}
	}
}
