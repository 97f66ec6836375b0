// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"context"
	"errors"
	"fmt"

	"github.com/suprsokr/mpqx/rangeio"
)

// Source records which extractor produced a file.
type Source int

const (
	SourceNative Source = iota
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceNative:
		return "native"
	case SourceFallback:
		return "fallback"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// Fallback extracts files the native pipeline cannot decode, typically a
// wrapper around a complete third-party archive library.
//
// ExtractFile receives its own copy of the complete archive and may keep or
// modify it.
type Fallback interface {
	Available() bool
	ExtractFile(ctx context.Context, archive []byte, name string) ([]byte, error)
}

// FallbackFunc adapts a function to the Fallback interface. It is always
// available.
type FallbackFunc func(ctx context.Context, archive []byte, name string) ([]byte, error)

func (f FallbackFunc) Available() bool { return true }

func (f FallbackFunc) ExtractFile(ctx context.Context, archive []byte, name string) ([]byte, error) {
	return f(ctx, archive, name)
}

// runFallback hands the whole archive to the configured fallback after the
// native pipeline reported an unsupported codec.
func (a *Archive) runFallback(ctx context.Context, name string, flags uint32, nativeErr error) ([]byte, error) {
	fb := a.opts.fallback
	if fb == nil || !fb.Available() {
		return nil, nativeErr
	}
	a.opts.logger.Debug("native extraction unsupported, trying fallback", "name", name, "err", nativeErr)

	fail := func(err error) error {
		return &ExtractError{Name: name, Flags: flags, Stage: StageFallback, Sector: -1, Err: errors.Join(nativeErr, err)}
	}

	archive, err := a.readStore(ctx)
	if err != nil {
		return nil, fail(err)
	}
	data, err := fb.ExtractFile(ctx, archive, name)
	if err != nil {
		return nil, fail(err)
	}
	return data, nil
}

// readStore reads the complete backing store in bounded chunks.
func (a *Archive) readStore(ctx context.Context) ([]byte, error) {
	out := make([]byte, 0, a.r.Size())
	for chunk, err := range rangeio.Chunks(ctx, a.r, a.opts.readSize) {
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		out = append(out, chunk.Data...)
	}
	return out, nil
}
