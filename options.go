// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"
	"log/slog"
)

const (
	// DefaultHeaderSearchLimit bounds the scan for a header on 512-byte
	// boundaries. Warcraft III maps place theirs after a 512-byte prefix.
	DefaultHeaderSearchLimit = 1 << 20

	// DefaultMaxTableEntries rejects tables that no real archive comes close to.
	DefaultMaxTableEntries = 1_000_000

	// DefaultReadSize caps a single range read of file data. Runs of sectors
	// are grouped up to this size.
	DefaultReadSize = 1 << 20
)

// Option configures an Archive.
type Option func(*options)

type options struct {
	logger            *slog.Logger
	fallback          Fallback
	cacheEntries      int
	headerSearchLimit int64
	maxTableEntries   uint32
	verifySectors     bool
	locale            uint16
	readSize          int
}

func defaultOptions() options {
	return options{
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		headerSearchLimit: DefaultHeaderSearchLimit,
		maxTableEntries:   DefaultMaxTableEntries,
		locale:            localeNeutral,
		readSize:          DefaultReadSize,
	}
}

func (o *options) apply(opts []Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// WithLogger sets the logger for debug diagnostics. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFallback sets the extractor used for files the native pipeline cannot
// decode.
func WithFallback(f Fallback) Option {
	return func(o *options) { o.fallback = f }
}

// WithCache keeps up to entries decoded files in memory. Zero disables it.
func WithCache(entries int) Option {
	return func(o *options) { o.cacheEntries = max(entries, 0) }
}

// WithHeaderSearchLimit sets how far into the store to look for a header.
func WithHeaderSearchLimit(n int64) Option {
	return func(o *options) {
		if n >= 0 {
			o.headerSearchLimit = n
		}
	}
}

// WithMaxTableEntries sets the hash and block table entry ceiling.
func WithMaxTableEntries(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTableEntries = n
		}
	}
}

// WithSectorChecksums enables verification of per-sector checksums on files
// that carry them.
func WithSectorChecksums(verify bool) Option {
	return func(o *options) { o.verifySectors = verify }
}

// WithLocale sets the preferred locale when a name has several hash entries.
func WithLocale(locale uint16) Option {
	return func(o *options) { o.locale = locale }
}

// WithReadSize caps the size of one range read of file data. A sector larger
// than n is still read whole.
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}
