// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/suprsokr/mpqx/rangeio"
)

// StreamOptions selects the files a streaming parse extracts.
type StreamOptions struct {
	// Globs are matched case-insensitively against listfile names, with
	// '/' and '\' equivalent. A pattern without a separator matches the
	// base name.
	Globs []string

	// Names are extracted whether or not the listfile mentions them.
	Names []string

	// ChunkSize caps a single range read of file data. Zero keeps the
	// archive option or DefaultReadSize.
	ChunkSize int

	// Progress, if set, is called after every range read.
	Progress func(rangeio.Progress)

	// Options configure the parsed archive.
	Options []Option
}

// StreamResult is the outcome of a streaming parse.
type StreamResult struct {
	Archive  *Archive
	Files    []*File          // extracted files in file offset order
	Failures []*ExtractError  // files that matched but could not be extracted
	Missing  []string         // explicit names the archive does not hold
	Stats    rangeio.Progress // I/O issued by the whole parse
}

// ParseStream opens the archive behind r and extracts the selected files in
// a single pass in ascending file offset order. Only the header, the tables,
// the listfile (when globs are given) and the selected files are read.
//
// A cancelled ctx stops the pass with an error matching ErrAborted.
func ParseStream(ctx context.Context, r rangeio.Reader, so StreamOptions) (*StreamResult, error) {
	for _, g := range so.Globs {
		if _, err := path.Match(normalizeGlob(g), ""); err != nil {
			return nil, fmt.Errorf("glob %q: %w", g, err)
		}
	}

	counter := rangeio.Counting(r, so.Progress)
	o := defaultOptions()
	o.apply(so.Options)
	if so.ChunkSize > 0 {
		o.readSize = so.ChunkSize
	}

	a, err := open(ctx, counter, o)
	if err != nil {
		return nil, err
	}
	res := &StreamResult{Archive: a}

	type target struct {
		name string
		idx  int
		pos  uint64
	}
	var targets []target
	seen := make(map[int]bool)
	add := func(name string) bool {
		idx := a.lookup(name)
		if idx < 0 {
			return false
		}
		if !seen[idx] {
			seen[idx] = true
			targets = append(targets, target{name, idx, a.blockTable[idx].getFilePos64()})
		}
		return true
	}

	for _, name := range so.Names {
		if !add(name) {
			res.Missing = append(res.Missing, name)
		}
	}

	if len(so.Globs) > 0 {
		names, err := a.listFiles(ctx)
		if err != nil {
			if errors.Is(err, ErrAborted) {
				return nil, err
			}
			var ee *ExtractError
			if errors.As(err, &ee) {
				res.Failures = append(res.Failures, ee)
			} else {
				return nil, err
			}
		}
		for _, name := range names {
			if matchAny(so.Globs, name) {
				add(name)
			}
		}
	}

	slices.SortStableFunc(targets, func(x, y target) int { return cmp.Compare(x.pos, y.pos) })

	for _, t := range targets {
		f, err := a.extract(ctx, t.name, t.idx, true)
		if err != nil {
			if errors.Is(err, ErrAborted) {
				return nil, err
			}
			var ee *ExtractError
			if !errors.As(err, &ee) {
				ee = &ExtractError{Name: t.name, Flags: a.blockTable[t.idx].Flags, Stage: StageRead, Sector: -1, Err: err}
			}
			res.Failures = append(res.Failures, ee)
			continue
		}
		res.Files = append(res.Files, f)
	}

	res.Stats = counter.Stats()
	o.logger.Debug("stream parse finished",
		"files", len(res.Files),
		"failures", len(res.Failures),
		"missing", len(res.Missing),
		"reads", res.Stats.Reads,
		"bytesRead", res.Stats.BytesRead,
		"size", res.Stats.Size)

	return res, nil
}

// normalizeGlob maps a pattern to the form matchGlob compares against.
func normalizeGlob(pattern string) string {
	return strings.ToLower(strings.ReplaceAll(pattern, "\\", "/"))
}

// matchGlob reports whether name matches pattern.
func matchGlob(pattern, name string) bool {
	p := normalizeGlob(pattern)
	n := strings.ToLower(strings.ReplaceAll(name, "\\", "/"))
	if !strings.Contains(p, "/") {
		n = path.Base(n)
	}
	ok, err := path.Match(p, n)
	return err == nil && ok
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchGlob(p, name) {
			return true
		}
	}
	return false
}
