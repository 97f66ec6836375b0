// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"context"
	"fmt"

	"github.com/suprsokr/mpqx/crypt"
)

// PatchChain represents a prioritized list of MPQ archives.
type PatchChain struct {
	archives []*Archive
}

// OpenPatchChain opens multiple MPQ archives in order of increasing priority.
// The last archive in the list has the highest priority.
func OpenPatchChain(paths []string, opts ...Option) (*PatchChain, error) {
	archives := make([]*Archive, 0, len(paths))
	for _, path := range paths {
		archive, err := Open(path, opts...)
		if err != nil {
			for _, opened := range archives {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open archive %s: %w", path, err)
		}
		archives = append(archives, archive)
	}
	return NewPatchChain(archives...), nil
}

// NewPatchChain chains already opened archives, lowest priority first.
// Closing the chain closes them.
func NewPatchChain(archives ...*Archive) *PatchChain {
	return &PatchChain{archives: archives}
}

// Close closes all archives in the patch chain.
func (p *PatchChain) Close() error {
	var firstErr error
	for _, archive := range p.archives {
		if err := archive.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of archives in the chain.
func (p *PatchChain) Len() int {
	return len(p.archives)
}

// resolve returns the archive holding the highest-priority version of name
// and its block entry. A deletion marker hides every lower version.
//
// Every archive is searched through its hash table, highest priority first,
// so entries missing from a listfile still shadow lower archives.
func (p *PatchChain) resolve(name string) (*Archive, *blockTableEntryEx) {
	for i := len(p.archives) - 1; i >= 0; i-- {
		if block, found := p.archives[i].findFile(name); found {
			if block.Flags&FileDeleteMarker != 0 {
				return nil, nil
			}
			return p.archives[i], block
		}
	}
	return nil, nil
}

// HasFile returns true if any archive contains the specified file.
// Respects deletion markers in higher-priority archives.
func (p *PatchChain) HasFile(name string) bool {
	archive, _ := p.resolve(name)
	return archive != nil
}

// ExtractFile extracts the highest-priority version of a file. It returns
// nil and no error when no archive holds the file or the highest-priority
// entry is a deletion marker.
func (p *PatchChain) ExtractFile(ctx context.Context, name string) (*File, error) {
	archive, _ := p.resolve(name)
	if archive == nil {
		return nil, nil
	}
	return archive.ExtractFileContext(ctx, name)
}

// HasPatchFile checks if a file is marked as a patch file in any archive.
func (p *PatchChain) HasPatchFile(name string) bool {
	// Patch files can exist in several archives, not just the highest
	// priority one.
	for i := len(p.archives) - 1; i >= 0; i-- {
		block, found := p.archives[i].findFile(name)
		if found && block.Flags&FilePatchFile != 0 {
			return true
		}
	}
	return false
}

// ListFiles returns the union of listfiles across the chain.
func (p *PatchChain) ListFiles() ([]string, error) {
	seen := make(map[string]struct{})
	var result []string
	for _, archive := range p.archives {
		files, err := archive.ListFiles()
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			key := crypt.Normalize(file)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, file)
		}
	}
	return result, nil
}
