// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/suprsokr/mpqx/crypt"
	"github.com/suprsokr/mpqx/rangeio"
)

// Archive represents an MPQ archive opened for reading.
//
// An Archive is not safe for concurrent use. Independent archives may be
// used from separate goroutines.
type Archive struct {
	r          rangeio.Reader
	closer     io.Closer
	header     *archiveHeader
	hashTable  []hashTableEntry
	blockTable []blockTableEntryEx
	sectorSize uint32
	opts       options
	cache      *lru.Cache[int, cachedFile]
	attrs      *Attributes
	attrsRead  bool
	closed     bool
}

type cachedFile struct {
	data   []byte
	source Source
}

// File is an extracted file.
type File struct {
	Name           string
	Data           []byte
	Size           uint32 // uncompressed size recorded in the block table
	CompressedSize uint32 // stored size recorded in the block table
	Flags          uint32 // block table flags
	BlockIndex     int
	Source         Source
}

// Parse opens an archive held in memory.
func Parse(data []byte, opts ...Option) (*Archive, error) {
	return OpenReader(context.Background(), rangeio.FromBytes(data), opts...)
}

// Open opens an archive file. The file is memory-mapped and only the ranges
// the archive structures point at are touched.
func Open(path string, opts ...Option) (*Archive, error) {
	f, err := rangeio.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	a, err := OpenReader(context.Background(), f, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	a.closer = f
	return a, nil
}

// OpenReader opens an archive over any range reader. It reads the header
// and both tables; file data is read on extraction.
func OpenReader(ctx context.Context, r rangeio.Reader, opts ...Option) (*Archive, error) {
	o := defaultOptions()
	o.apply(opts)
	return open(ctx, r, o)
}

func open(ctx context.Context, r rangeio.Reader, o options) (*Archive, error) {
	header, err := locateHeader(ctx, r, o.headerSearchLimit)
	if err != nil {
		return nil, err
	}
	if err := validateHeader(header, r.Size(), &o); err != nil {
		return nil, err
	}

	hashTable, blockTable, err := readTables(ctx, r, header)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		r:          r,
		header:     header,
		hashTable:  hashTable,
		blockTable: blockTable,
		sectorSize: header.sectorSize(),
		opts:       o,
	}
	if o.cacheEntries > 0 {
		// lru.New only fails for non-positive sizes.
		a.cache, _ = lru.New[int, cachedFile](o.cacheEntries)
	}

	o.logger.Debug("opened archive",
		"offset", header.Offset,
		"format", header.FormatVersion,
		"sectorSize", a.sectorSize,
		"hashEntries", len(hashTable),
		"blockEntries", len(blockTable),
		"userData", header.hasUserData)

	return a, nil
}

// Header returns the parsed header.
func (a *Archive) Header() HeaderInfo {
	return a.header.info()
}

// BlockCount returns the number of block table entries.
func (a *Archive) BlockCount() int {
	return len(a.blockTable)
}

// HasFile returns true if the archive contains the specified file.
// The name is the path within the archive (use backslashes or forward slashes).
func (a *Archive) HasFile(name string) bool {
	return !a.closed && a.lookup(name) >= 0
}

// ExtractFile extracts a file into memory. It returns nil and no error when
// the archive does not contain the file.
func (a *Archive) ExtractFile(name string) (*File, error) {
	return a.ExtractFileContext(context.Background(), name)
}

// ExtractFileContext is ExtractFile with cancellation of the reads it issues.
func (a *Archive) ExtractFileContext(ctx context.Context, name string) (*File, error) {
	if a.closed {
		return nil, ErrClosed
	}
	idx := a.lookup(name)
	if idx < 0 {
		return nil, nil
	}
	return a.extract(ctx, name, idx, true)
}

// ExtractByIndex extracts a block without knowing its name. Keys of
// encrypted files are recovered from their sector offset table, which
// single-unit and uncompressed files do not have. It returns nil and no
// error for unused or out-of-range blocks.
func (a *Archive) ExtractByIndex(ctx context.Context, blockIndex int) (*File, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if blockIndex < 0 || blockIndex >= len(a.blockTable) || !a.blockTable[blockIndex].exists() {
		return nil, nil
	}
	return a.extract(ctx, fmt.Sprintf("File%08d.xxx", blockIndex), blockIndex, false)
}

func (a *Archive) extract(ctx context.Context, name string, idx int, named bool) (*File, error) {
	block := a.blockTable[idx]
	f := &File{
		Name:           name,
		Size:           block.FileSize,
		CompressedSize: block.CompressedSize,
		Flags:          block.Flags,
		BlockIndex:     idx,
	}

	if a.cache != nil {
		if c, ok := a.cache.Get(idx); ok {
			f.Data = bytes.Clone(c.data)
			f.Source = c.source
			return f, nil
		}
	}

	sf := &storedFile{name: name, block: block}
	if named {
		sf.key = crypt.FileKey(name, block.getFilePos64(), block.FileSize, block.Flags&FileFixKey != 0)
		sf.keyKnown = true
	}

	data, err := a.readFile(ctx, sf)
	switch {
	case err == nil:
		f.Source = SourceNative
	case named && errors.Is(err, ErrUnsupportedCodec) && a.opts.fallback != nil:
		data, err = a.runFallback(ctx, name, block.Flags, err)
		if err != nil {
			return nil, err
		}
		f.Source = SourceFallback
	default:
		return nil, err
	}

	f.Data = data
	if a.cache != nil {
		a.cache.Add(idx, cachedFile{data: bytes.Clone(data), source: f.Source})
	}
	return f, nil
}

// ExtractTo extracts a file from the archive to the specified destination.
func (a *Archive) ExtractTo(name, destPath string) error {
	f, err := a.ExtractFile(name)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	// Ensure destination directory exists
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(destPath, f.Data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// OpenNested opens an archive stored as a file inside this one, such as a
// map inside a campaign. A stored payload that is neither compressed nor
// encrypted is read in place; anything else is extracted to memory first.
// The nested archive inherits this archive's options, overridden by opts,
// and reads through this archive, which must stay open while it is used.
// It returns nil and no error when the file is absent.
func (a *Archive) OpenNested(ctx context.Context, name string, opts ...Option) (*Archive, error) {
	if a.closed {
		return nil, ErrClosed
	}
	idx := a.lookup(name)
	if idx < 0 {
		return nil, nil
	}

	o := a.opts
	o.apply(opts)

	block := a.blockTable[idx]
	if block.Flags&(fileCompressMask|FileEncrypted|FilePatchFile) == 0 && block.CompressedSize >= block.FileSize {
		base := a.header.Offset + int64(block.getFilePos64())
		section, err := rangeio.Section(a.r, base, int64(block.FileSize))
		if err != nil {
			return nil, &ExtractError{Name: name, Flags: block.Flags, Stage: StageRead, Sector: -1, Err: err}
		}
		nested, err := open(ctx, section, o)
		if err != nil {
			return nil, fmt.Errorf("open nested %s: %w", name, err)
		}
		return nested, nil
	}

	f, err := a.extract(ctx, name, idx, true)
	if err != nil {
		return nil, err
	}
	nested, err := open(ctx, rangeio.FromBytes(f.Data), o)
	if err != nil {
		return nil, fmt.Errorf("open nested %s: %w", name, err)
	}
	return nested, nil
}

// Close closes the archive and releases its backing file, if any.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.cache != nil {
		a.cache.Purge()
	}
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
