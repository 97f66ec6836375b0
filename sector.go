// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"context"
	"fmt"

	"github.com/suprsokr/mpqx/codec"
	"github.com/suprsokr/mpqx/crypt"
)

const (
	// maxExpansion is the largest FileSize a single-unit block may claim
	// per stored byte.
	maxExpansion = 1 << 20

	// maxPrealloc caps the capacity reserved before a file's sectors have
	// been decoded; larger files grow as sectors arrive.
	maxPrealloc = 1 << 20
)

// storedFile is a block about to be decoded.
type storedFile struct {
	name     string
	block    blockTableEntryEx
	key      uint32
	keyKnown bool
}

func (f *storedFile) fail(stage Stage, sector int, err error) error {
	return &ExtractError{Name: f.name, Flags: f.block.Flags, Stage: stage, Sector: sector, Err: err}
}

// readFile decodes a stored file: it reads the stored bytes with bounded
// range reads, decrypts them and undoes their compression sector by sector.
func (a *Archive) readFile(ctx context.Context, f *storedFile) ([]byte, error) {
	b := &f.block
	if b.Flags&FilePatchFile != 0 {
		return nil, f.fail(StageRead, -1, ErrPatchFile)
	}
	if b.FileSize == 0 {
		return []byte{}, nil
	}

	size := a.r.Size()
	base := a.header.Offset + int64(b.getFilePos64())
	if base > size || int64(b.CompressedSize) > size-base {
		return nil, f.fail(StageRead, -1, fmt.Errorf("%w: %d stored bytes at 0x%X, store size %d",
			ErrRangeOutOfBounds, b.CompressedSize, base, size))
	}

	if b.Flags&FileEncrypted != 0 && !f.keyKnown {
		if err := a.detectKey(ctx, f, base); err != nil {
			return nil, err
		}
	}

	switch {
	case b.Flags&FileSingleUnit != 0:
		return a.readSingleUnit(ctx, f, base)
	case b.Flags&fileCompressMask == 0:
		return a.readPlainSectors(ctx, f, base)
	default:
		return a.readSectors(ctx, f, base)
	}
}

func (a *Archive) readSingleUnit(ctx context.Context, f *storedFile, base int64) ([]byte, error) {
	b := &f.block
	if uint64(b.FileSize) > uint64(b.CompressedSize)*maxExpansion {
		return nil, f.fail(StageRead, -1, fmt.Errorf("%w: %d plain bytes claimed for %d stored bytes",
			ErrSectorSizeMismatch, b.FileSize, b.CompressedSize))
	}
	stored, err := a.r.ReadRange(ctx, base, int(f.block.CompressedSize))
	if err != nil {
		return nil, f.fail(StageRead, -1, err)
	}
	if f.block.Flags&FileEncrypted != 0 {
		crypt.DecryptBytes(stored, f.key)
	}
	return a.decodeSector(f, stored, int(f.block.FileSize), -1)
}

// readPlainSectors reads an uncompressed sectored file. Its sectors sit back
// to back with no offset table.
func (a *Archive) readPlainSectors(ctx context.Context, f *storedFile, base int64) ([]byte, error) {
	b := &f.block
	if b.FileSize > b.CompressedSize {
		return nil, f.fail(StageRead, -1, fmt.Errorf("%w: uncompressed file of %d bytes stored in %d",
			ErrRangeOutOfBounds, b.FileSize, b.CompressedSize))
	}

	sectorSize := int(a.sectorSize)
	span := max(sectorSize, a.opts.readSize/sectorSize*sectorSize)
	out := make([]byte, 0, min(int(b.FileSize), maxPrealloc))

	for off := 0; off < int(b.FileSize); off += span {
		n := min(span, int(b.FileSize)-off)
		data, err := a.r.ReadRange(ctx, base+int64(off), n)
		if err != nil {
			return nil, f.fail(StageRead, off/sectorSize, err)
		}
		if b.Flags&FileEncrypted != 0 {
			for s := 0; s < len(data); s += sectorSize {
				crypt.DecryptBytes(data[s:min(s+sectorSize, len(data))], f.key+uint32((off+s)/sectorSize))
			}
		}
		out = append(out, data...)
	}
	return out, nil
}

// readSectors reads a compressed sectored file through its offset table.
func (a *Archive) readSectors(ctx context.Context, f *storedFile, base int64) ([]byte, error) {
	b := &f.block
	encrypted := b.Flags&FileEncrypted != 0
	sectorSize := a.sectorSize
	n := (b.FileSize + sectorSize - 1) / sectorSize

	entries := n + 1
	if b.Flags&FileSectorCRC != 0 {
		entries++
	}
	tableBytes := entries * 4
	if tableBytes > b.CompressedSize {
		return nil, f.fail(StageRead, -1, fmt.Errorf("%w: sector offset table of %d bytes in %d stored bytes",
			ErrRangeOutOfBounds, tableBytes, b.CompressedSize))
	}

	raw, err := a.r.ReadRange(ctx, base, int(tableBytes))
	if err != nil {
		return nil, f.fail(StageRead, -1, err)
	}
	if encrypted {
		crypt.DecryptBytes(raw, f.key-1)
	}
	offsets := decodeWords(raw)

	if offsets[0] != tableBytes {
		if encrypted {
			return nil, f.fail(StageDecrypt, -1, fmt.Errorf("%w: sector offset table starts with %d, want %d",
				ErrDecryptionKeyMismatch, offsets[0], tableBytes))
		}
		return nil, f.fail(StageRead, -1, fmt.Errorf("%w: sector offset table starts with %d, want %d",
			ErrRangeOutOfBounds, offsets[0], tableBytes))
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] || offsets[i] > b.CompressedSize {
			return nil, f.fail(StageRead, i-1, fmt.Errorf("%w: sector offset %d outside %d..%d",
				ErrRangeOutOfBounds, offsets[i], offsets[i-1], b.CompressedSize))
		}
	}

	var checksums []uint32
	if a.opts.verifySectors && b.Flags&FileSectorCRC != 0 {
		checksums = a.readChecksums(ctx, f, base, offsets[n], offsets[n+1], int(n))
	}

	out := make([]byte, 0, min(int(b.FileSize), maxPrealloc))
	for i := uint32(0); i < n; {
		// Group consecutive sectors into one read of at most readSize bytes.
		j := i + 1
		for j < n && int(offsets[j+1]-offsets[i]) <= a.opts.readSize {
			j++
		}

		run, err := a.r.ReadRange(ctx, base+int64(offsets[i]), int(offsets[j]-offsets[i]))
		if err != nil {
			return nil, f.fail(StageRead, int(i), err)
		}

		for k := i; k < j; k++ {
			sector := run[offsets[k]-offsets[i] : offsets[k+1]-offsets[i]]
			if encrypted {
				crypt.DecryptBytes(sector, f.key+k)
			}
			if checksums != nil && checksums[k] != 0 {
				if sum := codec.SectorChecksum(sector); sum != checksums[k] {
					return nil, f.fail(StageVerify, int(k), fmt.Errorf("%w: adler32 0x%08X, recorded 0x%08X",
						ErrChecksumMismatch, sum, checksums[k]))
				}
			}

			expected := int(min(sectorSize, b.FileSize-k*sectorSize))
			plain, err := a.decodeSector(f, sector, expected, int(k))
			if err != nil {
				return nil, err
			}
			out = append(out, plain...)
		}
		i = j
	}

	return out, nil
}

// readChecksums loads the sector checksum table stored after the last
// sector. A table that cannot be read or decoded disables verification.
func (a *Archive) readChecksums(ctx context.Context, f *storedFile, base int64, start, end uint32, sectors int) []uint32 {
	raw, err := a.r.ReadRange(ctx, base+int64(start), int(end-start))
	if err != nil {
		a.opts.logger.Debug("sector checksums unreadable", "name", f.name, "err", err)
		return nil
	}
	want := sectors * 4
	if len(raw) < want {
		raw, err = codec.Decompress(raw, want)
		if err != nil {
			a.opts.logger.Debug("sector checksums undecodable", "name", f.name, "err", err)
			return nil
		}
	}
	if len(raw) < want {
		return nil
	}
	return decodeWords(raw[:want])
}

// decodeSector turns one stored sector (or a whole single-unit file) into
// exactly expected plain bytes.
func (a *Archive) decodeSector(f *storedFile, stored []byte, expected, sector int) ([]byte, error) {
	flags := f.block.Flags
	if len(stored) >= expected {
		return stored[:expected], nil
	}

	var plain []byte
	var err error
	switch {
	case flags&FileCompress != 0:
		plain, err = codec.Decompress(stored, expected)
	case flags&FileImplode != 0:
		plain, err = codec.Explode(stored, expected)
	default:
		return nil, f.fail(StageDecompress, sector, fmt.Errorf("%w: %d stored bytes for %d plain bytes",
			ErrSectorSizeMismatch, len(stored), expected))
	}
	if err != nil {
		return nil, f.fail(StageDecompress, sector, err)
	}
	if len(plain) != expected {
		return nil, f.fail(StageDecompress, sector, fmt.Errorf("%w: decoded %d bytes, want %d",
			ErrSectorSizeMismatch, len(plain), expected))
	}
	return plain, nil
}

// detectKey recovers the key of an encrypted file opened without a name.
// Only compressed sectored files carry the offset table the key is
// recovered from.
func (a *Archive) detectKey(ctx context.Context, f *storedFile, base int64) error {
	b := &f.block
	if b.Flags&FileSingleUnit != 0 || b.Flags&fileCompressMask == 0 {
		return f.fail(StageDecrypt, -1, fmt.Errorf("%w: file name required to derive the key", ErrDecryptionKeyMismatch))
	}

	n := (b.FileSize + a.sectorSize - 1) / a.sectorSize
	entries := n + 1
	if b.Flags&FileSectorCRC != 0 {
		entries++
	}
	if b.CompressedSize < 8 {
		return f.fail(StageRead, -1, fmt.Errorf("%w: %d stored bytes", ErrRangeOutOfBounds, b.CompressedSize))
	}

	head, err := a.r.ReadRange(ctx, base, 8)
	if err != nil {
		return f.fail(StageRead, -1, err)
	}
	key, ok := crypt.DetectFileKey(head, entries*4, a.sectorSize)
	if !ok {
		return f.fail(StageDecrypt, -1, fmt.Errorf("%w: no key reproduces the sector offset table", ErrDecryptionKeyMismatch))
	}
	f.key = key
	f.keyKnown = true
	return nil
}
