// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"

	"github.com/suprsokr/mpqx/codec"
	"github.com/suprsokr/mpqx/rangeio"
)

var (
	// ErrHeaderInvalid reports a bad signature, version or sector size.
	ErrHeaderInvalid = errors.New("invalid archive header")

	// ErrTableCorrupt reports hash or block table geometry that cannot be trusted.
	ErrTableCorrupt = errors.New("corrupt archive table")

	// ErrUnsupportedCodec reports a sector compression that is not decoded natively.
	ErrUnsupportedCodec = codec.ErrUnsupported

	// ErrDecryptionKeyMismatch reports an encrypted file that did not decrypt
	// to a plausible sector offset table.
	ErrDecryptionKeyMismatch = errors.New("decryption key mismatch")

	// ErrSectorSizeMismatch reports a sector whose decoded length differs
	// from the length the block table implies.
	ErrSectorSizeMismatch = errors.New("sector size mismatch")

	// ErrRangeOutOfBounds reports a computed read beyond the backing store
	// or beyond the file's stored extent.
	ErrRangeOutOfBounds = rangeio.ErrOutOfBounds

	// ErrChecksumMismatch reports a sector or file checksum failure.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrAborted reports a read cancelled through its context.
	ErrAborted = rangeio.ErrAborted

	// ErrPatchFile reports an incremental patch file, which has no standalone content.
	ErrPatchFile = errors.New("patch files are not supported")

	// ErrFileNotFound is returned by operations that require the file to exist.
	// ExtractFile reports a missing file with a nil result instead.
	ErrFileNotFound = errors.New("file not found")

	// ErrClosed is returned by operations on a closed archive.
	ErrClosed = errors.New("archive closed")
)

// ParseError reports the first structural invariant an archive violates.
// It matches its Kind (ErrHeaderInvalid or ErrTableCorrupt) with errors.Is.
type ParseError struct {
	Kind      error
	Invariant string
	Offset    int64
	Err       error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse archive: %v: %s", e.Kind, e.Invariant)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Is(target error) bool { return target == e.Kind }

func (e *ParseError) Unwrap() error { return e.Err }

func headerInvalid(offset int64, format string, args ...any) *ParseError {
	return &ParseError{Kind: ErrHeaderInvalid, Invariant: fmt.Sprintf(format, args...), Offset: offset}
}

func tableCorrupt(offset int64, format string, args ...any) *ParseError {
	return &ParseError{Kind: ErrTableCorrupt, Invariant: fmt.Sprintf(format, args...), Offset: offset}
}

// Stage names the step of file extraction that failed.
type Stage string

const (
	StageRead       Stage = "read"
	StageDecrypt    Stage = "decrypt"
	StageDecompress Stage = "decompress"
	StageVerify     Stage = "verify"
	StageFallback   Stage = "fallback"
)

// ExtractError reports a failure to extract one file. The archive stays
// usable for other files.
type ExtractError struct {
	Name   string
	Flags  uint32
	Stage  Stage
	Sector int // -1 when the failure is not tied to a sector
	Err    error
}

func (e *ExtractError) Error() string {
	if e.Sector >= 0 {
		return fmt.Sprintf("extract %s (flags 0x%08X): %s sector %d: %v", e.Name, e.Flags, e.Stage, e.Sector, e.Err)
	}
	return fmt.Sprintf("extract %s (flags 0x%08X): %s: %v", e.Name, e.Flags, e.Stage, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }
