// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"context"
	"fmt"
)

const (
	signatureName = "(signature)"

	weakSignatureFileSize = 72 // 8 reserved bytes and a 512-bit RSA signature
	weakSignatureSize     = 64

	strongSignatureMagic = "NGIS"
	strongSignatureSize  = 256 // 2048-bit RSA signature
)

// SignatureInfo contains the signatures an archive carries. Verification
// needs the game's public keys and is left to the caller.
type SignatureInfo struct {
	// Weak is the signature stored in the (signature) file.
	Weak []byte

	// Strong is the signature appended directly after the archive.
	Strong []byte
}

// ReadSignature reads the weak and strong signatures if present.
// Returns nil if the archive carries neither.
func (a *Archive) ReadSignature() (*SignatureInfo, error) {
	ctx := context.Background()
	info := &SignatureInfo{}

	f, err := a.ExtractFileContext(ctx, signatureName)
	if err != nil {
		return nil, fmt.Errorf("read weak signature: %w", err)
	}
	if f != nil {
		if len(f.Data) < weakSignatureFileSize {
			return nil, fmt.Errorf("weak signature too small: %d bytes", len(f.Data))
		}
		info.Weak = f.Data[8 : 8+weakSignatureSize]
	}

	end := a.header.Offset + int64(a.header.declaredSize())
	if trailer := int64(len(strongSignatureMagic) + strongSignatureSize); a.header.declaredSize() != 0 && end <= a.r.Size()-trailer {
		b, err := a.r.ReadRange(ctx, end, int(trailer))
		if err != nil {
			return nil, fmt.Errorf("read strong signature: %w", err)
		}
		if string(b[:len(strongSignatureMagic)]) == strongSignatureMagic {
			info.Strong = b[len(strongSignatureMagic):]
		}
	}

	if info.Weak == nil && info.Strong == nil {
		return nil, nil
	}
	return info, nil
}
