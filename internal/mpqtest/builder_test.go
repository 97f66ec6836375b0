// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpqtest

import (
	"encoding/binary"
	"testing"
)

func TestBuilderHeader(t *testing.T) {
	b := New()
	b.Add("a.txt", []byte("hello"), FileOptions{})
	data := b.MustBytes()

	if binary.LittleEndian.Uint32(data) != headerMagic {
		t.Fatalf("missing header magic")
	}
	if got := binary.LittleEndian.Uint32(data[8:]); int(got) != len(data) {
		t.Errorf("archive size %d, want %d", got, len(data))
	}
	if got := binary.LittleEndian.Uint32(data[28:]); got != 2 {
		t.Errorf("block table holds %d entries, want 2 (file and listfile)", got)
	}
}

func TestBuilderUserData(t *testing.T) {
	b := New()
	b.UserData = []byte("HM3W map header")
	b.Add("a.txt", []byte("hello"), FileOptions{})
	data := b.MustBytes()

	if binary.LittleEndian.Uint32(data) != userDataMagic {
		t.Fatalf("missing user data magic")
	}
	off := binary.LittleEndian.Uint32(data[8:])
	if off%512 != 0 || binary.LittleEndian.Uint32(data[off:]) != headerMagic {
		t.Errorf("header not at aligned offset %d", off)
	}
}

func TestBuilderHashTableFull(t *testing.T) {
	b := New()
	b.HashTableSize = 2
	b.Add("a.txt", nil, FileOptions{})
	b.Add("b.txt", nil, FileOptions{})
	if _, err := b.Bytes(); err == nil {
		t.Errorf("three entries fit in a two-slot hash table")
	}
}
