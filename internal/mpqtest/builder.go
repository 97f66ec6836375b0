// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package mpqtest builds synthetic archives in memory for tests.
package mpqtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/suprsokr/mpqx/codec"
	"github.com/suprsokr/mpqx/crypt"
)

// Block flags, mirrored here so the builder does not depend on the reader.
const (
	FlagImplode      uint32 = 0x00000100
	FlagCompress     uint32 = 0x00000200
	FlagEncrypted    uint32 = 0x00010000
	FlagFixKey       uint32 = 0x00020000
	FlagPatchFile    uint32 = 0x00100000
	FlagSingleUnit   uint32 = 0x01000000
	FlagDeleteMarker uint32 = 0x02000000
	FlagSectorCRC    uint32 = 0x04000000
	FlagExists       uint32 = 0x80000000
)

const (
	headerMagic   = 0x1A51504D
	userDataMagic = 0x1B51504D

	headerSizeV1 = 0x20
	headerSizeV2 = 0x2C

	hashTableEmpty   = 0xFFFFFFFF
	hashTableDeleted = 0xFFFFFFFE

	attributesVersion   = 100
	attributesFlagCRC32 = 0x00000001
)

// FileOptions controls how one file is stored.
type FileOptions struct {
	Compress   bool   // zlib per sector (or per file when SingleUnit)
	Encrypt    bool   // encrypt sectors and the sector offset table
	FixKey     bool   // adjust the key by block position and size
	SingleUnit bool   // store as one unit instead of sectors
	SectorCRC  bool   // append a sector checksum table (compressed sectored files)
	Locale     uint16 // hash entry locale
	Missing    bool   // block entry lacks the exists flag
	Extra      uint32 // flags OR'd into the block entry

	// KeyName, when set, derives the encryption key from this name instead
	// of the stored name.
	KeyName string

	// ForceMask stores every sector as this mask byte followed by the first
	// half of the plain sector. It fabricates sectors the reader must reject.
	ForceMask byte
}

type file struct {
	name string
	data []byte
	opts FileOptions

	raw      []byte
	rawSize  uint32
	rawFlags uint32
	isRaw    bool
}

// Builder assembles an archive. The zero value builds a V1 archive with
// 4 KiB sectors and no listfile.
type Builder struct {
	FormatVersion   uint16 // 0 (V1) or 1 (V2)
	SectorSizeShift uint16 // sector size is 512 << SectorSizeShift
	HashTableSize   uint32 // power of two; 0 sizes the table from the file count

	Prefix   []byte // bytes placed before the archive
	UserData []byte // when non-nil, a user data block precedes the header

	ListFile     bool // add a (listfile) naming every added file
	Attributes   bool // add an (attributes) file with CRC32 values
	HiBlockTable bool // write a V2 hi-block table

	files   []file
	deleted []string
}

// New returns a Builder with the defaults archive writers use: 4 KiB sectors
// and a listfile.
func New() *Builder {
	return &Builder{SectorSizeShift: 3, ListFile: true}
}

// Add stores data under name.
func (b *Builder) Add(name string, data []byte, opts FileOptions) {
	b.files = append(b.files, file{name: name, data: data, opts: opts})
}

// AddRaw stores a caller-encoded payload. flags are used verbatim.
func (b *Builder) AddRaw(name string, stored []byte, fileSize, flags uint32) {
	b.files = append(b.files, file{name: name, raw: stored, rawSize: fileSize, rawFlags: flags, isRaw: true})
}

// AddDeleted places a deleted hash slot for name ahead of any live entries.
func (b *Builder) AddDeleted(name string) {
	b.deleted = append(b.deleted, name)
}

// Zlib returns a masked zlib sector for data.
func Zlib(data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(codec.Zlib)
	w := zlib.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

type block struct {
	pos, compressedSize, fileSize, flags uint32
}

// Bytes builds the archive.
func (b *Builder) Bytes() ([]byte, error) {
	files := append([]file(nil), b.files...)
	if b.ListFile {
		var names []string
		for _, f := range files {
			names = append(names, f.name)
		}
		listFile := strings.Join(names, "\r\n")
		if listFile != "" {
			listFile += "\r\n"
		}
		files = append(files, file{name: "(listfile)", data: []byte(listFile), opts: FileOptions{Compress: true}})
	}

	headerSize := uint32(headerSizeV1)
	if b.FormatVersion >= 1 {
		headerSize = headerSizeV2
	}
	sectorSize := uint32(512) << b.SectorSizeShift

	hashSize := b.HashTableSize
	if hashSize == 0 {
		hashSize = nextPowerOf2(uint32(len(files)+len(b.deleted)+1) * 2)
		if hashSize < 16 {
			hashSize = 16
		}
	}

	body := make([]byte, headerSize)
	var blocks []block
	var plains [][]byte

	for _, f := range files {
		pos := uint32(len(body))
		if f.isRaw {
			body = append(body, f.raw...)
			blocks = append(blocks, block{pos, uint32(len(f.raw)), f.rawSize, f.rawFlags})
			plains = append(plains, nil)
			continue
		}
		stored, flags := encodeFile(f, pos, sectorSize)
		body = append(body, stored...)
		blocks = append(blocks, block{pos, uint32(len(stored)), uint32(len(f.data)), flags})
		plains = append(plains, f.data)
	}

	if b.Attributes {
		files = append(files, file{name: "(attributes)"})
		count := len(blocks) + 1
		attrs := make([]byte, 8+count*4)
		binary.LittleEndian.PutUint32(attrs[0:], attributesVersion)
		binary.LittleEndian.PutUint32(attrs[4:], attributesFlagCRC32)
		for i, plain := range plains {
			if plain != nil {
				binary.LittleEndian.PutUint32(attrs[8+i*4:], crc32.ChecksumIEEE(plain))
			}
		}
		pos := uint32(len(body))
		body = append(body, attrs...)
		blocks = append(blocks, block{pos, uint32(len(attrs)), uint32(len(attrs)), FlagExists | FlagSingleUnit})
	}

	// Hash table: tombstones first so lookups have to step past them.
	hashTable := make([]uint32, hashSize*4)
	for i := range hashTable {
		hashTable[i] = hashTableEmpty
	}
	for _, name := range b.deleted {
		if err := insertHash(hashTable, name, 0, hashTableDeleted); err != nil {
			return nil, err
		}
	}
	for i, f := range files {
		if err := insertHash(hashTable, f.name, f.opts.Locale, uint32(i)); err != nil {
			return nil, err
		}
	}
	crypt.EncryptWords(hashTable, crypt.HashTableKey)

	blockTable := make([]uint32, len(blocks)*4)
	for i, bl := range blocks {
		blockTable[i*4] = bl.pos
		blockTable[i*4+1] = bl.compressedSize
		blockTable[i*4+2] = bl.fileSize
		blockTable[i*4+3] = bl.flags
	}
	crypt.EncryptWords(blockTable, crypt.BlockTableKey)

	hashPos := uint32(len(body))
	body = appendWords(body, hashTable)
	blockPos := uint32(len(body))
	body = appendWords(body, blockTable)

	var hiPos uint64
	if b.FormatVersion >= 1 && b.HiBlockTable {
		hiPos = uint64(len(body))
		body = append(body, make([]byte, len(blocks)*2)...)
	}

	h := body[:headerSize]
	binary.LittleEndian.PutUint32(h[0:], headerMagic)
	binary.LittleEndian.PutUint32(h[4:], headerSize)
	binary.LittleEndian.PutUint32(h[8:], uint32(len(body)))
	binary.LittleEndian.PutUint16(h[12:], b.FormatVersion)
	binary.LittleEndian.PutUint16(h[14:], b.SectorSizeShift)
	binary.LittleEndian.PutUint32(h[16:], hashPos)
	binary.LittleEndian.PutUint32(h[20:], blockPos)
	binary.LittleEndian.PutUint32(h[24:], hashSize)
	binary.LittleEndian.PutUint32(h[28:], uint32(len(blocks)))
	if headerSize >= headerSizeV2 {
		binary.LittleEndian.PutUint64(h[32:], hiPos)
	}

	out := append([]byte(nil), b.Prefix...)
	if b.UserData != nil {
		headerOffset := alignUp(16+len(b.UserData), 512)
		ud := make([]byte, headerOffset)
		binary.LittleEndian.PutUint32(ud[0:], userDataMagic)
		binary.LittleEndian.PutUint32(ud[4:], uint32(len(b.UserData)))
		binary.LittleEndian.PutUint32(ud[8:], uint32(headerOffset))
		binary.LittleEndian.PutUint32(ud[12:], 16)
		copy(ud[16:], b.UserData)
		out = append(out, ud...)
	}
	return append(out, body...), nil
}

// MustBytes is Bytes for table-driven tests.
func (b *Builder) MustBytes() []byte {
	data, err := b.Bytes()
	if err != nil {
		panic(err)
	}
	return data
}

// encodeFile lays out one file the way archive writers store it.
func encodeFile(f file, pos, sectorSize uint32) ([]byte, uint32) {
	opts := f.opts
	flags := FlagExists | opts.Extra
	if opts.Missing {
		flags &^= FlagExists
	}
	if opts.Compress || opts.ForceMask != 0 {
		flags |= FlagCompress
	}
	if opts.Encrypt {
		flags |= FlagEncrypted
		if opts.FixKey {
			flags |= FlagFixKey
		}
	}

	fileSize := uint32(len(f.data))
	keyName := f.name
	if opts.KeyName != "" {
		keyName = opts.KeyName
	}
	key := crypt.FileKey(keyName, uint64(pos), fileSize, opts.FixKey)

	if len(f.data) == 0 {
		if opts.SingleUnit {
			flags |= FlagSingleUnit
		}
		return nil, flags
	}

	if opts.SingleUnit {
		flags |= FlagSingleUnit
		stored := encodeSector(f.data, opts)
		if opts.Encrypt {
			crypt.EncryptBytes(stored, key)
		}
		return stored, flags
	}

	if flags&FlagCompress == 0 {
		stored := append([]byte(nil), f.data...)
		if opts.Encrypt {
			for i, off := uint32(0), uint32(0); off < fileSize; i, off = i+1, off+sectorSize {
				crypt.EncryptBytes(stored[off:min(off+sectorSize, fileSize)], key+i)
			}
		}
		return stored, flags
	}

	n := (fileSize + sectorSize - 1) / sectorSize
	entries := n + 1
	if opts.SectorCRC {
		flags |= FlagSectorCRC
		entries++
	}

	offsets := make([]uint32, entries)
	offsets[0] = entries * 4
	var data []byte
	var checksums []uint32
	for i := uint32(0); i < n; i++ {
		plain := f.data[i*sectorSize : min((i+1)*sectorSize, fileSize)]
		sector := encodeSector(plain, opts)
		checksums = append(checksums, codec.SectorChecksum(sector))
		if opts.Encrypt {
			crypt.EncryptBytes(sector, key+i)
		}
		data = append(data, sector...)
		offsets[i+1] = offsets[0] + uint32(len(data))
	}
	if opts.SectorCRC {
		data = appendWords(data, checksums)
		offsets[n+1] = offsets[0] + uint32(len(data))
	}

	if opts.Encrypt {
		crypt.EncryptWords(offsets, key-1)
	}
	return append(appendWords(nil, offsets), data...), flags
}

// encodeSector compresses one sector when that makes it smaller.
func encodeSector(plain []byte, opts FileOptions) []byte {
	if opts.ForceMask != 0 {
		out := []byte{opts.ForceMask}
		return append(out, plain[:max(1, len(plain)/2)]...)
	}
	if opts.Compress {
		if c := Zlib(plain); len(c) < len(plain) {
			return c
		}
	}
	return append([]byte(nil), plain...)
}

// insertHash places an entry at the first free slot of the lookup sequence.
func insertHash(table []uint32, name string, locale uint16, blockIndex uint32) error {
	size := uint32(len(table) / 4)
	offset, a, b := crypt.NameHashes(name)
	for i := uint32(0); i < size; i++ {
		idx := (offset + i) % size
		if table[idx*4+3] == hashTableEmpty {
			table[idx*4] = a
			table[idx*4+1] = b
			table[idx*4+2] = uint32(locale)
			table[idx*4+3] = blockIndex
			return nil
		}
	}
	return fmt.Errorf("hash table full adding %s", name)
}

func appendWords(dst []byte, words []uint32) []byte {
	for _, w := range words {
		dst = binary.LittleEndian.AppendUint32(dst, w)
	}
	return dst
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
