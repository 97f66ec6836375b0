// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq reads MPQ (Mo'PaQ) archives without loading them whole.

MPQ is an archive format created by Blizzard Entertainment, used in games like
Diablo, StarCraft, Warcraft III and World of Warcraft. This package resolves
names through the archive's hash and block tables and decodes only the
sectors a file occupies, so a single map can be pulled out of a large
campaign while reading a small fraction of it.

# Features

  - Range-based reading over memory, memory-mapped files, io.ReaderAt and HTTP
  - Header discovery on 512-byte boundaries and through user data blocks
  - Encrypted tables and files, including key recovery for unnamed files
  - Zlib, BZip2, PKWARE implode, sparse and ADPCM sector decoding
  - A pluggable fallback for sectors the native pipeline does not decode
  - Streaming extraction of glob-selected files in file offset order

# Basic Usage

Reading an archive:

	archive, err := mpq.Open("campaign.w3n")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	f, err := archive.ExtractFile("war3campaign.w3f")
	if err != nil {
		log.Fatal(err)
	}
	if f == nil {
		log.Fatal("file not found")
	}

Streaming the files that match a pattern:

	res, err := mpq.ParseStream(ctx, rangeio.FromBytes(data), mpq.StreamOptions{
		Globs: []string{"*.w3x"},
	})

# Path Conventions

MPQ archives use backslash (\) as the path separator. Lookups are case
insensitive and forward slashes are converted, so both forms work:

	archive.HasFile("Units\\HumanUnitFunc.txt")
	archive.HasFile("units/humanunitfunc.txt")

# Errors

Header and table failures abort opening and match ErrHeaderInvalid or
ErrTableCorrupt. Per-file failures are reported as *ExtractError and leave
the archive usable. A missing file is not an error: ExtractFile returns nil.

# Limitations

  - Archives are read only
  - LZMA sectors, and Huffman sectors whose weight table is not built in,
    need a Fallback
  - HET and BET tables are ignored; the classic tables are always used
  - Incremental patch files are not applied
*/
package mpq
