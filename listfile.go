// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/suprsokr/mpqx/crypt"
)

const listFileName = "(listfile)"

// ListFiles returns the names recorded in the archive's (listfile), in
// listfile order with case-insensitive duplicates removed. An archive
// without a listfile yields an empty list.
func (a *Archive) ListFiles() ([]string, error) {
	return a.listFiles(context.Background())
}

func (a *Archive) listFiles(ctx context.Context) ([]string, error) {
	f, err := a.ExtractFileContext(ctx, listFileName)
	if err != nil {
		return nil, fmt.Errorf("read listfile: %w", err)
	}
	if f == nil {
		return []string{}, nil
	}
	return parseListFile(f.Data), nil
}

// Files returns the listfile names the archive actually resolves.
func (a *Archive) Files() ([]string, error) {
	names, err := a.ListFiles()
	if err != nil {
		return nil, err
	}
	present := names[:0]
	for _, name := range names {
		if a.HasFile(name) {
			present = append(present, name)
		}
	}
	return present, nil
}

// parseListFile splits listfile content on CR, LF and semicolons.
func parseListFile(data []byte) []string {
	fields := bytes.FieldsFunc(data, func(r rune) bool {
		return r == '\r' || r == '\n' || r == ';'
	})

	seen := make(map[string]struct{}, len(fields))
	names := make([]string, 0, len(fields))
	for _, field := range fields {
		name := strings.TrimSpace(string(field))
		if name == "" {
			continue
		}
		key := crypt.Normalize(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names
}

// DisplayName returns name as valid UTF-8. Older archives record names in
// the Windows-1252 code page; those are converted.
func DisplayName(name string) string {
	if utf8.ValidString(name) {
		return name
	}
	decoded, err := charmap.Windows1252.NewDecoder().String(name)
	if err != nil {
		return strings.ToValidUTF8(name, "�")
	}
	return decoded
}
