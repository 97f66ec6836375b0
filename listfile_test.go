// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/suprsokr/mpqx/internal/mpqtest"
)

func TestParseListFile(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"crlf", "a.txt\r\nb.txt\r\n", []string{"a.txt", "b.txt"}},
		{"mixed separators", "a.txt;b.txt\nc.txt\r\r\n", []string{"a.txt", "b.txt", "c.txt"}},
		{"case-insensitive duplicates", "Units\\A.txt\r\nunits/a.TXT\r\nB.txt", []string{"Units\\A.txt", "B.txt"}},
		{"surrounding spaces", "  a.txt  \r\n\t\r\n", []string{"a.txt"}},
		{"empty", "", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseListFile([]byte(tc.data))
			if len(got) != len(tc.want) {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("name %d = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestListFilesFromArchive(t *testing.T) {
	b := mpqtest.New()
	b.Add("war3map.j", []byte("script"), mpqtest.FileOptions{})
	b.Add("war3map.w3i", []byte("info"), mpqtest.FileOptions{})
	b.Add("WAR3MAP.J", []byte("duplicate name"), mpqtest.FileOptions{Locale: 0x407})
	archive := buildArchive(t, b)

	names, err := archive.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(names) != 2 || names[0] != "war3map.j" || names[1] != "war3map.w3i" {
		t.Errorf("ListFiles = %q", names)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"war3map.j", "war3map.j"},
		{"Sound\\Música.wav", "Sound\\Música.wav"},
		{"Sound\\M\xfasica.wav", "Sound\\Música.wav"},
		{"caf\xe9", "café"},
	}
	for _, tc := range tests {
		if got := DisplayName(tc.in); got != tc.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
