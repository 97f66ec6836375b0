// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package worker runs archive extraction tasks for a host that distributes
// work across goroutines. A task carries its own copy of the archive bytes;
// buffers are never shared between tasks.
package worker

import (
	"fmt"
	"strings"

	mpq "github.com/suprsokr/mpqx"
)

// Format names the container a task's bytes hold. Every supported format is
// an MPQ archive under a game-specific extension.
type Format string

const (
	FormatMPQ    Format = "mpq"
	FormatW3M    Format = "w3m"    // Warcraft III map
	FormatW3X    Format = "w3x"    // Warcraft III expansion map
	FormatW3N    Format = "w3n"    // Warcraft III campaign
	FormatSC2Map Format = "sc2map" // StarCraft II map
)

// ParseFormat returns the format for a name such as "W3X" or ".w3x".
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(s, ".")))
	switch f {
	case FormatMPQ, FormatW3M, FormatW3X, FormatW3N, FormatSC2Map:
		return f, nil
	}
	return "", fmt.Errorf("unsupported archive format %q", s)
}

// Task asks for the files matching Names or Globs from one archive.
type Task struct {
	ID           string
	ArchiveBytes []byte
	Names        []string
	Globs        []string
	Format       Format
}

// Response is delivered to an Emit callback: *Progress, *Success or *Failure.
type Response interface {
	response()
}

// Stages reported in Progress.
const (
	StageParse   = "parse"
	StageRead    = "read"
	StageExtract = "extract"
	StageDone    = "done"
)

// Progress reports how far a task has come. Percent is in [0, 100].
type Progress struct {
	Stage   string
	Percent float64
	Message string
}

// Success carries one extracted file.
type Success struct {
	Name   string
	Bytes  []byte
	Source mpq.Source
}

// Failure reports a file that could not be extracted, or with an empty Name,
// a task that failed as a whole.
type Failure struct {
	Name    string
	Message string
}

func (*Progress) response() {}
func (*Success) response()  {}
func (*Failure) response()  {}

// Emit receives a task's responses in order. It is called from the goroutine
// running the task.
type Emit func(Response)
