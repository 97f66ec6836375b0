// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	mpq "github.com/suprsokr/mpqx"
	"github.com/suprsokr/mpqx/rangeio"
)

// PanicError is returned for a task whose extraction panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Run executes task synchronously, reporting through emit. Every outcome,
// including a panic inside the extraction, ends in a Failure or a final
// Progress with StageDone; Run never panics.
func Run(ctx context.Context, task Task, emit Emit, opts ...mpq.Option) {
	if err := run(ctx, task, emit, opts); err != nil {
		emit(&Failure{Message: err.Error()})
	}
}

func run(ctx context.Context, task Task, emit Emit, opts []mpq.Option) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	if _, err := ParseFormat(string(task.Format)); err != nil {
		return err
	}
	if len(task.Names) == 0 && len(task.Globs) == 0 {
		return errors.New("task selects no files")
	}

	// The caller keeps ownership of its buffer.
	data := bytes.Clone(task.ArchiveBytes)
	emit(&Progress{
		Stage:   StageParse,
		Message: fmt.Sprintf("parsing %d-byte %s archive", len(data), task.Format),
	})

	res, err := mpq.ParseStream(ctx, rangeio.FromBytes(data), mpq.StreamOptions{
		Globs: task.Globs,
		Names: task.Names,
		Progress: func(p rangeio.Progress) {
			emit(&Progress{Stage: StageRead, Percent: percent(p.BytesRead, p.Size)})
		},
		Options: opts,
	})
	if err != nil {
		if errors.Is(err, mpq.ErrAborted) {
			return fmt.Errorf("aborted: %w", err)
		}
		return err
	}

	for _, f := range res.Files {
		name := mpq.DisplayName(f.Name)
		emit(&Progress{Stage: StageExtract, Message: name})
		emit(&Success{Name: name, Bytes: f.Data, Source: f.Source})
	}
	for _, fail := range res.Failures {
		emit(&Failure{Name: mpq.DisplayName(fail.Name), Message: fail.Error()})
	}
	for _, name := range res.Missing {
		emit(&Failure{Name: mpq.DisplayName(name), Message: mpq.ErrFileNotFound.Error()})
	}

	emit(&Progress{
		Stage:   StageDone,
		Percent: 100,
		Message: fmt.Sprintf("extracted %d files, read %d of %d bytes", len(res.Files), res.Stats.BytesRead, res.Stats.Size),
	})
	return nil
}

func percent(n, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return min(float64(n)*100/float64(total), 100)
}
