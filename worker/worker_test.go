// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mpq "github.com/suprsokr/mpqx"
	"github.com/suprsokr/mpqx/codec"
	"github.com/suprsokr/mpqx/internal/mpqtest"
)

var script = []byte(strings.Repeat("call InitBlizzard()\r\n", 400))

func testArchive(t testing.TB) []byte {
	t.Helper()
	b := mpqtest.New()
	b.Add("war3map.j", script, mpqtest.FileOptions{Compress: true, Encrypt: true})
	b.Add("war3map.w3i", []byte("map info"), mpqtest.FileOptions{Compress: true})
	b.Add("Sound\\Music.wav", []byte(strings.Repeat("pcm", 3000)), mpqtest.FileOptions{ForceMask: codec.LZMA})
	data, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type recorder struct {
	mu        sync.Mutex
	responses []Response
}

func (r *recorder) emit(resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
}

func (r *recorder) snapshot() (successes []*Success, failures []*Failure, last Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, resp := range r.responses {
		switch v := resp.(type) {
		case *Success:
			successes = append(successes, v)
		case *Failure:
			failures = append(failures, v)
		}
	}
	if n := len(r.responses); n > 0 {
		last = r.responses[n-1]
	}
	return successes, failures, last
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"mpq", "W3X", ".w3m", "w3n", "SC2Map"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("zip"); err == nil {
		t.Errorf("ParseFormat(zip) succeeded")
	}
}

func TestRun(t *testing.T) {
	var rec recorder
	Run(context.Background(), Task{
		ArchiveBytes: testArchive(t),
		Globs:        []string{"*.j", "*.w3i"},
		Names:        []string{"war3map.doo"},
		Format:       FormatW3X,
	}, rec.emit)

	successes, failures, last := rec.snapshot()
	if len(successes) != 2 {
		t.Fatalf("got %d successes, want 2", len(successes))
	}
	if successes[0].Name != "war3map.j" || string(successes[0].Bytes) != string(script) {
		t.Errorf("first success = %s (%d bytes)", successes[0].Name, len(successes[0].Bytes))
	}
	if successes[0].Source != mpq.SourceNative {
		t.Errorf("Source = %v, want native", successes[0].Source)
	}
	if len(failures) != 1 || failures[0].Name != "war3map.doo" {
		t.Errorf("failures = %+v, want war3map.doo not found", failures)
	}

	done, ok := last.(*Progress)
	if !ok || done.Stage != StageDone || done.Percent != 100 {
		t.Errorf("last response = %+v, want done progress", last)
	}
}

func TestRunCopiesInput(t *testing.T) {
	data := testArchive(t)

	var rec recorder
	Run(context.Background(), Task{ArchiveBytes: data, Names: []string{"war3map.j"}, Format: FormatMPQ},
		func(r Response) {
			// Scribbling over the caller's buffer mid-task must not reach the
			// worker's copy.
			clear(data)
			rec.emit(r)
		})

	successes, failures, _ := rec.snapshot()
	if len(failures) != 0 {
		t.Fatalf("failures: %+v", failures)
	}
	if len(successes) != 1 || string(successes[0].Bytes) != string(script) {
		t.Errorf("extraction affected by caller writes")
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		message string
	}{
		{"format", Task{ArchiveBytes: []byte("PK"), Globs: []string{"*"}, Format: "zip"}, "unsupported archive format"},
		{"no selection", Task{Format: FormatMPQ}, "selects no files"},
		{"not an archive", Task{ArchiveBytes: []byte("not an mpq"), Globs: []string{"*"}, Format: FormatMPQ}, "header"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var rec recorder
			Run(context.Background(), tc.task, rec.emit)
			_, failures, last := rec.snapshot()
			if len(failures) != 1 || failures[0].Name != "" || !strings.Contains(failures[0].Message, tc.message) {
				t.Fatalf("failures = %+v, want one task failure mentioning %q", failures, tc.message)
			}
			if last != failures[0] {
				t.Errorf("task failure is not the last response")
			}
		})
	}
}

func TestRunAborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec recorder
	Run(ctx, Task{ArchiveBytes: testArchive(t), Globs: []string{"*"}, Format: FormatMPQ}, rec.emit)

	_, failures, _ := rec.snapshot()
	if len(failures) != 1 || !strings.HasPrefix(failures[0].Message, "aborted") {
		t.Errorf("failures = %+v, want an aborted task", failures)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	fb := mpq.FallbackFunc(func(context.Context, []byte, string) ([]byte, error) {
		panic("decoder crashed")
	})

	var rec recorder
	Run(context.Background(), Task{
		ArchiveBytes: testArchive(t),
		Names:        []string{"Sound\\Music.wav"},
		Format:       FormatW3M,
	}, rec.emit, mpq.WithFallback(fb))

	_, failures, _ := rec.snapshot()
	if len(failures) != 1 || !strings.Contains(failures[0].Message, "decoder crashed") {
		t.Errorf("failures = %+v, want the recovered panic", failures)
	}
}

func TestRunFallback(t *testing.T) {
	fb := mpq.FallbackFunc(func(_ context.Context, archive []byte, name string) ([]byte, error) {
		return []byte("decoded " + name), nil
	})

	var rec recorder
	Run(context.Background(), Task{
		ArchiveBytes: testArchive(t),
		Globs:        []string{"*.wav"},
		Format:       FormatW3M,
	}, rec.emit, mpq.WithFallback(fb))

	successes, failures, _ := rec.snapshot()
	if len(failures) != 0 || len(successes) != 1 {
		t.Fatalf("successes %+v, failures %+v", successes, failures)
	}
	if successes[0].Source != mpq.SourceFallback {
		t.Errorf("Source = %v, want fallback", successes[0].Source)
	}
}

func TestPoolRunsTasks(t *testing.T) {
	pool := NewPool(Config{Workers: 3})
	defer pool.Close()
	data := testArchive(t)

	recs := make([]*recorder, 8)
	dones := make([]<-chan struct{}, len(recs))
	for i := range recs {
		recs[i] = &recorder{}
		done, err := pool.Submit(context.Background(), Task{
			ArchiveBytes: data,
			Globs:        []string{"*.j"},
			Format:       FormatW3X,
		}, recs[i].emit)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		dones[i] = done
	}

	for i, done := range dones {
		<-done
		successes, failures, _ := recs[i].snapshot()
		if len(failures) != 0 || len(successes) != 1 || string(successes[0].Bytes) != string(script) {
			t.Errorf("task %d: successes %d failures %+v", i, len(successes), failures)
		}
	}
}

func TestPoolTimeoutIsolation(t *testing.T) {
	pool := NewPool(Config{Workers: 1, Timeout: 50 * time.Millisecond})
	defer pool.Close()

	release := make(chan struct{})
	finished := make(chan struct{})
	pool.run = func(ctx context.Context, task Task, emit Emit, opts []mpq.Option) error {
		if task.ID == "hang" {
			<-release
			emit(&Progress{Stage: StageDone, Message: "late"})
			close(finished)
			return nil
		}
		return run(ctx, task, emit, opts)
	}

	var hung recorder
	done, err := pool.Submit(context.Background(), Task{ID: "hang", Format: FormatMPQ}, hung.emit)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hung task was not abandoned")
	}

	_, failures, _ := hung.snapshot()
	if len(failures) != 1 || !strings.Contains(failures[0].Message, "timed out") {
		t.Fatalf("hung task failures = %+v, want a timeout", failures)
	}

	// The slot is free again.
	var next recorder
	done, err = pool.Submit(context.Background(), Task{
		ArchiveBytes: testArchive(t),
		Names:        []string{"war3map.w3i"},
		Format:       FormatW3X,
	}, next.emit)
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if successes, failures, _ := next.snapshot(); len(successes) != 1 || len(failures) != 0 {
		t.Errorf("task after timeout: successes %d failures %+v", len(successes), failures)
	}

	close(release)
	<-finished
	hung.mu.Lock()
	n := len(hung.responses)
	hung.mu.Unlock()
	if n != 1 {
		t.Errorf("abandoned task emitted %d responses, want only the timeout", n)
	}
}

func TestPoolReportsPanics(t *testing.T) {
	pool := NewPool(Config{})
	defer pool.Close()
	pool.run = func(context.Context, Task, Emit, []mpq.Option) error {
		return &PanicError{Value: "boom"}
	}

	var rec recorder
	done, err := pool.Submit(context.Background(), Task{}, rec.emit)
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if _, failures, _ := rec.snapshot(); len(failures) != 1 || !strings.Contains(failures[0].Message, "boom") {
		t.Errorf("failures = %+v", failures)
	}
}

func TestPoolClosed(t *testing.T) {
	pool := NewPool(Config{Workers: 2})
	pool.Close()
	pool.Close()

	if _, err := pool.Submit(context.Background(), Task{}, func(Response) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Close: %v", err)
	}
}
