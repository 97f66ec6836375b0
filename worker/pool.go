// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	mpq "github.com/suprsokr/mpqx"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Config configures a Pool.
type Config struct {
	Workers int           // concurrent tasks; defaults to 1
	Timeout time.Duration // per-task limit; zero means none
	Logger  *slog.Logger  // defaults to discarding
	Options []mpq.Option  // applied to every archive
}

type job struct {
	task Task
	emit Emit
	done chan struct{}
}

// Pool runs tasks on a fixed number of goroutines. A task that times out is
// abandoned: it receives no further emits and its slot takes the next task
// immediately.
type Pool struct {
	cfg  Config
	log  *slog.Logger
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	// run executes one task; replaced in tests.
	run func(ctx context.Context, task Task, emit Emit, opts []mpq.Option) error
}

// NewPool starts cfg.Workers goroutines.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	p := &Pool{
		cfg:  cfg,
		log:  log,
		jobs: make(chan job),
		run:  run,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	return p
}

// Submit queues task and returns a channel closed once the task has finished
// or been abandoned. It blocks until a worker accepts the task or ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task, emit Emit) (<-chan struct{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	j := job{task: task, emit: emit, done: make(chan struct{})}
	select {
	case p.jobs <- j:
		return j.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting tasks and waits for the workers to finish the ones
// they hold. Abandoned tasks are not waited for.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.handle(id, j)
		close(j.done)
	}
}

func (p *Pool) handle(id int, j job) {
	log := p.log.With("worker", id, "task", j.task.ID, "format", j.task.Format)
	start := time.Now()
	log.Debug("task started", "size", len(j.task.ArchiveBytes))

	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if p.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	}
	defer cancel()

	// Emits stop at the first terminal outcome seen by this slot, so an
	// abandoned task cannot write after its timeout was reported.
	var mu sync.Mutex
	abandoned := false
	emit := func(r Response) {
		mu.Lock()
		defer mu.Unlock()
		if !abandoned {
			j.emit(r)
		}
	}

	result := make(chan error, 1)
	go func() {
		result <- p.run(ctx, j.task, emit, p.cfg.Options)
	}()

	select {
	case err := <-result:
		var pe *PanicError
		switch {
		case errors.As(err, &pe):
			log.Error("task panicked", "panic", pe.Value, "stack", string(pe.Stack))
			emit(&Failure{Message: err.Error()})
		case err != nil:
			log.Warn("task failed", "err", err, "elapsed", time.Since(start))
			emit(&Failure{Message: err.Error()})
		default:
			log.Debug("task finished", "elapsed", time.Since(start))
		}
	case <-ctx.Done():
		mu.Lock()
		abandoned = true
		mu.Unlock()
		log.Warn("task timed out", "timeout", p.cfg.Timeout)
		j.emit(&Failure{Message: "task timed out after " + p.cfg.Timeout.String()})
	}
}
