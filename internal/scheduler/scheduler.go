// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler serializes capture jobs per camera under a global concurrency
// ceiling.
//
// Each key owns a FIFO queue and runs at most one job at a time. A queued job waits
// at most WaitTimeout for a slot; once started it runs to completion regardless of
// the caller. Dispatch is a loop executed under the scheduler mutex after every
// submit and every completion.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/metrics"
)

var (
	// ErrQueueTimeout is returned when a job did not start within the wait timeout.
	ErrQueueTimeout = errors.New("timed out waiting for a capture slot")
	// ErrQueueFull is returned when the key's queue is at capacity.
	ErrQueueFull = errors.New("capture queue full")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("scheduler closed")
	// ErrPanic wraps a recovered job panic.
	ErrPanic = errors.New("capture job panicked")
)

// WorkFunc is the body of a job. ctx is detached from the submitting caller.
type WorkFunc func(ctx context.Context) error

// Config bounds the scheduler.
type Config struct {
	MaxConcurrent  int
	MaxQueuePerKey int // 0 means unbounded
	WaitTimeout    time.Duration
}

type jobState int

const (
	jobQueued jobState = iota
	jobRunning
	jobDone
)

type job struct {
	id       string
	key      string
	seq      uint64
	ctx      context.Context
	work     WorkFunc
	enqueued time.Time
	state    jobState
	timer    *time.Timer
	done     chan error
}

type keyState struct {
	queue   []*job
	running bool
}

// Scheduler runs jobs. The zero value is not usable; use New.
type Scheduler struct {
	cfg Config

	mu     sync.Mutex
	keys   map[string]*keyState
	active int
	queued int
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

// New returns a scheduler. MaxConcurrent below 1 is treated as 1.
func New(cfg Config) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Scheduler{cfg: cfg, keys: make(map[string]*keyState)}
}

// Do enqueues work under key and blocks until it finishes or the caller gives up.
// If ctx ends while the job is queued, the job is dropped. If ctx ends while it
// runs, Do returns ctx.Err() and the job still runs to completion.
func (s *Scheduler) Do(ctx context.Context, key string, work WorkFunc) error {
	j, err := s.submit(ctx, key, work)
	if err != nil {
		return err
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if s.dequeue(j) {
			metrics.RecordSchedulerReject("canceled")
		}
		return ctx.Err()
	}
}

func (s *Scheduler) submit(ctx context.Context, key string, work WorkFunc) (*job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	jobCtx := log.ContextWithJobID(context.WithoutCancel(ctx), id)
	logger := log.WithComponentFromContext(jobCtx, "scheduler")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		metrics.RecordSchedulerReject("closed")
		return nil, ErrClosed
	}
	ks := s.keys[key]
	if ks == nil {
		ks = &keyState{}
		s.keys[key] = ks
	}
	if s.cfg.MaxQueuePerKey > 0 && len(ks.queue) >= s.cfg.MaxQueuePerKey {
		metrics.RecordSchedulerReject("queue_full")
		logger.Warn().
			Str("event", "scheduler.queue_full").
			Str("key", key).
			Int("depth", len(ks.queue)).
			Msg("rejecting capture, queue at capacity")
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, key)
	}

	s.seq++
	j := &job{
		id:       id,
		key:      key,
		seq:      s.seq,
		ctx:      jobCtx,
		work:     work,
		enqueued: time.Now(),
		done:     make(chan error, 1),
	}
	if s.cfg.WaitTimeout > 0 {
		j.timer = time.AfterFunc(s.cfg.WaitTimeout, func() { s.expire(j) })
	}
	ks.queue = append(ks.queue, j)
	s.queued++

	logger.Debug().
		Str("event", "scheduler.enqueued").
		Str("key", key).
		Int("depth", len(ks.queue)).
		Msg("capture queued")

	s.dispatchLocked()
	return j, nil
}

// dispatchLocked starts queued heads, oldest first, until the ceiling is reached.
func (s *Scheduler) dispatchLocked() {
	for s.active < s.cfg.MaxConcurrent {
		var next *job
		for _, ks := range s.keys {
			if ks.running || len(ks.queue) == 0 {
				continue
			}
			if head := ks.queue[0]; next == nil || head.seq < next.seq {
				next = head
			}
		}
		if next == nil {
			break
		}
		s.startLocked(next)
	}
	metrics.SetSchedulerLoad(s.active, s.queued)
}

func (s *Scheduler) startLocked(j *job) {
	ks := s.keys[j.key]
	ks.queue = ks.queue[1:]
	ks.running = true
	s.queued--
	s.active++
	j.state = jobRunning
	if j.timer != nil {
		j.timer.Stop()
	}

	wait := time.Since(j.enqueued)
	metrics.ObserveSchedulerWait(wait)

	s.wg.Add(1)
	go s.run(j, wait)
}

func (s *Scheduler) run(j *job, wait time.Duration) {
	defer s.wg.Done()

	logger := log.WithComponentFromContext(j.ctx, "scheduler")
	logger.Debug().
		Str("event", "scheduler.started").
		Str("key", j.key).
		Dur("waited", wait).
		Msg("capture started")

	err := s.invoke(j)

	s.mu.Lock()
	j.state = jobDone
	ks := s.keys[j.key]
	ks.running = false
	s.active--
	if len(ks.queue) == 0 {
		delete(s.keys, j.key)
	}
	j.done <- err
	s.dispatchLocked()
	s.mu.Unlock()
}

func (s *Scheduler) invoke(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordSchedulerPanic()
			logger := log.WithComponentFromContext(j.ctx, "scheduler")
			logger.Error().
				Str("event", "scheduler.panic").
				Str("key", j.key).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("capture job panicked")
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return j.work(j.ctx)
}

// expire resolves a job that is still queued when its wait deadline passes.
func (s *Scheduler) expire(j *job) {
	if !s.dequeue(j) {
		return
	}
	metrics.RecordSchedulerReject("timeout")
	logger := log.WithComponentFromContext(j.ctx, "scheduler")
	logger.Warn().
		Str("event", "scheduler.wait_timeout").
		Str("key", j.key).
		Dur("wait_timeout", s.cfg.WaitTimeout).
		Msg("capture did not start in time")
	j.done <- ErrQueueTimeout
}

// dequeue removes j if it is still queued and reports whether it did.
func (s *Scheduler) dequeue(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.state != jobQueued {
		return false
	}
	s.removeLocked(j)
	metrics.SetSchedulerLoad(s.active, s.queued)
	return true
}

func (s *Scheduler) removeLocked(j *job) {
	j.state = jobDone
	if j.timer != nil {
		j.timer.Stop()
	}
	ks := s.keys[j.key]
	for i, q := range ks.queue {
		if q == j {
			ks.queue = append(ks.queue[:i], ks.queue[i+1:]...)
			break
		}
	}
	s.queued--
	if len(ks.queue) == 0 && !ks.running {
		delete(s.keys, j.key)
	}
}

// Shutdown rejects new jobs, fails queued ones with ErrClosed and waits for
// running jobs until ctx ends.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var dropped []*job
	for _, ks := range s.keys {
		dropped = append(dropped, ks.queue...)
	}
	for _, j := range dropped {
		s.removeLocked(j)
		j.done <- ErrClosed
	}
	metrics.SetSchedulerLoad(s.active, s.queued)
	s.mu.Unlock()

	if len(dropped) > 0 {
		logger := log.WithComponent("scheduler")
		logger.Info().
			Str("event", "scheduler.drained").
			Int("dropped", len(dropped)).
			Msg("queued captures rejected on shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// KeyStats is the per-key view in Stats.
type KeyStats struct {
	Queued  int  `json:"queued"`
	Running bool `json:"running"`
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Active int                 `json:"active"`
	Max    int                 `json:"max"`
	Queued int                 `json:"queued"`
	Keys   map[string]KeyStats `json:"cameras"`
}

// Stats returns current load.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Active: s.active,
		Max:    s.cfg.MaxConcurrent,
		Queued: s.queued,
		Keys:   make(map[string]KeyStats, len(s.keys)),
	}
	for k, ks := range s.keys {
		st.Keys[k] = KeyStats{Queued: len(ks.queue), Running: ks.running}
	}
	return st
}
