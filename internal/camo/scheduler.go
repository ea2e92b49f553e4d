package camo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner is a unit of background work, such as a purge.
type Runner interface {
	Run(ctx context.Context)
}

// Scheduler runs background work detached from the caller. Schedule never
// blocks: when the queue is full the request is dropped, as a queued run is
// already pending and will do the same work.
type Scheduler struct {
	runner  Runner
	timeout time.Duration
	queue   chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type SchedulerConfig struct {
	QueueSize int
	Workers   int
	// Timeout bounds each run.
	Timeout time.Duration
}

func NewScheduler(runner Runner, cfg SchedulerConfig) *Scheduler {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	s := &Scheduler{
		runner:  runner,
		timeout: cfg.Timeout,
		queue:   make(chan struct{}, cfg.QueueSize),
	}

	s.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go s.worker()
	}

	return s
}

// Schedule queues a run and returns immediately. It reports whether the run
// was accepted.
func (s *Scheduler) Schedule() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.queue <- struct{}{}:
		return true
	default:
		log.Debug().Msg("camo: purge queue full, dropping request")
		return false
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for range s.queue {
		s.runOnce()
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("camo: background run panicked, recovered")
		}
	}()

	s.runner.Run(ctx)
}

// Close stops accepting work and waits for queued runs to finish, or for the
// context to end, whichever is first.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background runs: %w", ctx.Err())
	}
}
