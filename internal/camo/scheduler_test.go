package camo

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsScheduledWork(t *testing.T) {
	runner := &recordingRunner{done: make(chan struct{}, 10)}
	scheduler := NewScheduler(runner, SchedulerConfig{QueueSize: 4, Workers: 1, Timeout: time.Second})

	assert.True(t, scheduler.Schedule())

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("scheduled run did not execute")
	}

	require.NoError(t, scheduler.Close(context.Background()))
	assert.Equal(t, int32(1), runner.runs.Load())
}

func TestScheduler_ScheduleDoesNotBlockWhenFull(t *testing.T) {
	release := make(chan struct{})
	runner := &recordingRunner{gate: release, started: make(chan struct{}, 10)}
	scheduler := NewScheduler(runner, SchedulerConfig{QueueSize: 1, Workers: 1, Timeout: time.Second})

	require.True(t, scheduler.Schedule())
	<-runner.started // worker is busy

	require.True(t, scheduler.Schedule()) // fills the queue

	start := time.Now()
	accepted := scheduler.Schedule()
	assert.False(t, accepted)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, scheduler.Close(context.Background()))
	assert.Equal(t, int32(2), runner.runs.Load())
}

func TestScheduler_RunsHaveDeadline(t *testing.T) {
	runner := &recordingRunner{done: make(chan struct{}, 1)}
	scheduler := NewScheduler(runner, SchedulerConfig{Timeout: 50 * time.Millisecond})

	scheduler.Schedule()
	<-runner.done
	require.NoError(t, scheduler.Close(context.Background()))

	deadline := runner.deadline.Load()
	require.NotNil(t, deadline)
	assert.WithinDuration(t, time.Now(), *deadline, time.Second)
}

func TestScheduler_RecoversPanics(t *testing.T) {
	runner := &recordingRunner{panics: true, done: make(chan struct{}, 2)}
	scheduler := NewScheduler(runner, SchedulerConfig{QueueSize: 2, Workers: 1, Timeout: time.Second})

	scheduler.Schedule()
	scheduler.Schedule()

	require.NoError(t, scheduler.Close(context.Background()))
	assert.Equal(t, int32(2), runner.runs.Load())
}

func TestScheduler_ScheduleAfterClose(t *testing.T) {
	scheduler := NewScheduler(&recordingRunner{}, SchedulerConfig{})

	require.NoError(t, scheduler.Close(context.Background()))
	require.NoError(t, scheduler.Close(context.Background()))

	assert.False(t, scheduler.Schedule())
}

func TestScheduler_CloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	runner := &recordingRunner{gate: release, started: make(chan struct{}, 1)}
	scheduler := NewScheduler(runner, SchedulerConfig{Timeout: time.Minute})

	scheduler.Schedule()
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := scheduler.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type recordingRunner struct {
	runs     atomic.Int32
	deadline atomic.Pointer[time.Time]
	gate     chan struct{}
	started  chan struct{}
	done     chan struct{}
	panics   bool
}

func (r *recordingRunner) Run(ctx context.Context) {
	r.runs.Add(1)
	if d, ok := ctx.Deadline(); ok {
		r.deadline.Store(&d)
	}
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.done != nil {
		r.done <- struct{}{}
	}
	if r.panics {
		panic("runner exploded")
	}
}
