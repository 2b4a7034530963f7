package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("push", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("remote down")
		}
		close(done)
		return nil
	}, QueueConfig{MaxRetries: 5, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "timetableEntries"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	gaveUp := make(chan Job, 1)
	q := NewQueue("push", func(context.Context, Job) error {
		return errors.New("always failing")
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond, OnGiveUp: func(j Job, _ error) { gaveUp <- j }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.TryEnqueue(Job{Type: "gradeCalculator"}))

	select {
	case job := <-gaveUp:
		assert.Equal(t, 3, job.Attempt)
		assert.NotEmpty(t, job.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not give up")
	}
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("push", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{}))
	assert.Error(t, q.TryEnqueue(Job{}))
}

func TestQueueTryEnqueueReportsFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("push", func(ctx context.Context, _ Job) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop()
	}()

	var full bool
	for i := 0; i < 5; i++ {
		if err := q.TryEnqueue(Job{}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)
}

func TestQueueCoalescesWaitingJobsByKey(t *testing.T) {
	running := make(chan struct{}, 1)
	block := make(chan struct{})
	var calls int32
	q := NewQueue("push", func(ctx context.Context, _ Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			running <- struct{}{}
			select {
			case <-block:
			case <-ctx.Done():
			}
		}
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.TryEnqueue(Job{Key: "gradeCalculator:u1"}))
	<-running

	// The running job no longer holds its key; these collapse into one.
	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryEnqueue(Job{Key: "gradeCalculator:u1"}))
	}
	close(block)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return atomic.LoadInt32(&calls) > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}
