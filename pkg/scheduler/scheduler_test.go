package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fpt/signal-bot/pkg/clock"
	pkgLogger "github.com/fpt/signal-bot/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// 2026-03-01 is a Sunday.
var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, opts ...Option) (*Scheduler, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(epoch)
	opts = append([]Option{WithClock(fake), WithLogger(pkgLogger.NewDiscardLogger())}, opts...)
	return New(opts...), fake
}

func start(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
	var zero T
	return zero
}

func record(ch chan<- string, name string) Func {
	return func(context.Context) error {
		ch <- name
		return nil
	}
}

func TestDueJobsFireInTimeOrder(t *testing.T) {
	s, fake := newScheduler(t)
	fired := make(chan string, 4)

	_, err := s.Schedule("30 9 * * *", "late", record(fired, "late"))
	require.NoError(t, err)
	_, err = s.Schedule("0 9 * * *", "early", record(fired, "early"))
	require.NoError(t, err)

	start(t, s)
	fake.WaitForTimers(1)
	fake.Advance(2 * time.Hour)

	assert.Equal(t, "early", recv(t, fired))
	assert.Equal(t, "late", recv(t, fired))
}

func TestSimultaneousJobsFireInRegistrationOrder(t *testing.T) {
	s, fake := newScheduler(t)
	fired := make(chan string, 4)

	for _, name := range []string{"first", "second", "third"} {
		_, err := s.Schedule("0 9 * * *", name, record(fired, name))
		require.NoError(t, err)
	}

	start(t, s)
	fake.WaitForTimers(1)
	fake.Advance(time.Hour)

	assert.Equal(t, "first", recv(t, fired))
	assert.Equal(t, "second", recv(t, fired))
	assert.Equal(t, "third", recv(t, fired))
}

func TestFaultDoesNotCancelFutureFirings(t *testing.T) {
	faults := make(chan error, 4)
	s, fake := newScheduler(t, WithFaultHandler(func(_ context.Context, job *Job, err error) {
		assert.Equal(t, "flaky", job.Name())
		faults <- err
	}))

	calls := 0
	_, err := s.Schedule("0 9 * * *", "flaky", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("boom")
		}
		panic("kaboom")
	})
	require.NoError(t, err)
	fired := make(chan string, 4)
	_, err = s.Schedule("0 9 * * *", "steady", record(fired, "steady"))
	require.NoError(t, err)

	start(t, s)
	fake.WaitForTimers(1)
	fake.Advance(time.Hour)
	assert.EqualError(t, recv(t, faults), "boom")
	assert.Equal(t, "steady", recv(t, fired))

	fake.WaitForTimers(1)
	fake.Advance(24 * time.Hour)
	assert.Contains(t, recv(t, faults).Error(), "kaboom")
	assert.Equal(t, "steady", recv(t, fired))
}

func TestInvalidExpression(t *testing.T) {
	s, _ := newScheduler(t)

	job, err := s.Schedule("61 * * * *", "broken", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Nil(t, job)

	var schedErr *ScheduleError
	require.True(t, errors.As(err, &schedErr))
	assert.Equal(t, "broken", schedErr.Name)
	assert.Equal(t, "61 * * * *", schedErr.Expr)
	assert.Contains(t, err.Error(), "out of range")
	assert.Equal(t, 0, s.Len())
}

func TestScheduleThatNeverFires(t *testing.T) {
	s, _ := newScheduler(t)

	job, err := s.Schedule("0 0 30 2 *", "leap", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Nil(t, job)
	assert.Equal(t, 0, s.Len())

	var schedErr *ScheduleError
	require.True(t, errors.As(err, &schedErr))
	assert.Contains(t, err.Error(), "never matches")

	assert.True(t, errors.As(Validate("leap", "0 0 30 2 *", nil, epoch), &schedErr))
	assert.NoError(t, Validate("daily", "@daily", time.UTC, epoch))
}

func TestRemove(t *testing.T) {
	s, fake := newScheduler(t)
	fired := make(chan string, 4)

	gone, err := s.Schedule("0 9 * * *", "gone", record(fired, "gone"))
	require.NoError(t, err)
	_, err = s.Schedule("0 9 * * *", "kept", record(fired, "kept"))
	require.NoError(t, err)

	assert.True(t, s.Remove(gone))
	assert.False(t, s.Remove(gone))
	_, ok := s.Next(gone)
	assert.False(t, ok)

	start(t, s)
	fake.WaitForTimers(1)
	fake.Advance(time.Hour)
	assert.Equal(t, "kept", recv(t, fired))
	assert.Empty(t, fired)
}

func TestScheduleWhileRunningWakesLoop(t *testing.T) {
	s, fake := newScheduler(t)
	start(t, s)

	fired := make(chan string, 1)
	_, err := s.Schedule("15 8 * * *", "added", record(fired, "added"))
	require.NoError(t, err)

	fake.WaitForTimers(1)
	fake.Advance(15 * time.Minute)
	assert.Equal(t, "added", recv(t, fired))
}

func TestNextIsComputedFromNow(t *testing.T) {
	s, fake := newScheduler(t)
	fired := make(chan string, 8)

	job, err := s.Schedule("*/15 * * * *", "quarterly", record(fired, "tick"))
	require.NoError(t, err)
	next, ok := s.Next(job)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(15*time.Minute), next)

	start(t, s)
	fake.WaitForTimers(1)
	fake.Advance(time.Hour)
	recv(t, fired)

	fake.WaitForTimers(1)
	assert.Empty(t, fired)
	next, ok = s.Next(job)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(75*time.Minute), next)
}

func TestRunTwice(t *testing.T) {
	s, fake := newScheduler(t)
	_, err := s.Schedule("@daily", "daily", func(context.Context) error { return nil })
	require.NoError(t, err)

	start(t, s)
	fake.WaitForTimers(1)
	assert.ErrorIs(t, s.Run(context.Background()), ErrRunning)
}

func TestWithLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	s, _ := newScheduler(t, WithLocation(tokyo))

	job, err := s.Schedule("0 18 * * *", "evening", func(context.Context) error { return nil })
	require.NoError(t, err)
	next, ok := s.Next(job)
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
}
