package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleOnceFiresExactlyOnce(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	var count int32
	s.ScheduleOnce(10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&count))
}

func TestScheduleRecurringFiresRepeatedly(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	var count int32
	id := s.ScheduleRecurring(time.Now(), 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Cancel(id))
}

// fixedIntervalSchedule is a minimal Schedule used only to drive
// ScheduleWith's re-arm loop without waiting on a real daily/weekly
// boundary.
type fixedIntervalSchedule struct {
	interval time.Duration
}

func (f fixedIntervalSchedule) Next(after time.Time) time.Time {
	return after.Add(f.interval)
}

func TestScheduleWithReArmsFromSchedule(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	var count int32
	id := s.ScheduleWith(fixedIntervalSchedule{interval: 20 * time.Millisecond}, func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Cancel(id))
}

func TestScheduleWithDailyDoesNotFireImmediately(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	var count int32
	s.ScheduleWith(Daily(0, 0), func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	// Daily always returns a future time, so this just confirms the job
	// is registered and doesn't fire immediately.
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&count))
	require.Len(t, s.ListIDs(), 1)
}

func TestCancelStopsFutureFires(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	var count int32
	id := s.ScheduleRecurring(time.Now(), 15*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Cancel(id))

	seenAtCancel := atomic.LoadInt32(&count)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, seenAtCancel, atomic.LoadInt32(&count))
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	id := s.ScheduleOnce(time.Hour, func(ctx context.Context) error { return nil })
	require.NoError(t, s.Cancel(id))
	require.NoError(t, s.Cancel(id))
	require.NoError(t, s.Cancel("unknown-id"))
}

func TestPauseResume(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	var count int32
	id := s.ScheduleRecurring(time.Now(), 15*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Pause(id))

	paused := atomic.LoadInt32(&count)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, paused, atomic.LoadInt32(&count))

	require.NoError(t, s.Resume(id))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) > paused }, time.Second, 5*time.Millisecond)
}

func TestListIDs(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	id1 := s.ScheduleOnce(time.Hour, func(ctx context.Context) error { return nil })
	id2 := s.ScheduleOnce(time.Hour, func(ctx context.Context) error { return nil })

	ids := s.ListIDs()
	require.Len(t, ids, 2)
	require.Contains(t, ids, id1)
	require.Contains(t, ids, id2)
}

func TestScopedSchedulerCancelAllOnlyAffectsOwnJobs(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	scopeA := NewScoped(s)
	scopeB := NewScoped(s)

	var aCount, bCount int32
	scopeA.ScheduleRecurring(time.Now(), 15*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&aCount, 1)
		return nil
	})
	scopeB.ScheduleRecurring(time.Now(), 15*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&bCount, 1)
		return nil
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&aCount) >= 1 && atomic.LoadInt32(&bCount) >= 1
	}, time.Second, 5*time.Millisecond)

	scopeA.CancelAll()
	aAtCancel := atomic.LoadInt32(&aCount)
	time.Sleep(60 * time.Millisecond)

	require.Equal(t, aAtCancel, atomic.LoadInt32(&aCount))
	require.Greater(t, atomic.LoadInt32(&bCount), int32(0))
}

func TestStopWaitsForInFlightFire(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())

	started := make(chan struct{})
	finished := make(chan struct{})
	s.ScheduleOnce(0, func(ctx context.Context) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		close(finished)
		return nil
	})

	<-started
	s.Stop()
	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before in-flight fire completed")
	}
}
