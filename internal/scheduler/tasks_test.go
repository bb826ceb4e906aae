package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewExpirySweepTaskRunsWrappedFunc(t *testing.T) {
	var called bool
	job := NewExpirySweepTask(func(ctx context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, job(context.Background()))
	require.True(t, called)
}

func TestWrappedTaskPropagatesError(t *testing.T) {
	job := NewPortScanDetectorTask(func(ctx context.Context) error {
		return errors.New("boom")
	})

	err := job(context.Background())
	require.Error(t, err)
}

func TestWrappedTaskHonorsTimeout(t *testing.T) {
	job := NewBandwidthMonitorTask(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- job(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("task did not respect its timeout")
	}
}
