package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/clock"
)

func TestWindowSetPrunesOldEntries(t *testing.T) {
	mc := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	w := NewWindowSet(mc)

	w.Add("1.2.3.4", 10*time.Second)
	mc.Advance(5 * time.Second)
	w.Add("1.2.3.4", 10*time.Second)
	require.Equal(t, 2, w.Size("1.2.3.4", 10*time.Second))

	mc.Advance(6 * time.Second)
	require.Equal(t, 1, w.Size("1.2.3.4", 10*time.Second))

	mc.Advance(20 * time.Second)
	require.Equal(t, 0, w.Size("1.2.3.4", 10*time.Second))
}

func TestWindowSetUnknownKeyIsZeroNotError(t *testing.T) {
	w := NewWindowSet(clock.NewMockClock(time.Now()))
	require.Equal(t, 0, w.Size("never-seen", time.Minute))
}

func TestWindowSetIndependentPerKey(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	w := NewWindowSet(mc)

	for i := 0; i < 5; i++ {
		w.Add("a", time.Minute)
	}
	w.Add("b", time.Minute)

	require.Equal(t, 5, w.Size("a", time.Minute))
	require.Equal(t, 1, w.Size("b", time.Minute))
}
