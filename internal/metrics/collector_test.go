package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/events"
)

// The Prometheus registry is a package-level singleton (Get()), so every
// test below measures deltas rather than absolute values to stay
// independent of execution order and of other tests in this package.

// newStartedCollector returns a Collector that has been started, so it is
// subscribed to hub; the bus subscription is made by Start.
func newStartedCollector(t *testing.T, hub *events.Hub) *Collector {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCollector(hub, nil)
	require.NoError(t, c.Start(ctx, "127.0.0.1:0"))
	t.Cleanup(func() {
		c.Stop()
		cancel()
	})
	return c
}

func TestCollectorCountsConnectionAttempts(t *testing.T) {
	hub := events.NewHub(nil)
	c := newStartedCollector(t, hub)
	before := testutil.ToFloat64(c.registry.ConnectionAttemptsTotal)

	hub.Publish(events.Event{Type: events.TypeConnectionAttempt, Data: events.ConnectionAttemptData{Address: "203.0.113.5"}})

	require.Equal(t, before+1, testutil.ToFloat64(c.registry.ConnectionAttemptsTotal))
}

func TestCollectorLabelsBlocksByCollapsedReason(t *testing.T) {
	hub := events.NewHub(nil)
	c := newStartedCollector(t, hub)

	rateBefore := testutil.ToFloat64(c.registry.BlocksTotal.WithLabelValues("rate"))
	geoBefore := testutil.ToFloat64(c.registry.BlocksTotal.WithLabelValues("geo"))
	manualBefore := testutil.ToFloat64(c.registry.BlocksTotal.WithLabelValues("manual"))
	activeBefore := testutil.ToFloat64(c.registry.ActiveBlocks)

	hub.Publish(events.Event{Type: events.TypeBlock, Data: events.BlockData{Address: "203.0.113.5", Reason: "rate"}})
	hub.Publish(events.Event{Type: events.TypeBlock, Data: events.BlockData{Address: "203.0.113.6", Reason: "geo:RU"}})
	hub.Publish(events.Event{Type: events.TypeBlock, Data: events.BlockData{Address: "203.0.113.7", Reason: "manual"}})

	require.Equal(t, rateBefore+1, testutil.ToFloat64(c.registry.BlocksTotal.WithLabelValues("rate")))
	require.Equal(t, geoBefore+1, testutil.ToFloat64(c.registry.BlocksTotal.WithLabelValues("geo")))
	require.Equal(t, manualBefore+1, testutil.ToFloat64(c.registry.BlocksTotal.WithLabelValues("manual")))
	require.Equal(t, activeBefore+3, testutil.ToFloat64(c.registry.ActiveBlocks))
}

func TestCollectorTracksUnblocksAndExpiryAsDistinctReasons(t *testing.T) {
	hub := events.NewHub(nil)
	c := newStartedCollector(t, hub)

	manualUnblockBefore := testutil.ToFloat64(c.registry.UnblocksTotal.WithLabelValues("manual"))
	expiredBefore := testutil.ToFloat64(c.registry.UnblocksTotal.WithLabelValues("expired"))
	activeBefore := testutil.ToFloat64(c.registry.ActiveBlocks)

	hub.Publish(events.Event{Type: events.TypeBlock, Data: events.BlockData{Address: "203.0.113.8", Reason: "manual"}})
	hub.Publish(events.Event{Type: events.TypeUnblock, Data: events.BlockData{Address: "203.0.113.8", Reason: "manual"}})
	hub.Publish(events.Event{Type: events.TypeBlock, Data: events.BlockData{Address: "203.0.113.9", Reason: "rate"}})
	hub.Publish(events.Event{Type: events.TypeBlockExpired, Data: events.BlockData{Address: "203.0.113.9", Reason: "expired"}})

	require.Equal(t, manualUnblockBefore+1, testutil.ToFloat64(c.registry.UnblocksTotal.WithLabelValues("manual")))
	require.Equal(t, expiredBefore+1, testutil.ToFloat64(c.registry.UnblocksTotal.WithLabelValues("expired")))
	require.Equal(t, activeBefore, testutil.ToFloat64(c.registry.ActiveBlocks))
}

func TestCollectorCountsWhitelistChanges(t *testing.T) {
	hub := events.NewHub(nil)
	c := newStartedCollector(t, hub)
	addBefore := testutil.ToFloat64(c.registry.WhitelistAddsTotal)
	removeBefore := testutil.ToFloat64(c.registry.WhitelistRemovesTotal)

	hub.Publish(events.Event{Type: events.TypeWhitelistAdded, Data: events.WhitelistData{Address: "203.0.113.5"}})
	hub.Publish(events.Event{Type: events.TypeWhitelistRemoved, Data: events.WhitelistData{Address: "203.0.113.5"}})

	require.Equal(t, addBefore+1, testutil.ToFloat64(c.registry.WhitelistAddsTotal))
	require.Equal(t, removeBefore+1, testutil.ToFloat64(c.registry.WhitelistRemovesTotal))
}

func TestCollectorStopIsIdempotentWithoutStart(t *testing.T) {
	hub := events.NewHub(nil)
	c := NewCollector(hub, nil)
	c.Stop()
	c.Stop()
}
