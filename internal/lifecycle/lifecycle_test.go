package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/blocklist"
	"github.com/wardline/wardline/internal/clock"
	"github.com/wardline/wardline/internal/events"
	"github.com/wardline/wardline/internal/firewall"
	"github.com/wardline/wardline/internal/scheduler"
	"github.com/wardline/wardline/internal/store"
)

type fakeDriver struct {
	mu       sync.Mutex
	blocked  map[string]bool
	failNext bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{blocked: make(map[string]bool)}
}

func (f *fakeDriver) Block(ctx context.Context, addr string) firewall.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return firewall.Result{OK: false, Diagnostic: "forced failure"}
	}
	f.blocked[addr] = true
	return firewall.Result{OK: true}
}

func (f *fakeDriver) Unblock(ctx context.Context, addr string) firewall.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocked, addr)
	return firewall.Result{OK: true}
}

func newManager(t *testing.T, clk clock.Clock) (*Manager, *fakeDriver, *blocklist.Manager, *store.Store, *events.Hub) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bl, err := blocklist.New(nil, "", "")
	require.NoError(t, err)

	hub := events.NewHub(nil)
	sched := scheduler.New(nil)
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)

	driver := newFakeDriver()
	mgr := New(driver, st, bl, sched, hub, clk)
	return mgr, driver, bl, st, hub
}

func TestBlockInstallsRecordAndInMemorySet(t *testing.T) {
	mk := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr, driver, bl, st, hub := newManager(t, mk)

	var blocks []events.Event
	hub.Subscribe(func(e events.Event) { blocks = append(blocks, e) }, events.TypeBlock)

	require.NoError(t, mgr.Block(context.Background(), "1.2.3.4", time.Minute, "rate"))

	require.True(t, driver.blocked["1.2.3.4"])
	require.True(t, bl.IsBlocked("1.2.3.4"))
	require.Len(t, blocks, 1)

	rec, err := st.GetBlock(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 60, rec.DurationSeconds)
}

func TestBlockRejectsWhitelisted(t *testing.T) {
	dir := t.TempDir()
	_ = dir
	mk := clock.NewMockClock(time.Now())
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	bl, err := blocklist.New(nil, "", "")
	require.NoError(t, err)
	require.NoError(t, bl.AddWhitelist("9.9.9.9"))

	hub := events.NewHub(nil)
	sched := scheduler.New(nil)
	sched.Start(context.Background())
	defer sched.Stop()

	driver := newFakeDriver()
	mgr := New(driver, st, bl, sched, hub, mk)

	err = mgr.Block(context.Background(), "9.9.9.9", time.Minute, "rate")
	require.ErrorIs(t, err, ErrWhitelisted)
	require.False(t, driver.blocked["9.9.9.9"])
}

func TestBlockAlreadyBlockedIsNoOp(t *testing.T) {
	mk := clock.NewMockClock(time.Now())
	mgr, driver, _, _, _ := newManager(t, mk)

	require.NoError(t, mgr.Block(context.Background(), "1.1.1.1", time.Minute, "rate"))
	require.NoError(t, mgr.Block(context.Background(), "1.1.1.1", time.Minute, "rate"))
	require.Len(t, driver.blocked, 1)
}

func TestUnblockRemovesRecord(t *testing.T) {
	mk := clock.NewMockClock(time.Now())
	mgr, driver, bl, st, _ := newManager(t, mk)

	require.NoError(t, mgr.Block(context.Background(), "2.2.2.2", time.Minute, "rate"))
	require.NoError(t, mgr.Unblock(context.Background(), "2.2.2.2"))

	require.False(t, driver.blocked["2.2.2.2"])
	require.False(t, bl.IsBlocked("2.2.2.2"))
	_, err := st.GetBlock(context.Background(), "2.2.2.2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnblockOfUnknownAddressIsSuccess(t *testing.T) {
	mk := clock.NewMockClock(time.Now())
	mgr, _, _, _, _ := newManager(t, mk)
	require.NoError(t, mgr.Unblock(context.Background(), "3.3.3.3"))
}

func TestReconcileUnblocksAlreadyExpired(t *testing.T) {
	mk := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr, driver, bl, st, _ := newManager(t, mk)

	require.NoError(t, st.UpsertBlock(context.Background(), store.BlockRecord{
		Address:          "4.4.4.4",
		BlockedAt:        mk.Now().Add(-time.Hour),
		DurationSeconds:  60,
		ScheduledUnblock: mk.Now().Add(-time.Minute),
	}))

	require.NoError(t, mgr.Reconcile(context.Background()))

	_, err := st.GetBlock(context.Background(), "4.4.4.4")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.False(t, bl.IsBlocked("4.4.4.4"))
	_ = driver
}

func TestReconcileReAddsStillActiveBlocks(t *testing.T) {
	mk := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr, _, bl, st, _ := newManager(t, mk)

	require.NoError(t, st.UpsertBlock(context.Background(), store.BlockRecord{
		Address:          "5.5.5.5",
		BlockedAt:        mk.Now(),
		DurationSeconds:  3600,
		ScheduledUnblock: mk.Now().Add(time.Hour),
	}))

	require.NoError(t, mgr.Reconcile(context.Background()))
	require.True(t, bl.IsBlocked("5.5.5.5"))
}

func TestSweepExpiredPublishesBlockExpired(t *testing.T) {
	mk := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr, driver, bl, st, hub := newManager(t, mk)

	var expired []events.Event
	hub.Subscribe(func(e events.Event) { expired = append(expired, e) }, events.TypeBlockExpired)

	require.NoError(t, mgr.Block(context.Background(), "6.6.6.6", time.Minute, "rate"))
	mk.Advance(2 * time.Minute)

	require.NoError(t, mgr.SweepExpired(context.Background()))

	require.False(t, bl.IsBlocked("6.6.6.6"))
	require.False(t, driver.blocked["6.6.6.6"])
	require.Len(t, expired, 1)

	_, err := st.GetBlock(context.Background(), "6.6.6.6")
	require.ErrorIs(t, err, store.ErrNotFound)
}
