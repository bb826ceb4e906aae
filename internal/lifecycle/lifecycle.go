// Package lifecycle owns the block/unblock critical section: it is the
// only component allowed to mutate a BlockRecord in the store, and it
// keeps the store, the in-memory block set, and the packet-filter chain
// in agreement with each other.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wardline/wardline/internal/blocklist"
	"github.com/wardline/wardline/internal/clock"
	"github.com/wardline/wardline/internal/events"
	"github.com/wardline/wardline/internal/firewall"
	"github.com/wardline/wardline/internal/logging"
	"github.com/wardline/wardline/internal/scheduler"
	"github.com/wardline/wardline/internal/store"
)

// Driver is the subset of *firewall.Driver that the lifecycle manager
// calls into.
type Driver interface {
	Block(ctx context.Context, addr string) firewall.Result
	Unblock(ctx context.Context, addr string) firewall.Result
}

// Manager enforces that an address is blocked or unblocked in exactly
// one place at a time: the packet filter, the store, and C5's in-memory
// set always move together.
type Manager struct {
	driver    Driver
	store     *store.Store
	blocklist *blocklist.Manager
	scheduler *scheduler.Scheduler
	hub       *events.Hub
	clk       clock.Clock
	log       *logging.Logger

	mu sync.Mutex
}

// New returns a Manager. clk may be nil, defaulting to the real clock.
func New(driver Driver, st *store.Store, bl *blocklist.Manager, sched *scheduler.Scheduler, hub *events.Hub, clk clock.Clock) *Manager {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Manager{
		driver:    driver,
		store:     st,
		blocklist: bl,
		scheduler: sched,
		hub:       hub,
		clk:       clk,
		log:       logging.WithComponent("lifecycle"),
	}
}

// ErrWhitelisted is returned by Block when addr is whitelisted.
var ErrWhitelisted = fmt.Errorf("address is whitelisted")

// Block installs a DROP rule for addr, records it in the store, adds it
// to the in-memory block set, and schedules its expiry. A whitelisted
// address is rejected outright. An address already blocked in memory is
// a no-op success.
func (m *Manager) Block(ctx context.Context, addr string, duration time.Duration, reason string) error {
	if m.blocklist.IsWhitelisted(addr) {
		return ErrWhitelisted
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blocklist.IsBlocked(addr) {
		return nil
	}

	if res := m.driver.Block(ctx, addr); !res.OK {
		return fmt.Errorf("packet-filter block failed: %s", res.Diagnostic)
	}

	now := m.clk.Now()
	rec := store.BlockRecord{
		Address:          addr,
		BlockedAt:        now,
		DurationSeconds:  int(duration.Seconds()),
		ScheduledUnblock: now.Add(duration),
	}
	if err := m.store.UpsertBlock(ctx, rec); err != nil {
		return fmt.Errorf("persist block record: %w", err)
	}
	_ = m.store.InsertHistory(ctx, addr, now, fmt.Sprintf("blocked: %s", reason))

	m.blocklist.MarkBlocked(addr)
	m.armExpiry(addr, rec.ScheduledUnblock)
	if err := clock.SaveAnchor(); err != nil {
		m.log.Debug("save clock anchor failed", "error", err)
	}

	if m.hub != nil {
		m.hub.Publish(events.Event{
			Type:      events.TypeBlock,
			Timestamp: now,
			Data:      events.BlockData{Address: addr, Duration: duration, Reason: reason},
		})
	}
	m.log.Info("blocked address", "address", addr, "duration", duration, "reason", reason)
	return nil
}

// Unblock removes addr's DROP rule, deletes its store record, and drops
// it from the in-memory block set. Unblocking an address that is not
// currently blocked logs and returns success.
func (m *Manager) Unblock(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.blocklist.IsBlocked(addr) {
		m.log.Debug("already unblocked", "address", addr)
		return nil
	}

	if res := m.driver.Unblock(ctx, addr); !res.OK {
		return fmt.Errorf("packet-filter unblock failed: %s", res.Diagnostic)
	}

	if err := m.store.DeleteBlock(ctx, addr); err != nil {
		return fmt.Errorf("delete block record: %w", err)
	}
	_ = m.store.InsertHistory(ctx, addr, m.clk.Now(), "unblocked")

	m.blocklist.MarkUnblocked(addr)

	if m.hub != nil {
		m.hub.Publish(events.Event{
			Type:      events.TypeUnblock,
			Timestamp: m.clk.Now(),
			Data:      events.BlockData{Address: addr, Reason: "manual"},
		})
	}
	m.log.Info("unblocked address", "address", addr)
	return nil
}

// armExpiry schedules a one-shot job that unblocks addr when its
// ScheduledUnblock time arrives. Caller holds m.mu.
func (m *Manager) armExpiry(addr string, at time.Time) {
	if m.scheduler == nil {
		return
	}
	m.scheduler.ScheduleOnceAt(at, func(ctx context.Context) error {
		return m.expireOne(ctx, addr)
	})
}

func (m *Manager) expireOne(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.blocklist.IsBlocked(addr) {
		return nil
	}
	if res := m.driver.Unblock(ctx, addr); !res.OK {
		m.log.Warn("expiry unblock failed", "address", addr, "diagnostic", res.Diagnostic)
		return fmt.Errorf("expiry unblock: %s", res.Diagnostic)
	}
	if err := m.store.DeleteBlock(ctx, addr); err != nil {
		return err
	}
	m.blocklist.MarkUnblocked(addr)

	if m.hub != nil {
		m.hub.Publish(events.Event{
			Type:      events.TypeBlockExpired,
			Timestamp: m.clk.Now(),
			Data:      events.BlockData{Address: addr, Reason: "expired"},
		})
	}
	m.log.Info("block expired", "address", addr)
	return nil
}

// Reconcile loads every BlockRecord from the store at startup. Already
// expired records are unblocked and dropped immediately; the rest are
// re-added to the in-memory block set and given a fresh expiry timer.
// This must run to completion before the syslog tail starts, or the
// enforcement engine could race reconciliation and double-block an
// address that is already blocked.
func (m *Manager) Reconcile(ctx context.Context) error {
	records, err := m.store.ListBlocks(ctx)
	if err != nil {
		return fmt.Errorf("list blocks for reconciliation: %w", err)
	}

	now := m.clk.Now()
	for _, rec := range records {
		if !rec.ScheduledUnblock.After(now) {
			if res := m.driver.Unblock(ctx, rec.Address); !res.OK {
				m.log.Warn("reconcile: unblock of expired record failed", "address", rec.Address, "diagnostic", res.Diagnostic)
			}
			if err := m.store.DeleteBlock(ctx, rec.Address); err != nil {
				m.log.Warn("reconcile: delete expired record failed", "address", rec.Address, "error", err)
			}
			continue
		}

		m.blocklist.MarkBlocked(rec.Address)
		m.armExpiry(rec.Address, rec.ScheduledUnblock)
	}

	m.log.Info("reconciliation complete", "records", len(records))
	return nil
}

// SweepExpired asks the store for every record whose expiry has
// already passed, unblocks each at the packet filter, drops it from
// the in-memory set, and publishes BlockExpired. Wired as a recurring
// scheduler job rather than the record's own one-shot timer catching
// every case, since a timer armed before a config reload or a process
// restart can be lost.
func (m *Manager) SweepExpired(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired, err := m.store.RemoveAllExpired(ctx, m.clk.Now())
	if err != nil {
		return fmt.Errorf("sweep expired: %w", err)
	}

	for _, rec := range expired {
		if res := m.driver.Unblock(ctx, rec.Address); !res.OK {
			m.log.Warn("sweep: unblock failed", "address", rec.Address, "diagnostic", res.Diagnostic)
		}
		m.blocklist.MarkUnblocked(rec.Address)

		if m.hub != nil {
			m.hub.Publish(events.Event{
				Type:      events.TypeBlockExpired,
				Timestamp: m.clk.Now(),
				Data:      events.BlockData{Address: rec.Address, Reason: "expired"},
			})
		}
	}
	if len(expired) > 0 {
		m.log.Info("expiry sweep removed records", "count", len(expired))
	}
	return nil
}
