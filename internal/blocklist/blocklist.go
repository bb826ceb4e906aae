// Package blocklist maintains the in-memory block and whitelist address
// sets, seeded from and persisted to flat text files.
package blocklist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/wardline/wardline/internal/events"
)

// Manager holds the block and whitelist sets. Both are guarded by their
// own RWMutex since whitelist writes go to disk and should not stall
// readers of the block set.
type Manager struct {
	hub *events.Hub

	blockedMu sync.RWMutex
	blocked   map[string]struct{}

	whitelistMu   sync.RWMutex
	whitelisted   map[string]struct{}
	whitelistPath string
}

// New seeds blocked and whitelisted from two text files. Lines starting
// with '#' or blank lines are ignored in both. whitelistPath is kept for
// Add/Remove to persist back to.
func New(hub *events.Hub, blockedPath, whitelistPath string) (*Manager, error) {
	blocked, err := readAddressSet(blockedPath)
	if err != nil {
		return nil, fmt.Errorf("read block list: %w", err)
	}
	whitelisted, err := readAddressSet(whitelistPath)
	if err != nil {
		return nil, fmt.Errorf("read whitelist: %w", err)
	}

	return &Manager{
		hub:           hub,
		blocked:       blocked,
		whitelisted:   whitelisted,
		whitelistPath: whitelistPath,
	}, nil
}

func readAddressSet(path string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	if path == "" {
		return set, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	return set, scanner.Err()
}

// IsBlocked reports whether addr is in the in-memory block set.
func (m *Manager) IsBlocked(addr string) bool {
	m.blockedMu.RLock()
	defer m.blockedMu.RUnlock()
	_, ok := m.blocked[addr]
	return ok
}

// IsWhitelisted reports whether addr is in the in-memory whitelist set.
func (m *Manager) IsWhitelisted(addr string) bool {
	m.whitelistMu.RLock()
	defer m.whitelistMu.RUnlock()
	_, ok := m.whitelisted[addr]
	return ok
}

// MarkBlocked adds addr to the in-memory block set. It does not touch
// disk: the block set is rebuilt from the Store on every restart by the
// lifecycle manager (C9), not from a flat file.
func (m *Manager) MarkBlocked(addr string) {
	m.blockedMu.Lock()
	defer m.blockedMu.Unlock()
	m.blocked[addr] = struct{}{}
}

// MarkUnblocked removes addr from the in-memory block set.
func (m *Manager) MarkUnblocked(addr string) {
	m.blockedMu.Lock()
	defer m.blockedMu.Unlock()
	delete(m.blocked, addr)
}

// BlockedAddresses returns a snapshot of the block set.
func (m *Manager) BlockedAddresses() []string {
	m.blockedMu.RLock()
	defer m.blockedMu.RUnlock()
	out := make([]string, 0, len(m.blocked))
	for addr := range m.blocked {
		out = append(out, addr)
	}
	return out
}

// AddWhitelist adds addr to the whitelist, appends it to the whitelist
// file, and publishes WhitelistAdded. A no-op (still publishes) if addr
// was already whitelisted.
func (m *Manager) AddWhitelist(addr string) error {
	m.whitelistMu.Lock()
	defer m.whitelistMu.Unlock()

	if _, ok := m.whitelisted[addr]; !ok {
		if m.whitelistPath != "" {
			f, err := os.OpenFile(m.whitelistPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("append to whitelist file: %w", err)
			}
			_, writeErr := fmt.Fprintln(f, addr)
			closeErr := f.Close()
			if writeErr != nil {
				return fmt.Errorf("append to whitelist file: %w", writeErr)
			}
			if closeErr != nil {
				return fmt.Errorf("close whitelist file: %w", closeErr)
			}
		}
		m.whitelisted[addr] = struct{}{}
	}

	if m.hub != nil {
		m.hub.Publish(events.Event{Type: events.TypeWhitelistAdded, Data: events.WhitelistData{Address: addr}})
	}
	return nil
}

// RemoveWhitelist removes addr from the whitelist, rewrites the
// whitelist file omitting it, and publishes WhitelistRemoved.
func (m *Manager) RemoveWhitelist(addr string) error {
	m.whitelistMu.Lock()
	defer m.whitelistMu.Unlock()

	if _, ok := m.whitelisted[addr]; ok {
		delete(m.whitelisted, addr)
		if m.whitelistPath != "" {
			if err := m.rewriteWhitelistLocked(); err != nil {
				return err
			}
		}
	}

	if m.hub != nil {
		m.hub.Publish(events.Event{Type: events.TypeWhitelistRemoved, Data: events.WhitelistData{Address: addr}})
	}
	return nil
}

func (m *Manager) rewriteWhitelistLocked() error {
	f, err := os.Create(m.whitelistPath)
	if err != nil {
		return fmt.Errorf("rewrite whitelist file: %w", err)
	}
	defer f.Close()

	for addr := range m.whitelisted {
		if _, err := fmt.Fprintln(f, addr); err != nil {
			return fmt.Errorf("rewrite whitelist file: %w", err)
		}
	}
	return nil
}

// WhitelistedAddresses returns a snapshot of the whitelist set.
func (m *Manager) WhitelistedAddresses() []string {
	m.whitelistMu.RLock()
	defer m.whitelistMu.RUnlock()
	out := make([]string, 0, len(m.whitelisted))
	for addr := range m.whitelisted {
		out = append(out, addr)
	}
	return out
}
