package blocklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/events"
)

func TestSeedsFromFiles(t *testing.T) {
	dir := t.TempDir()
	blockedPath := filepath.Join(dir, "blocked.txt")
	whitelistPath := filepath.Join(dir, "whitelist.txt")
	require.NoError(t, os.WriteFile(blockedPath, []byte("# comment\n203.0.113.1\n\n203.0.113.2\n"), 0644))
	require.NoError(t, os.WriteFile(whitelistPath, []byte("198.51.100.9\n"), 0644))

	m, err := New(nil, blockedPath, whitelistPath)
	require.NoError(t, err)

	require.True(t, m.IsBlocked("203.0.113.1"))
	require.True(t, m.IsBlocked("203.0.113.2"))
	require.False(t, m.IsBlocked("8.8.8.8"))
	require.True(t, m.IsWhitelisted("198.51.100.9"))
}

func TestMarkBlockedUnblocked(t *testing.T) {
	m, err := New(nil, "", "")
	require.NoError(t, err)

	m.MarkBlocked("1.2.3.4")
	require.True(t, m.IsBlocked("1.2.3.4"))

	m.MarkUnblocked("1.2.3.4")
	require.False(t, m.IsBlocked("1.2.3.4"))
}

func TestAddWhitelistPersistsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	whitelistPath := filepath.Join(dir, "whitelist.txt")

	hub := events.NewHub(nil)
	var received []events.Event
	hub.Subscribe(func(e events.Event) { received = append(received, e) }, events.TypeWhitelistAdded)

	m, err := New(hub, "", whitelistPath)
	require.NoError(t, err)

	require.NoError(t, m.AddWhitelist("9.9.9.9"))
	require.True(t, m.IsWhitelisted("9.9.9.9"))
	require.Len(t, received, 1)

	contents, err := os.ReadFile(whitelistPath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "9.9.9.9")
}

func TestRemoveWhitelistRewritesFileAndPublishes(t *testing.T) {
	dir := t.TempDir()
	whitelistPath := filepath.Join(dir, "whitelist.txt")
	require.NoError(t, os.WriteFile(whitelistPath, []byte("9.9.9.9\n8.8.8.8\n"), 0644))

	hub := events.NewHub(nil)
	var received []events.Event
	hub.Subscribe(func(e events.Event) { received = append(received, e) }, events.TypeWhitelistRemoved)

	m, err := New(hub, "", whitelistPath)
	require.NoError(t, err)

	require.NoError(t, m.RemoveWhitelist("9.9.9.9"))
	require.False(t, m.IsWhitelisted("9.9.9.9"))
	require.True(t, m.IsWhitelisted("8.8.8.8"))
	require.Len(t, received, 1)

	contents, err := os.ReadFile(whitelistPath)
	require.NoError(t, err)
	require.NotContains(t, string(contents), "9.9.9.9")
	require.Contains(t, string(contents), "8.8.8.8")
}

func TestBlockedAddressesSnapshot(t *testing.T) {
	m, err := New(nil, "", "")
	require.NoError(t, err)

	m.MarkBlocked("1.1.1.1")
	m.MarkBlocked("2.2.2.2")

	addrs := m.BlockedAddresses()
	require.ElementsMatch(t, []string{"1.1.1.1", "2.2.2.2"}, addrs)
}
