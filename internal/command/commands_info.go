package command

import (
	"fmt"
	"sort"
	"strings"
)

// helpCommand lists every registered command with its description.
// It holds a reference to the registry it lives in since Execute has
// no other way to see its siblings.
type helpCommand struct{ reg *Registry }

func (h *helpCommand) Name() string        { return "help" }
func (h *helpCommand) Description() string { return "list available commands" }
func (h *helpCommand) Usage() string       { return "help" }

func (h *helpCommand) Execute(args []string, ctx *CommandContext) string {
	var b strings.Builder
	for _, c := range h.reg.Registered() {
		fmt.Fprintf(&b, "%-14s %s\n", c.Name(), c.Description())
	}
	return strings.TrimRight(b.String(), "\n")
}

// ListCommand reports every currently blocked address.
type ListCommand struct{}

func (ListCommand) Name() string        { return "list" }
func (ListCommand) Description() string { return "list blocked addresses" }
func (ListCommand) Usage() string       { return "list" }

func (ListCommand) Execute(args []string, ctx *CommandContext) string {
	addrs := ctx.Blocklist.BlockedAddresses()
	if len(addrs) == 0 {
		return "no addresses currently blocked"
	}
	sort.Strings(addrs)
	return strings.Join(addrs, "\n")
}

// StatusCommand summarizes the daemon's current enforcement state.
type StatusCommand struct{}

func (StatusCommand) Name() string        { return "status" }
func (StatusCommand) Description() string { return "show block/whitelist counters and uptime" }
func (StatusCommand) Usage() string       { return "status" }

func (StatusCommand) Execute(args []string, ctx *CommandContext) string {
	blocked := ctx.Blocklist.BlockedAddresses()
	whitelisted := ctx.Blocklist.WhitelistedAddresses()

	var b strings.Builder
	fmt.Fprintf(&b, "blocked: %d\n", len(blocked))
	fmt.Fprintf(&b, "whitelisted: %d\n", len(whitelisted))
	fmt.Fprintf(&b, "scheduled jobs: %d\n", len(ctx.Scheduler.ListIDs()))
	fmt.Fprintf(&b, "uptime: %s", ctx.Now().Sub(ctx.StartedAt).Round(1e9).String())

	if ctx.Store != nil && ctx.RootCtx != nil {
		if stats, err := ctx.Store.GetStats(ctx.RootCtx); err == nil {
			fmt.Fprintf(&b, "\ntotal history rows: %d", stats.Total)
		}
	}
	return b.String()
}

// InfoCommand reports version and peer identity.
type InfoCommand struct{}

func (InfoCommand) Name() string        { return "info" }
func (InfoCommand) Description() string { return "show daemon version and connection info" }
func (InfoCommand) Usage() string       { return "info" }

func (InfoCommand) Execute(args []string, ctx *CommandContext) string {
	return fmt.Sprintf("version: %s\nconnected from: %s\nserver time: %s",
		ctx.Version, ctx.PeerAddr, ctx.Now().Format("2006-01-02T15:04:05Z07:00"))
}

// ExitCommand tells the caller the connection is closing and triggers
// daemon shutdown via ctx.Shutdown.
type ExitCommand struct{}

func (ExitCommand) Name() string        { return "exit" }
func (ExitCommand) Description() string { return "shut down the daemon" }
func (ExitCommand) Usage() string       { return "exit" }

func (ExitCommand) Execute(args []string, ctx *CommandContext) string {
	if ctx.Shutdown != nil {
		go ctx.Shutdown()
	}
	return "shutting down"
}
