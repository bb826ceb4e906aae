package command

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wardline/wardline/internal/lifecycle"
	"github.com/wardline/wardline/internal/validation"
)

// BlockCommand installs a manual block for an address. Usage:
// block <address> [duration_seconds] [reason]
type BlockCommand struct{}

func (BlockCommand) Name() string        { return "block" }
func (BlockCommand) Description() string { return "block an address" }
func (BlockCommand) Usage() string       { return "block <address> [duration_seconds] [reason]" }

func (BlockCommand) Execute(args []string, ctx *CommandContext) string {
	if len(args) == 0 {
		return "usage: " + BlockCommand{}.Usage()
	}
	addr := args[0]
	if err := validation.ValidateIPOrCIDR(addr); err != nil {
		return "invalid address: " + err.Error()
	}

	duration := 24 * time.Hour
	if len(args) >= 2 {
		secs, err := strconv.Atoi(args[1])
		if err != nil {
			return "invalid duration: " + err.Error()
		}
		duration = time.Duration(secs) * time.Second
	}

	reason := "manual"
	if len(args) >= 3 {
		reason = validation.SanitizeString(args[2])
	}

	if err := ctx.Lifecycle.Block(ctx.RootCtx, addr, duration, reason); err != nil {
		if err == lifecycle.ErrWhitelisted {
			return addr + " is whitelisted; not blocking"
		}
		return "block failed: " + err.Error()
	}
	return fmt.Sprintf("blocked %s for %s (%s)", addr, duration, reason)
}

// UnblockCommand removes a block for a single address.
type UnblockCommand struct{}

func (UnblockCommand) Name() string        { return "unblock" }
func (UnblockCommand) Description() string { return "unblock an address" }
func (UnblockCommand) Usage() string       { return "unblock <address>" }

func (UnblockCommand) Execute(args []string, ctx *CommandContext) string {
	if len(args) == 0 {
		return "usage: " + UnblockCommand{}.Usage()
	}
	addr := args[0]
	if err := ctx.Lifecycle.Unblock(ctx.RootCtx, addr); err != nil {
		return "unblock failed: " + err.Error()
	}
	return "unblocked " + addr
}

// UnblockAllCommand clears every active block.
type UnblockAllCommand struct{}

func (UnblockAllCommand) Name() string        { return "unblockall" }
func (UnblockAllCommand) Description() string { return "unblock every currently blocked address" }
func (UnblockAllCommand) Usage() string       { return "unblockall" }

func (UnblockAllCommand) Execute(args []string, ctx *CommandContext) string {
	addrs := ctx.Blocklist.BlockedAddresses()
	var failed int
	for _, addr := range addrs {
		if err := ctx.Lifecycle.Unblock(ctx.RootCtx, addr); err != nil {
			failed++
		}
	}
	return fmt.Sprintf("unblocked %d address(es), %d failed", len(addrs)-failed, failed)
}
