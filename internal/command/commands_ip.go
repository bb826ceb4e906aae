package command

import (
	"fmt"
	"strings"

	"github.com/wardline/wardline/internal/validation"
)

// IPHistoryCommand lists the recorded lifecycle events for an address.
type IPHistoryCommand struct{}

func (IPHistoryCommand) Name() string        { return "ip-history" }
func (IPHistoryCommand) Description() string { return "show recorded history for an address" }
func (IPHistoryCommand) Usage() string       { return "ip-history <address>" }

func (IPHistoryCommand) Execute(args []string, ctx *CommandContext) string {
	if len(args) == 0 {
		return "usage: " + IPHistoryCommand{}.Usage()
	}
	events, err := ctx.Store.ListHistory(ctx.RootCtx, args[0])
	if err != nil {
		return "ip-history failed: " + err.Error()
	}
	if len(events) == 0 {
		return "no history for " + args[0]
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "%s  %s\n", e.Time.Format("2006-01-02T15:04:05Z07:00"), e.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// IPTagCommand manages free-form tags on an address: ip-tag
// add|remove|list <address> [tag].
type IPTagCommand struct{}

func (IPTagCommand) Name() string        { return "ip-tag" }
func (IPTagCommand) Description() string { return "add, remove, or list tags on an address" }
func (IPTagCommand) Usage() string       { return "ip-tag add|remove|list <address> [tag]" }

func (IPTagCommand) Execute(args []string, ctx *CommandContext) string {
	if len(args) < 2 {
		return "usage: " + IPTagCommand{}.Usage()
	}
	sub, addr := strings.ToLower(args[0]), args[1]

	switch sub {
	case "list":
		tags, err := ctx.Store.ListTags(ctx.RootCtx, addr)
		if err != nil {
			return "ip-tag failed: " + err.Error()
		}
		if len(tags) == 0 {
			return "no tags for " + addr
		}
		return strings.Join(tags, ", ")
	case "add":
		if len(args) < 3 {
			return "usage: ip-tag add <address> <tag>"
		}
		if err := validation.ValidateIdentifier(args[2]); err != nil {
			return "invalid tag: " + err.Error()
		}
		if err := ctx.Store.InsertTag(ctx.RootCtx, addr, args[2]); err != nil {
			return "ip-tag failed: " + err.Error()
		}
		return fmt.Sprintf("tagged %s with %q", addr, args[2])
	case "remove":
		if len(args) < 3 {
			return "usage: ip-tag remove <address> <tag>"
		}
		if err := ctx.Store.DeleteTag(ctx.RootCtx, addr, args[2]); err != nil {
			return "ip-tag failed: " + err.Error()
		}
		return fmt.Sprintf("removed tag %q from %s", args[2], addr)
	default:
		return "usage: " + IPTagCommand{}.Usage()
	}
}

// IPCommentCommand manages freeform timestamped comments on an
// address: ip-comment add|list <address> [text...].
type IPCommentCommand struct{}

func (IPCommentCommand) Name() string        { return "ip-comment" }
func (IPCommentCommand) Description() string { return "add or list comments on an address" }
func (IPCommentCommand) Usage() string       { return "ip-comment add|list <address> [text...]" }

func (IPCommentCommand) Execute(args []string, ctx *CommandContext) string {
	if len(args) < 2 {
		return "usage: " + IPCommentCommand{}.Usage()
	}
	sub, addr := strings.ToLower(args[0]), args[1]

	switch sub {
	case "list":
		comments, err := ctx.Store.ListComments(ctx.RootCtx, addr)
		if err != nil {
			return "ip-comment failed: " + err.Error()
		}
		if len(comments) == 0 {
			return "no comments for " + addr
		}
		var b strings.Builder
		for _, c := range comments {
			fmt.Fprintf(&b, "%s  %s\n", c.Time.Format("2006-01-02T15:04:05Z07:00"), c.Comment)
		}
		return strings.TrimRight(b.String(), "\n")
	case "add":
		if len(args) < 3 {
			return "usage: ip-comment add <address> <text...>"
		}
		text := validation.SanitizeString(strings.Join(args[2:], " "))
		if err := ctx.Store.InsertComment(ctx.RootCtx, addr, ctx.Now(), text); err != nil {
			return "ip-comment failed: " + err.Error()
		}
		return "comment added to " + addr
	default:
		return "usage: " + IPCommentCommand{}.Usage()
	}
}
