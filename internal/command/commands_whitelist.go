package command

import "strings"

// WhitelistCommand manages the whitelist via its add/remove
// subcommands: whitelist add|remove <address>.
type WhitelistCommand struct{}

func (WhitelistCommand) Name() string        { return "whitelist" }
func (WhitelistCommand) Description() string { return "add or remove a whitelisted address" }
func (WhitelistCommand) Usage() string       { return "whitelist add|remove <address>" }

func (WhitelistCommand) Execute(args []string, ctx *CommandContext) string {
	if len(args) < 2 {
		return "usage: " + WhitelistCommand{}.Usage()
	}
	addr := args[1]
	switch strings.ToLower(args[0]) {
	case "add":
		if err := ctx.Blocklist.AddWhitelist(addr); err != nil {
			return "whitelist add failed: " + err.Error()
		}
		return "whitelisted " + addr
	case "remove":
		if err := ctx.Blocklist.RemoveWhitelist(addr); err != nil {
			return "whitelist remove failed: " + err.Error()
		}
		return "removed " + addr + " from whitelist"
	default:
		return "usage: " + WhitelistCommand{}.Usage()
	}
}
