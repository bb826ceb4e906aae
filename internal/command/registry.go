// Package command implements the line-oriented TCP administration
// protocol: a listener, a command registry, and the concrete commands
// operators use to inspect and steer a running daemon.
package command

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Command is a single named operation reachable from the command
// channel. Execute receives the arguments following the command name
// (already split on whitespace) and returns the text response to send
// back to the caller; an empty string sends nothing.
type Command interface {
	Name() string
	Description() string
	Usage() string
	Execute(args []string, ctx *CommandContext) string
}

// Registry holds the set of commands a Server dispatches against,
// keyed case-insensitively by name.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds cmd to the registry, replacing any existing command of
// the same name.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd.Name())] = cmd
}

// Unregister removes the command with the given name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, strings.ToLower(name))
}

// GetByName looks up a command case-insensitively.
func (r *Registry) GetByName(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// GetByType returns every registered command whose concrete type
// matches t, sorted by name. Mainly useful for grouping related
// commands (e.g. all whitelist subcommands) in help output.
func (r *Registry) GetByType(t reflect.Type) []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Command
	for _, cmd := range r.commands {
		if reflect.TypeOf(cmd) == t {
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Registered returns the registered commands sorted by name.
func (r *Registry) Registered() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Dispatch splits line on whitespace, looks up the first token as a
// command name, and executes it against ctx. An unknown command name
// produces a diagnostic response rather than an error, since the
// caller is a text protocol, not Go code.
func (r *Registry) Dispatch(line string, ctx *CommandContext) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	cmd, ok := r.GetByName(fields[0])
	if !ok {
		return "unknown command: " + fields[0] + " (try \"help\")"
	}
	return cmd.Execute(fields[1:], ctx)
}
