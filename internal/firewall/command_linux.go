//go:build linux
// +build linux

package firewall

import (
	"fmt"
	"os/exec"
	"strings"
)

// Run executes a command and discards its output on success. On failure
// the combined output is folded into the error, and an xtables-lock
// failure is wrapped as temporary.
func (r *RealCommandRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		wrapped := fmt.Errorf("command %s failed: %w: %s", name, err, string(out))
		if isTransientXtablesError(string(out)) {
			return WrapTemporary(wrapped)
		}
		return wrapped
	}
	return nil
}

// isTransientXtablesError reports whether out looks like iptables
// failed to acquire its xtables lock, held briefly by a concurrent
// iptables invocation rather than by a bad rule. Only this class of
// failure is worth retrying; a syntax error or a missing chain will
// fail the same way every time.
func isTransientXtablesError(out string) bool {
	return strings.Contains(out, "xtables lock") || strings.Contains(out, "Resource temporarily unavailable")
}

// Output executes a command and returns its output.
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// RunInput executes a command with input via stdin.
func (r *RealCommandRunner) RunInput(input string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(input)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, string(out))
	}
	return nil
}
