package firewall

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"

	"github.com/wardline/wardline/internal/logging"
	"github.com/wardline/wardline/internal/validation"
)

// CommandRunner abstracts process execution so the driver can be tested
// without a real iptables binary present.
type CommandRunner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
	RunInput(input string, name string, args ...string) error
}

// RealCommandRunner executes commands against the host via os/exec.
type RealCommandRunner struct{}

// Result reports the outcome of a single driver operation.
type Result struct {
	OK         bool
	Diagnostic string
}

// ReloadSpec carries the pieces of a Reload invocation that come from
// configuration rather than from the driver itself.
type ReloadSpec struct {
	SSHPort      string
	RateDropArgs [][]string
	RuleFiles    []string
}

// Driver issues packet-filter changes by invoking an external tool
// (default /sbin/iptables) as argv slices, never as a shell string.
type Driver struct {
	runner CommandRunner
	path   string
	mu     sync.Mutex
	retry  RetryConfig
}

// New returns a Driver that shells out to the given tool path using runner.
// A nil runner defaults to RealCommandRunner{}.
func New(path string, runner CommandRunner) *Driver {
	if path == "" {
		path = "/sbin/iptables"
	}
	if runner == nil {
		runner = &RealCommandRunner{}
	}
	retry := DefaultRetryConfig()
	retry.RetryableErrors = []error{ErrTemporary}
	return &Driver{
		runner: runner,
		path:   path,
		retry:  retry,
	}
}

// Block inserts a DROP rule for inbound traffic from addr at the head of
// the INPUT chain. Block durations are tracked by the caller; the driver
// itself is stateless.
func (d *Driver) Block(ctx context.Context, addr string) Result {
	if err := validation.ValidateIPOrCIDR(addr); err != nil {
		return Result{OK: false, Diagnostic: err.Error()}
	}
	return d.runLocked(ctx, "-I", "INPUT", "1", "-s", addr, "-j", "DROP")
}

// Unblock deletes the DROP rule previously installed by Block for addr.
func (d *Driver) Unblock(ctx context.Context, addr string) Result {
	if err := validation.ValidateIPOrCIDR(addr); err != nil {
		return Result{OK: false, Diagnostic: err.Error()}
	}
	return d.runLocked(ctx, "-D", "INPUT", "-s", addr, "-j", "DROP")
}

// Reload rebuilds the INPUT chain from scratch: default-accept, flush,
// SSH allow and rate-drop rules from config, the two rules.txt files,
// then default-drop. Ordering matters; each step runs in sequence. A
// failure of a fixed step (policy, flush, SSH allow, rate-drop, final
// default-drop) aborts the remaining steps; a failing rules.txt line is
// logged and skipped.
func (d *Driver) Reload(ctx context.Context, spec ReloadSpec) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	steps := [][]string{
		{"-P", "INPUT", "ACCEPT"},
		{"-F", "INPUT"},
	}
	if spec.SSHPort != "" {
		steps = append(steps, []string{"-I", "INPUT", "1", "-p", "tcp", "--dport", spec.SSHPort, "-j", "ACCEPT"})
	}
	steps = append(steps, spec.RateDropArgs...)

	for _, args := range steps {
		if err := d.execRetried(ctx, args); err != nil {
			return Result{OK: false, Diagnostic: err.Error()}
		}
	}

	for _, file := range spec.RuleFiles {
		d.applyRuleFile(ctx, file)
	}

	if err := d.execRetried(ctx, []string{"-P", "INPUT", "DROP"}); err != nil {
		return Result{OK: false, Diagnostic: err.Error()}
	}

	return Result{OK: true}
}

func (d *Driver) runLocked(ctx context.Context, args ...string) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.execRetried(ctx, args); err != nil {
		return Result{OK: false, Diagnostic: err.Error()}
	}
	return Result{OK: true}
}

func (d *Driver) execRetried(ctx context.Context, args []string) error {
	return Retry(ctx, d.retry, func() error {
		return d.runner.Run(d.path, args...)
	})
}

// applyRuleFile executes each non-comment, non-blank line of a rules.txt
// file as a separate iptables invocation, one argv per line. Failures are
// logged and skipped rather than aborting the reload: a single bad line
// should not leave the chain half-built.
func (d *Driver) applyRuleFile(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		logging.LifecycleLog("warn", "reload: cannot open rule file %s: %v", path, err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args := strings.Fields(line)
		if err := d.execRetried(ctx, args); err != nil {
			logging.LifecycleLog("warn", "reload: rule %q failed: %v", line, err)
		}
	}
}
