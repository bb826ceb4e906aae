package firewall

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   [][]string
	failN   int
	failErr error
}

func (f *fakeRunner) Run(name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.failN > 0 {
		f.failN--
		if f.failErr != nil {
			return f.failErr
		}
		return errors.New("boom")
	}
	return nil
}

func (f *fakeRunner) Output(name string, args ...string) ([]byte, error) {
	return nil, nil
}

func (f *fakeRunner) RunInput(input string, name string, args ...string) error {
	return nil
}

func noDelay(d *Driver) {
	d.retry.InitialDelay = 0
	d.retry.MaxDelay = 0
}

func TestBlockInsertsDropRule(t *testing.T) {
	runner := &fakeRunner{}
	d := New("/sbin/iptables", runner)
	noDelay(d)

	result := d.Block(context.Background(), "203.0.113.5")
	require.True(t, result.OK)
	require.Len(t, runner.calls, 1)
	require.Equal(t, []string{"/sbin/iptables", "-I", "INPUT", "1", "-s", "203.0.113.5", "-j", "DROP"}, runner.calls[0])
}

func TestUnblockDeletesDropRule(t *testing.T) {
	runner := &fakeRunner{}
	d := New("", runner)
	noDelay(d)

	result := d.Unblock(context.Background(), "203.0.113.5")
	require.True(t, result.OK)
	require.Equal(t, []string{"/sbin/iptables", "-D", "INPUT", "-s", "203.0.113.5", "-j", "DROP"}, runner.calls[0])
}

func TestBlockRejectsInvalidAddress(t *testing.T) {
	runner := &fakeRunner{}
	d := New("/sbin/iptables", runner)

	result := d.Block(context.Background(), "not-an-address; rm -rf /")
	require.False(t, result.OK)
	require.Empty(t, runner.calls)
}

func TestBlockRetriesOnTransientFailure(t *testing.T) {
	runner := &fakeRunner{failN: 1, failErr: WrapTemporary(errors.New("xtables lock busy"))}
	d := New("/sbin/iptables", runner)
	noDelay(d)

	result := d.Block(context.Background(), "198.51.100.9")
	require.True(t, result.OK)
	require.Len(t, runner.calls, 2)
}

func TestBlockDoesNotRetryPermanentFailure(t *testing.T) {
	runner := &fakeRunner{failN: 1}
	d := New("/sbin/iptables", runner)
	noDelay(d)

	result := d.Block(context.Background(), "198.51.100.9")
	require.False(t, result.OK)
	require.Len(t, runner.calls, 1)
}

func TestReloadRunsStepsInOrder(t *testing.T) {
	runner := &fakeRunner{}
	d := New("/sbin/iptables", runner)
	noDelay(d)

	result := d.Reload(context.Background(), ReloadSpec{
		SSHPort: "22",
		RateDropArgs: [][]string{
			{"-A", "INPUT", "-p", "tcp", "--dport", "80", "-m", "limit", "--limit", "10/s", "-j", "ACCEPT"},
		},
	})
	require.True(t, result.OK)

	require.Equal(t, []string{"/sbin/iptables", "-P", "INPUT", "ACCEPT"}, runner.calls[0])
	require.Equal(t, []string{"/sbin/iptables", "-F", "INPUT"}, runner.calls[1])
	require.Equal(t, []string{"/sbin/iptables", "-I", "INPUT", "1", "-p", "tcp", "--dport", "22", "-j", "ACCEPT"}, runner.calls[2])
	require.Equal(t, []string{"/sbin/iptables", "-A", "INPUT", "-p", "tcp", "--dport", "80", "-m", "limit", "--limit", "10/s", "-j", "ACCEPT"}, runner.calls[3])
	last := runner.calls[len(runner.calls)-1]
	require.Equal(t, []string{"/sbin/iptables", "-P", "INPUT", "DROP"}, last)
}

func TestReloadAppliesRuleFileLines(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.txt")
	content := "# comment\n\n-A INPUT -s 192.0.2.1 -j DROP\n"
	require.NoError(t, os.WriteFile(rulesPath, []byte(content), 0644))

	runner := &fakeRunner{}
	d := New("/sbin/iptables", runner)
	noDelay(d)

	result := d.Reload(context.Background(), ReloadSpec{RuleFiles: []string{rulesPath}})
	require.True(t, result.OK)

	found := false
	for _, call := range runner.calls {
		if len(call) >= 2 && call[1] == "-A" {
			found = true
		}
	}
	require.True(t, found)
}
