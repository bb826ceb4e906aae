package tail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollEmitsRecordForNewConnection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connections.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	var records []Record
	tailer, err := New(path, 5*time.Millisecond, func(r Record) { records = append(records, r) }, nil)
	require.NoError(t, err)

	line := "Jan  5 12:34:56 host kernel: New TCP connection: IN=eth0 OUT= SRC=203.0.113.5 DST=10.0.0.1 SPT=54321 DPT=22\n"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, tailer.poll())
	require.Len(t, records, 1)
	require.Equal(t, "TCP", records[0].Protocol)
	require.Equal(t, "203.0.113.5", records[0].Src)
	require.Equal(t, "54321", records[0].SrcPort)
	require.Equal(t, "22", records[0].DstPort)
}

func TestPollFiltersLoopback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connections.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	var records []Record
	tailer, err := New(path, 5*time.Millisecond, func(r Record) { records = append(records, r) }, nil)
	require.NoError(t, err)

	line := "Jan  5 12:34:56 host kernel: New TCP connection: SRC=127.0.0.1 DPT=22\n"
	require.NoError(t, appendLine(path, line))

	require.NoError(t, tailer.poll())
	require.Empty(t, records)
}

func TestPollIgnoresUnrelatedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connections.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	var records []Record
	tailer, err := New(path, 5*time.Millisecond, func(r Record) { records = append(records, r) }, nil)
	require.NoError(t, err)

	require.NoError(t, appendLine(path, "Jan  5 12:34:56 host kernel: unrelated kernel message\n"))
	require.NoError(t, tailer.poll())
	require.Empty(t, records)
}

func TestPollHandlesTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connections.log")
	line1 := "Jan  5 12:34:56 host kernel: New TCP connection: SRC=203.0.113.1 DPT=22\n"
	require.NoError(t, os.WriteFile(path, []byte(line1), 0644))

	var records []Record
	tailer, err := New(path, 5*time.Millisecond, func(r Record) { records = append(records, r) }, nil)
	require.NoError(t, err)
	// Force cursor past current file size so the next poll must detect truncation.
	tailer.cursor = int64(len(line1)) + 100

	line2 := "Jan  5 12:35:00 host kernel: New TCP connection: SRC=203.0.113.2 DPT=80\n"
	require.NoError(t, os.WriteFile(path, []byte(line2), 0644))

	require.NoError(t, tailer.poll())
	require.Len(t, records, 1)
	require.Equal(t, "203.0.113.2", records[0].Src)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connections.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	tailer, err := New(path, 5*time.Millisecond, func(r Record) {}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tailer.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}
