package command

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wardline/wardline/internal/logging"
	"github.com/wardline/wardline/internal/validation"
)

// RotateCommand archives the current plaintext connection log into
// ServerConnectionLogsDir as a gzip file stamped with the rotation
// time, then truncates the live log, grounded on the teacher's
// gzip-archive idiom in internal/firewall/firehol.go.
type RotateCommand struct{}

func (RotateCommand) Name() string        { return "rotate" }
func (RotateCommand) Description() string { return "rotate the connection attempts log" }
func (RotateCommand) Usage() string       { return "rotate" }

func (RotateCommand) Execute(args []string, ctx *CommandContext) string {
	if ctx.ConnectionLogPath == "" {
		return "no connection log configured"
	}
	data, err := os.ReadFile(ctx.ConnectionLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "nothing to rotate"
		}
		return "rotate failed: " + err.Error()
	}

	if err := os.MkdirAll(ctx.ServerConnectionLogsDir, 0o755); err != nil {
		return "rotate failed: " + err.Error()
	}

	stamp := ctx.Now().Format("20060102150405")
	archivePath := filepath.Join(ctx.ServerConnectionLogsDir, fmt.Sprintf("connection_attempts_%s.txt.gz", stamp))

	f, err := os.Create(archivePath)
	if err != nil {
		return "rotate failed: " + err.Error()
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		f.Close()
		return "rotate failed: " + err.Error()
	}
	gz.Close()
	f.Close()

	if err := os.Truncate(ctx.ConnectionLogPath, 0); err != nil {
		return "rotate failed: " + err.Error()
	}

	pruneArchives(ctx.ServerConnectionLogsDir, ctx.MaxLogArchives)
	return "rotated to " + filepath.Base(archivePath)
}

// pruneArchives removes the oldest rotated archives beyond keep,
// keyed by filename since the timestamp stamp sorts lexically.
func pruneArchives(dir string, keep int) {
	if keep <= 0 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt.gz") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for len(names) > keep {
		os.Remove(filepath.Join(dir, names[0]))
		names = names[1:]
	}
}

// ClearCommand empties the in-memory ring-buffer log used by
// show-logs for the service log sources.
type ClearCommand struct{}

func (ClearCommand) Name() string        { return "clear" }
func (ClearCommand) Description() string { return "clear the in-memory log buffer" }
func (ClearCommand) Usage() string       { return "clear" }

func (ClearCommand) Execute(args []string, ctx *CommandContext) string {
	logging.GetAppLogBuffer().Clear()
	return "log buffer cleared"
}

// ReloadCommand rebuilds the packet-filter chain from the current
// configuration and rule files.
type ReloadCommand struct{}

func (ReloadCommand) Name() string        { return "reload" }
func (ReloadCommand) Description() string { return "reload packet-filter rules from disk" }
func (ReloadCommand) Usage() string       { return "reload" }

func (ReloadCommand) Execute(args []string, ctx *CommandContext) string {
	if ctx.Driver == nil || ctx.ReloadSpec == nil {
		return "reload not available"
	}
	result := ctx.Driver.Reload(ctx.RootCtx, ctx.ReloadSpec())
	if !result.OK {
		return "reload failed: " + result.Diagnostic
	}
	return "reload complete"
}

// ShowLogsCommand surfaces recent log entries from dmesg, syslog,
// nftables, or one of the daemon's own service logs. Usage:
// show-logs [source] [limit]
type ShowLogsCommand struct{}

func (ShowLogsCommand) Name() string        { return "show-logs" }
func (ShowLogsCommand) Description() string { return "show recent log entries" }
func (ShowLogsCommand) Usage() string       { return "show-logs [source] [limit]" }

func (ShowLogsCommand) Execute(args []string, ctx *CommandContext) string {
	if ctx.LogReader == nil {
		return "log reader not available"
	}
	filter := logging.LogFilter{Limit: 50}
	if len(args) >= 1 && args[0] != "all" {
		filter.Source = logging.LogSource(args[0])
	}
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			filter.Limit = n
		}
	}

	entries, err := ctx.LogReader.GetLogs(filter)
	if err != nil {
		return "show-logs failed: " + err.Error()
	}
	if len(entries) == 0 {
		return "no log entries"
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s [%s] %s: %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Level, e.Source, e.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExportLogsCommand encrypts a JSON export of recent log entries and
// writes it under SecureExportDir, grounded on the wire key/IV used
// for the command channel itself.
type ExportLogsCommand struct{}

func (ExportLogsCommand) Name() string        { return "exportlogs" }
func (ExportLogsCommand) Description() string { return "export recent logs as an encrypted file" }
func (ExportLogsCommand) Usage() string       { return "exportlogs <filename>" }

func (ExportLogsCommand) Execute(args []string, ctx *CommandContext) string {
	if len(args) == 0 {
		return "usage: " + ExportLogsCommand{}.Usage()
	}
	if ctx.ExportCipher == nil || ctx.SecureExportDir == "" {
		return "exportlogs is not configured"
	}
	if err := validation.ValidatePath(args[0], nil); err != nil {
		return "invalid filename: " + err.Error()
	}
	name := filepath.Base(args[0])
	if name == "." || name == "/" || name == "" {
		return "invalid filename"
	}
	outPath := filepath.Join(ctx.SecureExportDir, name)

	entries, err := ctx.LogReader.GetLogs(logging.LogFilter{Limit: 5000})
	if err != nil {
		return "exportlogs failed: " + err.Error()
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s [%s] %s: %s", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Level, e.Source, e.Message))
	}

	payload, err := json.Marshal(lines)
	if err != nil {
		return "exportlogs failed: " + err.Error()
	}

	ciphertext, err := ctx.ExportCipher.Encrypt(string(payload))
	if err != nil {
		return "exportlogs failed: " + err.Error()
	}

	if err := os.MkdirAll(ctx.SecureExportDir, 0o700); err != nil {
		return "exportlogs failed: " + err.Error()
	}
	if err := os.WriteFile(outPath, []byte(ciphertext), 0o600); err != nil {
		return "exportlogs failed: " + err.Error()
	}

	return fmt.Sprintf("exported %d log lines to %s", len(lines), outPath)
}
