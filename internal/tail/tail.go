// Package tail follows a growing syslog file and extracts connection
// records logged by the kernel's netfilter LOG target.
package tail

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/wardline/wardline/internal/logging"
)

// Record is a single classified connection attempt extracted from a log
// line.
type Record struct {
	Protocol string // "TCP" or "UDP"
	Src      string
	SrcPort  string
	DstPort  string
	Raw      string
}

// syslog prefix: "Mon DD HH:MM:SS host tag[pid]: " (day may be
// single-digit with an extra leading space).
var syslogPrefixRe = regexp.MustCompile(`^\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+\S+\s+\S+:\s*`)

var fieldRe = regexp.MustCompile(`(\w+)=(\S+)`)

// Tailer follows path from its current end, emitting a Record for every
// new-connection line it recognizes. onRecord is called synchronously
// from the polling loop; it should not block for long.
type Tailer struct {
	path         string
	pollInterval time.Duration
	cursor       int64
	onRecord     func(Record)
	onRotated    func() // invoked after each batch of new lines, for rotation bookkeeping on the output log
	log          *logging.Logger
}

// New returns a Tailer seeked to the current end of path. onRotated, if
// non-nil, runs after every successful poll that produced new lines.
func New(path string, pollInterval time.Duration, onRecord func(Record), onRotated func()) (*Tailer, error) {
	t := &Tailer{
		path:         path,
		pollInterval: pollInterval,
		onRecord:     onRecord,
		onRotated:    onRotated,
		log:          logging.WithComponent("tail"),
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}
	t.cursor = info.Size()
	return t, nil
}

// Run polls path every pollInterval until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.poll(); err != nil {
				t.log.Warn("poll failed", "error", err)
			}
		}
	}
}

func (t *Tailer) poll() error {
	info, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.Size() < t.cursor {
		// File was truncated or rotated out from under us.
		t.cursor = 0
	}
	if info.Size() == t.cursor {
		return nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(t.cursor, 0); err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var sawLine bool
	for scanner.Scan() {
		sawLine = true
		t.cursor += int64(len(scanner.Bytes())) + 1
		t.classify(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if sawLine && t.onRotated != nil {
		t.onRotated()
	}
	return nil
}

func (t *Tailer) classify(line string) {
	rest := syslogPrefixRe.ReplaceAllString(line, "")

	var protocol string
	switch {
	case strings.HasPrefix(rest, "New TCP connection:"):
		protocol = "TCP"
	case strings.HasPrefix(rest, "New UDP connection:"):
		protocol = "UDP"
	default:
		return
	}

	fields := make(map[string]string)
	for _, m := range fieldRe.FindAllStringSubmatch(rest, -1) {
		fields[m[1]] = m[2]
	}

	src := fields["SRC"]
	if src == "" || src == "127.0.0.1" {
		return
	}

	t.onRecord(Record{
		Protocol: protocol,
		Src:      src,
		SrcPort:  fields["SPT"],
		DstPort:  fields["DPT"],
		Raw:      line,
	})
}
