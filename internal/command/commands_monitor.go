package command

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wardline/wardline/internal/events"
)

// monitorWindow bounds how long a single "monitor" invocation listens
// before reporting back, since the command protocol is
// request-response rather than a long-lived feed.
const monitorWindow = 3 * time.Second

// MonitorCommand subscribes the issuing connection to the event bus
// for monitorWindow and reports what fired.
type MonitorCommand struct{}

func (MonitorCommand) Name() string        { return "monitor" }
func (MonitorCommand) Description() string { return "show event bus activity over a short window" }
func (MonitorCommand) Usage() string       { return "monitor" }

func (MonitorCommand) Execute(args []string, ctx *CommandContext) string {
	if ctx.Hub == nil {
		return "event bus not available"
	}

	var mu sync.Mutex
	var lines []string

	id := ctx.Hub.Subscribe(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf("%s %s %v", e.Timestamp.Format("15:04:05"), e.Type, e.Data))
	})
	time.Sleep(monitorWindow)
	ctx.Hub.Unsubscribe(id)

	mu.Lock()
	defer mu.Unlock()
	if len(lines) == 0 {
		return "no events observed"
	}
	return strings.Join(lines, "\n")
}
