package command

import (
	"context"
	"time"

	"github.com/wardline/wardline/internal/blocklist"
	"github.com/wardline/wardline/internal/clock"
	"github.com/wardline/wardline/internal/events"
	"github.com/wardline/wardline/internal/firewall"
	"github.com/wardline/wardline/internal/lifecycle"
	"github.com/wardline/wardline/internal/logging"
	"github.com/wardline/wardline/internal/scheduler"
	"github.com/wardline/wardline/internal/store"
	"github.com/wardline/wardline/internal/wire"
)

// Reloader is the narrow slice of the packet-filter driver the reload
// command needs.
type Reloader interface {
	Reload(ctx context.Context, spec firewall.ReloadSpec) firewall.Result
}

// CommandContext carries every collaborator a Command might need.
// Commands receive it by pointer and are expected to treat it as
// read-only except through the collaborators' own exported methods.
type CommandContext struct {
	Blocklist *blocklist.Manager
	Lifecycle *lifecycle.Manager
	Store     *store.Store
	Driver    Reloader
	Scheduler *scheduler.Scheduler
	Hub       *events.Hub
	LogReader *logging.LogReader
	Clock     clock.Clock

	ExportCipher    *wire.Cipher
	SecureExportDir string

	ReloadSpec func() firewall.ReloadSpec

	// RootCtx bounds store/driver calls issued from a command handler;
	// it lives for the daemon's lifetime, not the connection's.
	RootCtx context.Context

	ConnectionLogPath       string
	ServerConnectionLogsDir string
	MaxLogArchives          int

	StartedAt time.Time
	Version   string

	// Shutdown is invoked by the "exit" command to stop the daemon.
	// Commands never call it directly on behalf of a peer other than
	// exit itself.
	Shutdown func()

	// PeerAddr is the remote address of the connection the command
	// arrived on, used by whoami-style diagnostics and audit logging.
	PeerAddr string
}

// Now returns the context's clock time, falling back to the wall
// clock if none was configured.
func (c *CommandContext) Now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}
