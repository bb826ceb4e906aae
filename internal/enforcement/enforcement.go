// Package enforcement classifies connection records from C7's tailer
// into identifiers, geo and rate decisions, and plaintext log entries,
// calling into the block lifecycle manager when a threshold is crossed.
package enforcement

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardline/wardline/internal/blocklist"
	"github.com/wardline/wardline/internal/clock"
	"github.com/wardline/wardline/internal/events"
	"github.com/wardline/wardline/internal/logging"
	"github.com/wardline/wardline/internal/ratelimit"
	"github.com/wardline/wardline/internal/tail"
)

// GeoResolver is the subset of *geo.Resolver the engine needs.
type GeoResolver interface {
	CountryOf(addr string) string
	IsBlockedCountry(addr string) bool
}

// noopGeoResolver stands in for GeoResolver when geo-blocking is
// disabled, so Handle has a real dynamic type to call through.
type noopGeoResolver struct{}

func (noopGeoResolver) CountryOf(addr string) string      { return "" }
func (noopGeoResolver) IsBlockedCountry(addr string) bool { return false }

// Blocker is the subset of *lifecycle.Manager the engine calls into.
// Depending on a narrow interface rather than the concrete lifecycle
// type keeps the dependency graph a DAG: C8 never needs to know about
// C9's store or scheduler plumbing.
type Blocker interface {
	Block(ctx context.Context, addr string, duration time.Duration, reason string) error
}

// Config holds the tunables §4.8 and §8 reference.
type Config struct {
	ThresholdAttempts int
	ThresholdSeconds  time.Duration
	DefaultDuration   time.Duration
	PlaintextLogs     bool
	PlaintextLogPath  string
	DNSTimeout        time.Duration

	PortScanWindow       time.Duration
	PortScanDistinctPort int

	HTTPBruteforcePorts    []string
	HTTPBruteforceLimit    int
	HTTPBruteforceInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ThresholdAttempts:      10,
		ThresholdSeconds:       60 * time.Second,
		DefaultDuration:        24 * time.Hour,
		DNSTimeout:             500 * time.Millisecond,
		PortScanWindow:         10 * time.Second,
		PortScanDistinctPort:   8,
		HTTPBruteforcePorts:    []string{"80", "443", "8080"},
		HTTPBruteforceLimit:    20,
		HTTPBruteforceInterval: time.Minute,
	}
}

// Engine turns classified Records into identifiers, events, and block
// decisions.
type Engine struct {
	cfg       Config
	blocklist *blocklist.Manager
	geo       GeoResolver
	blocker   Blocker
	hub       *events.Hub
	window    *ratelimit.WindowSet
	clk       clock.Clock
	log       *logging.Logger

	idMu sync.Mutex
	ids  map[string]string // address -> memoized identifier

	logMu  sync.Mutex
	logger *os.File

	portsMu sync.Mutex
	ports   map[string][]portHit

	bruteforce *ratelimit.Limiter
}

// portHit is one destination-port observation, retained so the
// periodic port-scan detector can later ask how many distinct ports a
// source touched within a recent window.
type portHit struct {
	at   time.Time
	port string
}

// New returns an Engine wired to its collaborators. clk may be nil.
// geoResolver may be nil when geo-blocking is disabled by config; a
// no-op resolver is substituted so Handle never dispatches through a
// nil interface.
func New(cfg Config, bl *blocklist.Manager, geoResolver GeoResolver, blocker Blocker, hub *events.Hub, clk clock.Clock) *Engine {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if geoResolver == nil {
		geoResolver = noopGeoResolver{}
	}
	return &Engine{
		cfg:        cfg,
		blocklist:  bl,
		geo:        geoResolver,
		blocker:    blocker,
		hub:        hub,
		window:     ratelimit.NewWindowSet(clk),
		clk:        clk,
		log:        logging.WithComponent("enforcement"),
		ids:        make(map[string]string),
		ports:      make(map[string][]portHit),
		bruteforce: ratelimit.NewLimiter(),
	}
}

// identifierFor returns a stable UUIDv4 for addr, minting one on first
// sight. Memoized per address so repeated lines for the same source
// share one identifier across the process lifetime.
func (e *Engine) identifierFor(addr string) string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	if id, ok := e.ids[addr]; ok {
		return id
	}
	id := uuid.NewString()
	e.ids[addr] = id
	return id
}

// Handle processes one classified connection record end to end: geo
// and whitelist checks, event publication, rate-window bookkeeping,
// plaintext logging, and threshold-triggered blocking.
func (e *Engine) Handle(ctx context.Context, rec tail.Record) {
	addr := rec.Src
	_ = e.identifierFor(addr)

	if e.blocklist.IsWhitelisted(addr) {
		e.log.Debug("whitelisted source, skipping", "address", addr)
		return
	}

	now := e.clk.Now()
	if e.hub != nil {
		e.hub.Publish(events.Event{
			Type:      events.TypeConnectionAttempt,
			Timestamp: now,
			Data: events.ConnectionAttemptData{
				Address:  addr,
				SrcPort:  rec.SrcPort,
				DstPort:  rec.DstPort,
				Protocol: rec.Protocol,
			},
		})
	}

	country := e.geo.CountryOf(addr)
	if e.geo.IsBlockedCountry(addr) {
		if e.hub != nil {
			e.hub.Publish(events.Event{
				Type:      events.TypeGeoBlock,
				Timestamp: now,
				Data:      events.GeoBlockData{Address: addr, Country: country},
			})
		}
		if err := e.blocker.Block(ctx, addr, e.cfg.DefaultDuration, "geo:"+country); err != nil {
			e.log.Warn("geo block failed", "address", addr, "error", err)
		}
		return
	}

	e.recordPortHit(addr, rec.DstPort, now)

	size := e.window.Add(addr, e.cfg.ThresholdSeconds)

	if e.cfg.PlaintextLogs {
		e.writePlaintext(rec, country, size, now)
	}

	if size >= e.cfg.ThresholdAttempts {
		if e.hub != nil {
			e.hub.Publish(events.Event{
				Type:      events.TypeRateLimitExceeded,
				Timestamp: now,
				Data:      events.RateLimitData{Address: addr, Attempts: size, Window: e.cfg.ThresholdSeconds},
			})
		}
		e.log.Warn("rate threshold exceeded", "address", addr, "attempts", size)
		if err := e.blocker.Block(ctx, addr, e.cfg.DefaultDuration, "rate"); err != nil {
			e.log.Warn("rate block failed", "address", addr, "error", err)
		}
	}
}

// writePlaintext appends a pipe-delimited record to the configured
// plaintext connection log. Any failure (including the best-effort
// reverse DNS lookup) is swallowed to a debug log: logging must never
// interfere with enforcement. The window= field is the configured
// threshold window in seconds, not the span of the recorded attempts.
func (e *Engine) writePlaintext(rec tail.Record, country string, attempts int, now time.Time) {
	e.logMu.Lock()
	defer e.logMu.Unlock()

	if e.logger == nil {
		f, err := os.OpenFile(e.cfg.PlaintextLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			e.log.Debug("cannot open plaintext log", "error", err)
			return
		}
		e.logger = f
	}

	host := e.reverseDNS(rec.Src)
	line := fmt.Sprintf(
		"%s|%s|%d|%s|%s|%s|%s|%s|%s|attempts=%d|window=%.1f\n",
		now.Format(time.RFC3339), e.identifierFor(rec.Src), os.Getpid(), "tail",
		rec.Src, host, country, rec.SrcPort, rec.DstPort, attempts, e.cfg.ThresholdSeconds.Seconds(),
	)
	if _, err := e.logger.WriteString(line); err != nil {
		e.log.Debug("plaintext log write failed", "error", err)
	}
}

func (e *Engine) reverseDNS(addr string) string {
	resolver := net.Resolver{}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DNSTimeout)
	defer cancel()

	names, err := resolver.LookupAddr(ctx, addr)
	if err != nil || len(names) == 0 {
		e.log.Debug("reverse DNS lookup failed", "address", addr, "error", err)
		return "n/a"
	}
	return names[0]
}

// Close flushes and closes the plaintext log file, if open.
func (e *Engine) Close() error {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	if e.logger == nil {
		return nil
	}
	err := e.logger.Close()
	e.logger = nil
	return err
}

// recordPortHit retains a bounded history of recent destination ports
// per address for the port-scan detector, pruning anything older than
// the detector's window as it goes so the history never grows
// unbounded for a long-lived source.
func (e *Engine) recordPortHit(addr, port string, at time.Time) {
	if port == "" {
		return
	}
	e.portsMu.Lock()
	defer e.portsMu.Unlock()

	cutoff := at.Add(-e.cfg.PortScanWindow)
	hits := e.ports[addr]
	i := 0
	for i < len(hits) && hits[i].at.Before(cutoff) {
		i++
	}
	hits = append(hits[i:], portHit{at: at, port: port})
	e.ports[addr] = hits
}

// DetectPortScans scans every address's recent port history and
// publishes PortScanDetected for any source that touched at least
// PortScanDistinctPort distinct destination ports inside PortScanWindow.
func (e *Engine) DetectPortScans(ctx context.Context) error {
	now := e.clk.Now()

	e.portsMu.Lock()
	snapshot := make(map[string][]portHit, len(e.ports))
	for addr, hits := range e.ports {
		snapshot[addr] = append([]portHit(nil), hits...)
	}
	e.portsMu.Unlock()

	for addr, hits := range snapshot {
		observedAt := make([]time.Time, len(hits))
		ports := make([]string, len(hits))
		for i, h := range hits {
			observedAt[i] = h.at
			ports[i] = h.port
		}
		distinct := ratelimit.DistinctPorts(observedAt, ports, now, e.cfg.PortScanWindow)
		if distinct < e.cfg.PortScanDistinctPort {
			continue
		}
		if e.hub != nil {
			e.hub.Publish(events.Event{
				Type:      events.TypePortScanDetected,
				Timestamp: now,
				Data:      events.PortScanData{Address: addr, DistinctDst: distinct},
			})
		}
		e.log.Warn("port scan detected", "address", addr, "distinct_ports", distinct)
	}
	return nil
}

// DetectHTTPBruteforce checks every address with a recent web-port
// attempt against a token-bucket limit and flags the ones exceeding
// it as RateLimitExceeded, distinct from the generic connection-rate
// check in Handle because this one only looks at auth-looking ports.
func (e *Engine) DetectHTTPBruteforce(ctx context.Context) error {
	now := e.clk.Now()

	e.portsMu.Lock()
	snapshot := make(map[string][]portHit, len(e.ports))
	for addr, hits := range e.ports {
		snapshot[addr] = append([]portHit(nil), hits...)
	}
	e.portsMu.Unlock()

	webPorts := make(map[string]struct{}, len(e.cfg.HTTPBruteforcePorts))
	for _, p := range e.cfg.HTTPBruteforcePorts {
		webPorts[p] = struct{}{}
	}

	for addr, hits := range snapshot {
		var webHits int
		for _, h := range hits {
			if _, ok := webPorts[h.port]; ok {
				webHits++
			}
		}
		if webHits == 0 {
			continue
		}
		for i := 0; i < webHits; i++ {
			if !e.bruteforce.Allow(addr, e.cfg.HTTPBruteforceLimit, e.cfg.HTTPBruteforceInterval) {
				if e.hub != nil {
					e.hub.Publish(events.Event{
						Type:      events.TypeRateLimitExceeded,
						Timestamp: now,
						Data:      events.RateLimitData{Address: addr, Attempts: webHits, Window: e.cfg.HTTPBruteforceInterval},
					})
				}
				e.log.Warn("http bruteforce pattern detected", "address", addr, "attempts", webHits)
				break
			}
		}
	}
	return nil
}
