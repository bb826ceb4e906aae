// Package monitor implements the periodic health checks that don't fit
// naturally under enforcement or lifecycle: per-interface bandwidth and
// TLS certificate expiry.
package monitor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wardline/wardline/internal/clock"
	"github.com/wardline/wardline/internal/events"
	"github.com/wardline/wardline/internal/logging"
	wardtls "github.com/wardline/wardline/internal/tls"
)

// BandwidthMonitor polls /proc/net/dev and emits BandwidthExceeded when
// an interface's throughput crosses a configured threshold, grounded
// on the pack's /proc/net/dev byte-counter parsing idiom (first and
// ninth whitespace-delimited fields after the interface name are
// received/transmitted byte counters).
type BandwidthMonitor struct {
	hub          *events.Hub
	clk          clock.Clock
	log          *logging.Logger
	thresholdBps uint64
	procNetDev   string

	mu    sync.Mutex
	prev  map[string]uint64
	prevT time.Time
}

// NewBandwidthMonitor returns a BandwidthMonitor that flags any
// interface sustaining more than thresholdBps combined rx+tx bytes per
// second. procNetDevPath defaults to /proc/net/dev; overridable for
// tests.
func NewBandwidthMonitor(hub *events.Hub, clk clock.Clock, thresholdBps uint64, procNetDevPath string) *BandwidthMonitor {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if procNetDevPath == "" {
		procNetDevPath = "/proc/net/dev"
	}
	return &BandwidthMonitor{
		hub:          hub,
		clk:          clk,
		log:          logging.WithComponent("bandwidth-monitor"),
		thresholdBps: thresholdBps,
		procNetDev:   procNetDevPath,
		prev:         make(map[string]uint64),
	}
}

// Check reads current interface counters, compares against the
// previous sample, and publishes BandwidthExceeded for any interface
// whose computed rate crosses the threshold. The first call only
// seeds the baseline since there is no prior sample to diff against.
func (m *BandwidthMonitor) Check(ctx context.Context) error {
	counters, err := readInterfaceCounters(m.procNetDev)
	if err != nil {
		return err
	}

	now := m.clk.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prevT.IsZero() {
		m.prev = counters
		m.prevT = now
		return nil
	}

	elapsed := now.Sub(m.prevT).Seconds()
	if elapsed <= 0 {
		return nil
	}

	for iface, total := range counters {
		prevTotal, ok := m.prev[iface]
		if !ok || total < prevTotal {
			continue
		}
		rate := uint64(float64(total-prevTotal) / elapsed)
		if rate >= m.thresholdBps {
			if m.hub != nil {
				m.hub.Publish(events.Event{
					Type:      events.TypeBandwidthExceeded,
					Timestamp: now,
					Data:      events.BandwidthData{Interface: iface, BytesRate: rate},
				})
			}
			m.log.Warn("bandwidth threshold exceeded", "interface", iface, "bytes_per_second", rate)
		}
	}

	m.prev = counters
	m.prevT = now
	return nil
}

// readInterfaceCounters parses /proc/net/dev, returning combined
// rx+tx byte counts per non-loopback interface.
func readInterfaceCounters(path string) (map[string]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	counters := make(map[string]uint64)
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, ":") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		iface := strings.TrimSpace(parts[0])
		if iface == "" || iface == "lo" {
			continue
		}
		fields := strings.Fields(parts[1])
		if len(fields) < 9 {
			continue
		}
		rx, _ := strconv.ParseUint(fields[0], 10, 64)
		tx, _ := strconv.ParseUint(fields[8], 10, 64)
		counters[iface] = rx + tx
	}
	return counters, nil
}

// CertMonitor checks the command server's TLS certificate expiry once
// a day and regenerates a fresh self-signed certificate when renewal
// is due, handing it to onRenew so a live listener can pick it up.
type CertMonitor struct {
	certPath   string
	keyPath    string
	warnWithin time.Duration
	validDays  int
	onRenew    func(*tls.Certificate)
	log        *logging.Logger
}

// NewCertMonitor returns a CertMonitor for the certificate/key pair at
// certPath/keyPath, renewing once its NotAfter is within warnWithin.
// onRenew, if non-nil, is called with the newly generated certificate
// so a running TLS listener can start serving it without a restart.
func NewCertMonitor(certPath, keyPath string, warnWithin time.Duration, onRenew func(*tls.Certificate)) *CertMonitor {
	return &CertMonitor{
		certPath:   certPath,
		keyPath:    keyPath,
		warnWithin: warnWithin,
		validDays:  365,
		onRenew:    onRenew,
		log:        logging.WithComponent("cert-monitor"),
	}
}

// Check loads the certificate and, if its NotAfter is within
// warnWithin of now (or the file holds no PEM CERTIFICATE block),
// regenerates it and invokes onRenew with the replacement. A block that
// fails x509 parsing is returned as an error and not regenerated.
func (m *CertMonitor) Check(ctx context.Context) error {
	pemBytes, err := os.ReadFile(m.certPath)
	if err != nil {
		return err
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		m.log.Warn("cert-monitor: no PEM certificate block found, regenerating", "path", m.certPath)
		return m.renew()
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return err
	}

	remaining := time.Until(cert.NotAfter)
	if remaining <= m.warnWithin {
		m.log.Warn("certificate renewal due", "not_after", cert.NotAfter, "remaining", remaining)
		return m.renew()
	}
	return nil
}

func (m *CertMonitor) renew() error {
	if err := wardtls.GenerateSelfSigned(m.certPath, m.keyPath, m.validDays); err != nil {
		return err
	}
	cert, err := wardtls.LoadCertificate(m.certPath, m.keyPath)
	if err != nil {
		return err
	}
	m.log.Info("certificate renewed", "path", m.certPath)
	if m.onRenew != nil {
		m.onRenew(cert)
	}
	return nil
}

