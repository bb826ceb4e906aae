package scheduler

import (
	"context"
	"time"

	"github.com/wardline/wardline/internal/logging"
)

// wrapTimeout returns a JobFunc that runs fn under the given timeout and
// logs (but does not panic on) a deadline overrun.
func wrapTimeout(name string, timeout time.Duration, fn func(ctx context.Context) error) JobFunc {
	log := logging.WithComponent("periodic." + name)
	return func(ctx context.Context) error {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := fn(runCtx)
		if err != nil {
			log.Warn("periodic task failed", "error", err)
		}
		return err
	}
}

// NewExpirySweepTask wraps a lifecycle manager's expiry sweep for
// recurring scheduling. sweep should delete and unblock any address whose
// scheduled_unblock has passed.
func NewExpirySweepTask(sweep func(ctx context.Context) error) JobFunc {
	return wrapTimeout("expiry-sweep", 30*time.Second, sweep)
}

// NewPortScanDetectorTask wraps a scan detector that inspects recent
// connection windows for addresses touching an unusual number of distinct
// destination ports.
func NewPortScanDetectorTask(detect func(ctx context.Context) error) JobFunc {
	return wrapTimeout("port-scan-detector", 10*time.Second, detect)
}

// NewBandwidthMonitorTask wraps a check of per-interface throughput
// against a configured threshold.
func NewBandwidthMonitorTask(check func(ctx context.Context) error) JobFunc {
	return wrapTimeout("bandwidth-monitor", 10*time.Second, check)
}

// NewCertMonitorTask wraps a daily check of the command server's TLS
// certificate expiry.
func NewCertMonitorTask(check func(ctx context.Context) error) JobFunc {
	return wrapTimeout("cert-monitor", 10*time.Second, check)
}

// NewHTTPBruteforceMonitorTask wraps a check for sources hammering
// HTTP(S)-looking ports beyond a configured rate.
func NewHTTPBruteforceMonitorTask(check func(ctx context.Context) error) JobFunc {
	return wrapTimeout("http-bruteforce-monitor", 10*time.Second, check)
}
