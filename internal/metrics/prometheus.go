package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds every instrument the daemon exposes. It is purely
// observational: nothing in this package writes back into the
// components it counts.
type Registry struct {
	ConnectionAttemptsTotal prometheus.Counter
	BlocksTotal             *prometheus.CounterVec
	UnblocksTotal           *prometheus.CounterVec
	WhitelistAddsTotal      prometheus.Counter
	WhitelistRemovesTotal   prometheus.Counter
	ActiveBlocks            prometheus.Gauge
}

// Get returns the global metrics registry, creating it on first use.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.ConnectionAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wardline_connection_attempts_total",
		Help: "Total connection attempts observed in the syslog tail.",
	})

	r.BlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wardline_blocks_total",
		Help: "Total addresses blocked, labeled by reason.",
	}, []string{"reason"})

	r.UnblocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wardline_unblocks_total",
		Help: "Total addresses unblocked, labeled by reason.",
	}, []string{"reason"})

	r.WhitelistAddsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wardline_whitelist_adds_total",
		Help: "Total addresses added to the whitelist.",
	})

	r.WhitelistRemovesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wardline_whitelist_removes_total",
		Help: "Total addresses removed from the whitelist.",
	})

	r.ActiveBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wardline_active_blocks",
		Help: "Current size of the active block set.",
	})

	return r
}
