package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardline/wardline/internal/events"
	"github.com/wardline/wardline/internal/logging"
)

// Collector subscribes to the event bus and keeps the Prometheus
// registry current. It never reads from or calls back into any other
// component; every instrument it touches is derived purely from the
// events it observes.
type Collector struct {
	registry *Registry
	logger   *logging.Logger
	hub      *events.Hub
	subID    string

	server *http.Server
}

// NewCollector creates a Collector bound to hub. Call Start to begin
// serving /metrics and subscribing to the bus.
func NewCollector(hub *events.Hub, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.WithComponent("metrics")
	}
	return &Collector{
		registry: Get(),
		logger:   logger,
		hub:      hub,
	}
}

// Start subscribes to the bus and begins serving the exposition endpoint
// on addr, which must be a loopback address. It returns once the
// listener is bound; serving and event handling continue in background
// goroutines until ctx is cancelled.
func (c *Collector) Start(ctx context.Context, addr string) error {
	c.subID = c.hub.Subscribe(c.handle)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	c.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		c.hub.Unsubscribe(c.subID)
		return err
	}

	go func() {
		if serveErr := c.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			c.logger.Error("metrics server stopped unexpectedly", "error", serveErr)
		}
	}()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	c.logger.Info("metrics server listening", "addr", ln.Addr().String())
	return nil
}

// Stop unsubscribes from the bus and shuts down the exposition server.
// Idempotent.
func (c *Collector) Stop() {
	if c.subID != "" {
		c.hub.Unsubscribe(c.subID)
		c.subID = ""
	}
	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}
}

func (c *Collector) handle(evt events.Event) {
	switch evt.Type {
	case events.TypeConnectionAttempt:
		c.registry.ConnectionAttemptsTotal.Inc()
	case events.TypeBlock:
		data, ok := evt.Data.(events.BlockData)
		if !ok {
			return
		}
		c.registry.BlocksTotal.WithLabelValues(blockReasonLabel(data.Reason)).Inc()
		c.registry.ActiveBlocks.Inc()
	case events.TypeUnblock:
		data, ok := evt.Data.(events.BlockData)
		if !ok {
			return
		}
		c.registry.UnblocksTotal.WithLabelValues(data.Reason).Inc()
		c.registry.ActiveBlocks.Dec()
	case events.TypeBlockExpired:
		data, ok := evt.Data.(events.BlockData)
		if !ok {
			return
		}
		c.registry.UnblocksTotal.WithLabelValues(data.Reason).Inc()
		c.registry.ActiveBlocks.Dec()
	case events.TypeWhitelistAdded:
		c.registry.WhitelistAddsTotal.Inc()
	case events.TypeWhitelistRemoved:
		c.registry.WhitelistRemovesTotal.Inc()
	}
}

// blockReasonLabel collapses geo reasons ("geo:US", "geo:RU", ...) into
// a single "geo" label so the cardinality stays bounded by country
// count rather than growing one series per unique reason string.
func blockReasonLabel(reason string) string {
	if len(reason) >= 4 && reason[:4] == "geo:" {
		return "geo"
	}
	if reason == "" {
		return "manual"
	}
	return reason
}
