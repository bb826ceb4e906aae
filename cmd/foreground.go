package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/wardline/wardline/internal/blocklist"
	"github.com/wardline/wardline/internal/brand"
	"github.com/wardline/wardline/internal/clock"
	"github.com/wardline/wardline/internal/command"
	"github.com/wardline/wardline/internal/config"
	"github.com/wardline/wardline/internal/enforcement"
	"github.com/wardline/wardline/internal/events"
	"github.com/wardline/wardline/internal/firewall"
	"github.com/wardline/wardline/internal/geo"
	"github.com/wardline/wardline/internal/lifecycle"
	"github.com/wardline/wardline/internal/logging"
	"github.com/wardline/wardline/internal/metrics"
	"github.com/wardline/wardline/internal/monitor"
	"github.com/wardline/wardline/internal/scheduler"
	"github.com/wardline/wardline/internal/store"
	"github.com/wardline/wardline/internal/tail"
	wardtls "github.com/wardline/wardline/internal/tls"
	"github.com/wardline/wardline/internal/wire"
)

// RunForeground wires every component together and blocks until the
// process receives SIGINT/SIGTERM. SIGHUP triggers a reload against
// the currently loaded configuration file.
func RunForeground(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := ensureBaseDirs(cfg); err != nil {
		return err
	}

	logging.SetPrefix(brand.Name)
	logging.CaptureStdio("")
	logging.RedirectStdLog()
	log := logging.WithComponent("foreground")
	if err := clock.EnsureSaneTime(); err != nil {
		log.Warn("clock sanity check failed, continuing with current system time", "error", err)
	}
	clk := &clock.RealClock{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(nil)

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bl, err := blocklist.New(hub, cfg.BlockListPath(), cfg.WhitelistPath())
	if err != nil {
		return fmt.Errorf("load blocklist: %w", err)
	}

	geoResolver, err := geo.New(cfg.GeoZonesDir(), cfg.GeoBlockedCountriesPath())
	if err != nil {
		return fmt.Errorf("load geo zones: %w", err)
	}

	driver := firewall.New("/sbin/iptables", nil)

	sched := scheduler.New(logging.WithComponent("scheduler"))
	sched.Start(ctx)

	lm := lifecycle.New(driver, st, bl, sched, hub, clk)

	// The startup reconciliation must complete before the syslog tail
	// starts, or a record already re-armed here could double-block
	// against a fresh log line for the same address.
	if err := lm.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile block state: %w", err)
	}

	reloadSpec := func() firewall.ReloadSpec {
		return buildReloadSpec(cfg)
	}
	if res := driver.Reload(ctx, reloadSpec()); !res.OK {
		log.Warn("initial firewall reload failed", "diagnostic", res.Diagnostic)
	}

	engCfg := enforcement.DefaultConfig()
	engCfg.ThresholdAttempts = cfg.ThresholdAttempts
	engCfg.ThresholdSeconds = time.Duration(cfg.ThresholdSeconds) * time.Second
	engCfg.DefaultDuration = time.Duration(cfg.DefaultBlockSecs) * time.Second
	engCfg.PlaintextLogs = cfg.PlaintextLogsEnabled
	engCfg.PlaintextLogPath = cfg.ConnectionLogPath()
	if !cfg.GeoBlockEnabled {
		geoResolver = nil
	}
	var geoArg enforcement.GeoResolver
	if geoResolver != nil {
		geoArg = geoResolver
	}
	eng := enforcement.New(engCfg, bl, geoArg, lm, hub, clk)
	defer eng.Close()

	tailer, err := tail.New(cfg.SyslogPath, time.Duration(cfg.PollIntervalMillis)*time.Millisecond, func(rec tail.Record) {
		eng.Handle(ctx, rec)
	}, nil)
	if err != nil {
		return fmt.Errorf("start syslog tail: %w", err)
	}

	sched.ScheduleRecurring(clk.Now().Add(30*time.Second), 30*time.Second, scheduler.NewExpirySweepTask(lm.SweepExpired))
	sched.ScheduleRecurring(clk.Now().Add(10*time.Second), 10*time.Second, scheduler.NewPortScanDetectorTask(eng.DetectPortScans))
	sched.ScheduleRecurring(clk.Now().Add(10*time.Second), 10*time.Second, scheduler.NewHTTPBruteforceMonitorTask(eng.DetectHTTPBruteforce))

	bandwidthMon := monitor.NewBandwidthMonitor(hub, clk, 100*1024*1024, "/proc/net/dev")
	sched.ScheduleRecurring(clk.Now().Add(10*time.Second), 10*time.Second, scheduler.NewBandwidthMonitorTask(bandwidthMon.Check))

	tlsCert, err := wardtls.EnsureCertificate(cfg.CertificatePath(), cfg.CertificateKeyPath(), 365)
	if err != nil {
		return fmt.Errorf("ensure tls certificate: %w", err)
	}

	exportCipher, err := buildExportCipher(cfg)
	if err != nil {
		return fmt.Errorf("build export cipher: %w", err)
	}

	startedAt := clk.Now()
	var shutdownOnce sync.Once
	cmdCtx := &command.CommandContext{
		Blocklist:               bl,
		Lifecycle:               lm,
		Store:                   st,
		Driver:                  driver,
		Scheduler:               sched,
		Hub:                     hub,
		LogReader:               logging.NewLogReader(),
		Clock:                   clk,
		ExportCipher:            exportCipher,
		SecureExportDir:         cfg.SecureExportPath(),
		ReloadSpec:              reloadSpec,
		RootCtx:                 ctx,
		ConnectionLogPath:       cfg.ConnectionLogPath(),
		ServerConnectionLogsDir: cfg.ServerConnectionLogsDir(),
		MaxLogArchives:          cfg.MaxLogArchives,
		StartedAt:               startedAt,
		Version:                 versionString(),
		Shutdown: func() {
			shutdownOnce.Do(cancel)
		},
	}

	registry := command.NewDefaultRegistry()
	cmdAddr := fmt.Sprintf("127.0.0.1:%d", cfg.CommandPort)
	srv := command.New(cmdAddr, registry, cmdCtx, tlsCert, exportCipher, cfg.AllowPlaintextCommands)

	certMon := monitor.NewCertMonitor(cfg.CertificatePath(), cfg.CertificateKeyPath(), 14*24*time.Hour, srv.SetCertificate)
	sched.ScheduleWith(scheduler.Daily(2, 0), scheduler.NewCertMonitorTask(certMon.Check))

	collector := metrics.NewCollector(hub, logging.WithComponent("metrics"))
	if err := collector.Start(ctx, cfg.MetricsAddr); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := tailer.Run(ctx); err != nil {
			log.Error("syslog tail stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			log.Error("command server stopped", "error", err)
		}
	}()

	log.Info("wardlined running", "command_addr", cmdAddr, "metrics_addr", cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			sched.Stop()
			collector.Stop()
			os.Remove(filepath.Join(brand.GetRunDir(), brand.LowerName+".pid"))
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading firewall rules")
				if res := driver.Reload(ctx, reloadSpec()); !res.OK {
					log.Error("reload failed", "diagnostic", res.Diagnostic)
				} else {
					log.Info("reload complete")
				}
			default:
				log.Info("received signal, shutting down", "signal", sig.String())
				cancel()
			}
		}
	}
}

func versionString() string {
	return brand.Version
}

func ensureBaseDirs(cfg *config.Config) error {
	dirs := []string{
		cfg.BaseDir,
		cfg.ServerConnectionLogsDir(),
		cfg.SecureExportPath(),
		cfg.GeoZonesDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	return nil
}

// buildReloadSpec translates configuration into the driver's reload
// inputs. The rate-drop rules use the iptables "recent" module to cap
// new-connection bursts per source at the configured threshold, ahead
// of the slower userspace classification the syslog tail performs.
func buildReloadSpec(cfg *config.Config) firewall.ReloadSpec {
	return firewall.ReloadSpec{
		SSHPort: fmt.Sprintf("%d", cfg.SSHPort),
		RateDropArgs: [][]string{
			{"-A", "INPUT", "-p", "tcp", "--syn", "-m", "recent", "--name", "WARDLINE", "--set"},
			{"-A", "INPUT", "-p", "tcp", "--syn", "-m", "recent", "--name", "WARDLINE",
				"--update", "--seconds", fmt.Sprintf("%d", cfg.ThresholdSeconds),
				"--hitcount", fmt.Sprintf("%d", cfg.ThresholdAttempts), "-j", "DROP"},
		},
		RuleFiles: []string{cfg.RulesPath(), cfg.CustomRulesPath()},
	}
}

func buildExportCipher(cfg *config.Config) (*wire.Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.TLSKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode tls_key_base64: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(cfg.TLSIVBase64)
	if err != nil {
		return nil, fmt.Errorf("decode tls_iv_base64: %w", err)
	}
	if len(key) == 0 {
		key = []byte("0123456789abcdef")
	}
	if len(iv) == 0 {
		iv = []byte("fedcba9876543210")
	}
	return wire.New(key, iv)
}
