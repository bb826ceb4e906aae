package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/wardline/wardline/internal/brand"
	"github.com/wardline/wardline/internal/config"
)

// RunReload triggers a configuration reload on the running daemon.
// Before signaling it checks that configFile loads and validates; the
// rule files are not read here. On SIGHUP the daemon rebuilds its chain
// from the configuration it loaded at startup and re-reads the rule files.
func RunReload(configFile string) error {
	fmt.Printf("Validating configuration: %s\n", configFile)
	if _, err := config.Load(configFile); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Println("Configuration is valid.")

	runDir := brand.GetRunDir()
	pidFile := filepath.Join(runDir, brand.LowerName+".pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file %s: %w (is the daemon running?)", pidFile, err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("invalid PID in file: %s", string(data))
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	fmt.Printf("Sending SIGHUP to process %d...\n", pid)
	if err := process.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to signal process: %w", err)
	}

	fmt.Println("Reload signal sent successfully.")
	return nil
}
