package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/wardline/wardline/internal/brand"
	"github.com/wardline/wardline/internal/config"
)

// RunStart starts the daemon in the background, detached from the
// invoking terminal.
func RunStart(configFile string) error {
	if configFile == "" {
		configFile = filepath.Join(brand.DefaultConfigDir, brand.ConfigFileName)
	}
	if _, err := config.Load(configFile); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	runDir := brand.GetRunDir()
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	pidFile := filepath.Join(runDir, brand.LowerName+".pid")

	if _, err := os.Stat(pidFile); err == nil {
		data, readErr := os.ReadFile(pidFile)
		if readErr == nil {
			if pid, atoiErr := strconv.Atoi(strings.TrimSpace(string(data))); atoiErr == nil {
				if process, findErr := os.FindProcess(pid); findErr == nil {
					if process.Signal(syscall.Signal(0)) == nil {
						return fmt.Errorf("process already running (PID: %d)", pid)
					}
				}
			}
		}
		fmt.Printf("warning: removing stale PID file %s\n", pidFile)
		os.Remove(pidFile)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}

	cmd := exec.Command(exe, "foreground", configFile)

	logDir := brand.GetLogDir()
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	logFile := filepath.Join(logDir, brand.LowerName+".log")

	logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logF.Close()

	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		fmt.Printf("warning: failed to write PID file %s: %v\n", pidFile, err)
	}

	fmt.Printf("Started %s (PID: %d)\n", brand.Name, pid)
	fmt.Printf("Logs: %s\n", logFile)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		fmt.Fprintln(os.Stderr, "\nError: daemon exited immediately.")
		if content, readErr := os.ReadFile(logFile); readErr == nil {
			lines := strings.Split(string(content), "\n")
			start := len(lines) - 10
			if start < 0 {
				start = 0
			}
			fmt.Fprintln(os.Stderr, "Log output:")
			for _, line := range lines[start:] {
				if line != "" {
					fmt.Fprintf(os.Stderr, "  %s\n", line)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("daemon failed to start: %w", err)
		}
		return fmt.Errorf("daemon exited unexpectedly")

	case <-time.After(500 * time.Millisecond):
		if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
			return fmt.Errorf("daemon died during startup (check logs: %s)", logFile)
		}
		return nil
	}
}
