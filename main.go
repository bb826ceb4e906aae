package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wardline/wardline/cmd"
	"github.com/wardline/wardline/internal/brand"
	"github.com/wardline/wardline/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", brand.DefaultConfigDir+"/"+brand.ConfigFileName, "Configuration file")
		startFlags.StringVar(configFile, "c", brand.DefaultConfigDir+"/"+brand.ConfigFileName, "Configuration file (short)")
		startFlags.Parse(os.Args[2:])

		if err := cmd.RunStart(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}

	case "foreground":
		// Internal: runs the daemon itself. Spawned by `start`, not
		// meant to be invoked directly.
		configFile := brand.DefaultConfigDir + "/" + brand.ConfigFileName
		if len(os.Args) > 2 {
			configFile = os.Args[2]
		}
		if err := cmd.RunForeground(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "stop":
		if err := cmd.RunStop(); err != nil {
			fmt.Fprintf(os.Stderr, "Stop failed: %v\n", err)
			os.Exit(1)
		}

	case "reload":
		reloadFlags := flag.NewFlagSet("reload", flag.ExitOnError)
		configFile := reloadFlags.String("config", brand.DefaultConfigDir+"/"+brand.ConfigFileName, "Configuration file")
		reloadFlags.Parse(os.Args[2:])
		if len(reloadFlags.Args()) > 0 {
			*configFile = reloadFlags.Arg(0)
		}

		if err := cmd.RunReload(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Reload failed: %v\n", err)
			os.Exit(1)
		}

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := statusFlags.String("config", brand.DefaultConfigDir+"/"+brand.ConfigFileName, "Configuration file")
		addr := statusFlags.String("addr", "", "Command port address (overrides config)")
		statusFlags.Parse(os.Args[2:])

		target := *addr
		if target == "" {
			cfg, err := config.Load(*configFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
				os.Exit(1)
			}
			target = fmt.Sprintf("127.0.0.1:%d", cfg.CommandPort)
		}

		if err := cmd.RunStatus(target); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("%s version %s\n", brand.Name, brand.Version)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  start     Start the firewall daemon in the background
            Options: --config (-c) <file>
  stop      Stop the running daemon
  reload    Reload firewall rules on the running daemon (SIGHUP)
            Options: --config <file>
  status    Query the running daemon's status over its command port
            Options: --config <file>, --addr <host:port>
  version   Print version information

`,
		brand.Name, brand.Description, brand.LowerName)
}
