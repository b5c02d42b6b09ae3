package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SokratisVidros/eurechat/internal/logger"
	"github.com/SokratisVidros/eurechat/pkg/config"
	"github.com/SokratisVidros/eurechat/pkg/directory"
	"github.com/SokratisVidros/eurechat/pkg/metrics"
	metricsprom "github.com/SokratisVidros/eurechat/pkg/metrics/prometheus"
)

var (
	daemonize bool
	verbose   bool
	logFile   string
	pidFile   string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the directory server",
	Long: `Start the eurechat directory server.

The server listens for client sessions (default 127.0.0.1:8888), keeps the
registry of online users, and runs the liveness checker that deregisters
clients whose peer listeners stop answering PING.

Examples:
  # Start in the foreground
  eurechatd start

  # Start with debug output
  eurechatd start --verbose

  # Start as a background daemon, logging to a file
  eurechatd start --daemon --logfile /var/log/eurechatd.log

  # Override a key set in the config file through the environment
  # (keys the file does not set are not read from the environment)
  EURECHAT_LISTEN_PORT=9999 eurechatd start --config config.yaml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&daemonize, "daemon", "D", false, "Run as a background daemon")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
	startCmd.Flags().StringVarP(&logFile, "logfile", "l", "", "Store logs to a file instead of standard output")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (daemon mode)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if daemonize {
		return startDaemon()
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	// Flags override the config file.
	if verbose {
		cfg.Logging.Level = "DEBUG"
	}
	if logFile != "" {
		cfg.Logging.Output = logFile
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	logger.Info("configuration loaded", "source", configSource())

	// Live log-level reload while the server runs.
	if src := GetConfigFile(); src != "" {
		if stop, err := config.WatchLogLevel(src); err == nil {
			defer stop()
		} else {
			logger.Warn("config watching disabled", logger.Err(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics endpoint, when enabled.
	var dm metrics.DirectoryMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		dm = metricsprom.NewDirectoryMetrics()

		srv, err := metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Port)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("metrics server failed", logger.Err(err))
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	server := directory.NewServer(directory.ServerConfig{
		BindAddress:     cfg.Listen.Address,
		Port:            cfg.Listen.Port,
		MaxConnections:  cfg.Listen.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Checker: directory.CheckerConfig{
			Interval:     cfg.Checker.Interval,
			ProbeTimeout: cfg.Checker.ProbeTimeout,
			Parallelism:  cfg.Checker.Parallelism,
		},
	}, dm, nil)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", logger.Err(err))
			return err
		}
		logger.Info("server stopped")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", logger.Err(err))
			return err
		}
		logger.Info("server stopped")
	}

	return nil
}

// configSource describes where configuration came from.
func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
		return config.DefaultConfigPath()
	}
	return "defaults"
}

// startDaemon re-executes the server in the background, detached from the
// terminal, with its output going to a log file.
func startDaemon() error {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	runDir := filepath.Join(stateDir, "eurechat")
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(runDir, "eurechatd.pid")
	}

	// Refuse to start twice.
	if pidData, err := os.ReadFile(pidPath); err == nil {
		var pid int
		if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("eurechatd is already running (PID %d)", pid)
				}
			}
		}
		// Stale PID file.
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(runDir, "eurechatd.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--pid-file", pidPath, "--logfile", logPath}
	if verbose {
		daemonArgs = append(daemonArgs, "--verbose")
	}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	daemon := exec.Command(executable, daemonArgs...)
	daemon.Stdin = nil
	daemon.Stdout = nil
	daemon.Stderr = nil

	if err := daemon.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("eurechatd started in the background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("Logs: %s\n", logPath)
	return nil
}
