package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/samgo"
)

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
	// AppID, when set, launches the game as soon as the server is up.
	AppID uint32
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the samgo HTTP API",
		Long: `Start the HTTP API driving one emulated game. Configuration is read from
the TOML file given with --config or as argument, plus SAMGO_* environment
variables.

Examples:
  samgo serve                               # defaults, listens on 127.0.0.1:8480
  samgo serve samgo.toml --app-id=480       # launch app 480 on start
  samgo serve --config=samgo.toml --daemonize --pidfile=/run/samgo.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServeCommand(cmd.Context(), serveFlags)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	cmd.Flags().Uint32Var(&serveFlags.AppID, "app-id", 0, "launch this application id on start")
	return cmd
}

func runServeCommand(parent context.Context, flags *ServeFlags) error {
	cfg, err := samgo.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		if !isDaemonSupported() {
			return fmt.Errorf("daemonize is not supported on this platform")
		}
		return daemonize(flags.PidFile, flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	log, closer, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if cfg.Metrics.Enabled {
		if err := samgo.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("Failed to register metrics", "error", err)
		}
	}

	rt, err := samgo.New(cfg, samgo.Options{Logger: log})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.AppID != 0 {
		go func() {
			if err := rt.Launch(ctx, flags.AppID); err != nil {
				log.Error("Initial launch failed", "app_id", flags.AppID, "error", err)
			}
		}()
	}

	serveErr := rt.Serve(ctx)

	log.Info("Shutting down")
	cctx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.TerminateWait+5*time.Second)
	defer cancel()
	if err := rt.Close(cctx); err != nil {
		log.Warn("Emulated game did not exit cleanly", "error", err)
	}
	return serveErr
}
