package samgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/samgo/internal/auth"
	cfg "github.com/loykin/samgo/internal/config"
	"github.com/loykin/samgo/internal/emulator"
	"github.com/loykin/samgo/internal/history"
	"github.com/loykin/samgo/internal/history/factory"
	"github.com/loykin/samgo/internal/metrics"
	iapi "github.com/loykin/samgo/internal/server"
	"github.com/loykin/samgo/internal/service"
	"github.com/loykin/samgo/internal/service/memory"
	"github.com/loykin/samgo/internal/service/sqlstore"
	"github.com/loykin/samgo/internal/supervisor"
	"github.com/loykin/samgo/internal/view"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = supervisor.Status

type Handle = supervisor.Handle

type ViewSink = supervisor.ViewSink

type HistorySink = history.Sink

var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotRunning     = supervisor.ErrNotRunning
	ErrFatal          = supervisor.ErrFatal
)

// LoadConfig reads a TOML config file; an empty path yields defaults plus
// SAMGO_* environment overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Options customizes New beyond the config file.
type Options struct {
	Logger *slog.Logger
	// Views receive every snapshot in addition to the websocket hub.
	Views []ViewSink
	// Launcher replaces the launcher selected by emulator.launcher.
	Launcher supervisor.Launcher
	// ChildArgs precede --app-id when the exec launcher re-executes the
	// binary. Defaults to the hidden child command with the config path.
	ChildArgs []string
}

// Runtime is one supervisor with its views and history sinks, built from a
// Config.
type Runtime struct {
	*supervisor.Supervisor

	cfg       *Config
	hub       *view.Hub
	sinks     []history.Sink
	collector *metrics.Collector
	logger    *slog.Logger
}

// New builds the launcher, history sinks and views configured by c and starts
// the supervisor. Close releases all of them.
func New(c *Config, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := opts.Launcher
	if l == nil {
		var err error
		if l, err = NewLauncher(c, opts.ChildArgs, logger); err != nil {
			return nil, err
		}
	}
	sinks, err := factory.NewSinks(c.History.DSNs)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	hub := view.NewHub(logger)
	views := append(supervisor.MultiSink{hub}, opts.Views...)

	sup := supervisor.New(supervisor.Options{
		Launcher:        l,
		Sink:            views,
		History:         sinks,
		Logger:          logger,
		SnapshotTimeout: c.Supervisor.SnapshotTimeout,
		ReadyTimeout:    c.Supervisor.ReadyTimeout,
		TerminateWait:   c.Supervisor.TerminateWait,
		MutationGap:     c.Supervisor.MutationGap,
		MaxResends:      c.Supervisor.MaxResends,
		SampleUsage:     c.Supervisor.SampleUsage,
	})
	rt := &Runtime{Supervisor: sup, cfg: c, hub: hub, sinks: sinks, logger: logger}
	if c.Metrics.Enabled {
		rt.collector = metrics.NewCollector(c.Metrics.Interval, func() int {
			if h := sup.Handle(); h != nil {
				return h.PID
			}
			return 0
		})
		rt.collector.Start(context.Background())
	}
	return rt, nil
}

// Hub is the websocket view fed by every snapshot.
func (r *Runtime) Hub() *view.Hub { return r.hub }

// Handler returns the HTTP API configured by the [server] and [metrics]
// sections.
func (r *Runtime) Handler() http.Handler {
	return iapi.NewRouter(r.Supervisor, iapi.Options{
		BasePath: r.cfg.Server.BasePath,
		Hub:      r.hub,
		Auth:     auth.New(r.cfg.Server.Auth),
		Metrics:  r.cfg.Metrics.Enabled,
		Logger:   r.logger,
	}).Handler()
}

// Serve listens on server.listen until ctx is cancelled.
func (r *Runtime) Serve(ctx context.Context) error {
	srv, err := iapi.NewServer(r.cfg.Server, r.Handler())
	if err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- iapi.ListenAndServe(srv) }()
	r.logger.Info("HTTP API listening", "addr", srv.Addr, "base_path", r.cfg.Server.BasePath, "tls", srv.TLSConfig != nil)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

// Close terminates the live child, if any, and closes the history sinks.
func (r *Runtime) Close(ctx context.Context) error {
	if r.collector != nil {
		r.collector.Stop()
	}
	err := r.Supervisor.Close(ctx)
	factory.CloseAll(r.sinks)
	return err
}

// RegisterMetrics registers samgo metrics with the given registerer.
func RegisterMetrics(reg prometheus.Registerer) error { return metrics.Register(reg) }

// NewLauncher returns the launcher selected by emulator.launcher.
func NewLauncher(c *Config, childArgs []string, logger *slog.Logger) (supervisor.Launcher, error) {
	switch c.Emulator.Launcher {
	case "inprocess":
		return &supervisor.InProcessLauncher{
			NewService: func(uint32) (service.Service, error) {
				svc, closer, err := NewService(c.Service)
				if err != nil {
					return nil, err
				}
				return closingService{Service: svc, closer: closer}, nil
			},
			PollInterval: c.Emulator.PollInterval,
			Logger:       logger,
		}, nil
	case "exec", "":
		env, err := c.ChildEnv()
		if err != nil {
			return nil, fmt.Errorf("child env: %w", err)
		}
		args := childArgs
		if args == nil {
			args = []string{"child"}
			if c.File() != "" {
				args = append(args, "--config", c.File())
			}
		}
		return &supervisor.ExecLauncher{Args: args, Env: env, Output: c.Log.ChildOutput}, nil
	}
	return nil, fmt.Errorf("unknown launcher %q", c.Emulator.Launcher)
}

// NewService opens the achievement service backend named by c. The closer
// releases the backing store once the session is shut down.
func NewService(c cfg.ServiceConfig) (service.Service, io.Closer, error) {
	switch c.Backend {
	case "sql":
		st, err := sqlstore.Open(c.DSN)
		if err != nil {
			return nil, nil, err
		}
		return sqlstore.NewSession(st, c.User), st, nil
	case "memory", "":
		if c.Catalog == "" {
			return memory.New(), nopCloser{}, nil
		}
		svc, err := memory.LoadFile(c.Catalog)
		if err != nil {
			return nil, nil, err
		}
		return svc, nopCloser{}, nil
	}
	return nil, nil, errors.New("unknown service backend: " + c.Backend)
}

// RunChild is the body of the hidden child command: it runs the emulated game
// for appID over the control channel inherited from the supervisor.
func RunChild(ctx context.Context, c *Config, appID uint32, logger *slog.Logger) error {
	svc, closer, err := NewService(c.Service)
	if err != nil {
		return fmt.Errorf("%w: %w", emulator.ErrInit, err)
	}
	defer func() { _ = closer.Close() }()
	return emulator.RunChild(ctx, emulator.Config{AppID: appID, PollInterval: c.Emulator.PollInterval}, svc, logger)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// closingService releases its store on Shutdown.
type closingService struct {
	service.Service
	closer io.Closer
}

func (s closingService) Shutdown() {
	s.Service.Shutdown()
	_ = s.closer.Close()
}
