package supervisor

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/samgo/internal/channel"
	"github.com/loykin/samgo/internal/emulator"
	"github.com/loykin/samgo/internal/service"
)

// Launcher starts one emulated game process.
type Launcher interface {
	Start(ctx context.Context, appID uint32) (Child, error)
}

// Child is a started emulated game process as seen by the supervisor.
type Child interface {
	PID() int
	// Channel is the supervisor end of the control channel.
	Channel() *channel.Channel
	// Wait blocks until the process has exited and releases the supervisor's
	// pipe ends.
	Wait() error
	// Kill stops the process without waiting for it to shut its session down.
	Kill() error
}

// InProcessLauncher runs the emulated game on a goroutine of the current
// process, connected through real pipes and in-memory doorbells.
type InProcessLauncher struct {
	// NewService returns the achievement service session for one launch.
	NewService   func(appID uint32) (service.Service, error)
	PollInterval time.Duration
	Logger       *slog.Logger
}

func (l *InProcessLauncher) Start(ctx context.Context, appID uint32) (Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	svc, err := l.NewService(appID)
	if err != nil {
		return nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := emulator.Config{AppID: appID, PollInterval: l.PollInterval}
	c, err := startLocal(func(ctx context.Context, ch *channel.Channel) error {
		return emulator.New(cfg, svc, ch, logger.With("side", "child")).Run(ctx)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// startLocal runs fn as the emulated game on its own goroutine, over a fresh
// in-process channel pair.
func startLocal(fn func(ctx context.Context, ch *channel.Channel) error) (*localChild, error) {
	parent, child, err := channel.Pair()
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &localChild{ch: parent, cancel: cancel, done: make(chan struct{})}
	go func() {
		c.err = fn(runCtx, child)
		_ = child.Close()
		close(c.done)
	}()
	return c, nil
}

type localChild struct {
	ch     *channel.Channel
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (c *localChild) PID() int                  { return os.Getpid() }
func (c *localChild) Channel() *channel.Channel { return c.ch }

func (c *localChild) Wait() error {
	<-c.done
	c.cancel()
	_ = c.ch.Close()
	return c.err
}

func (c *localChild) Kill() error {
	c.cancel()
	return nil
}
