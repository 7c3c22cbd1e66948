package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/samgo"
	"github.com/loykin/samgo/internal/achievement"
	"github.com/loykin/samgo/internal/logger"
	"github.com/loykin/samgo/internal/view"
)

type command struct {
	global *GlobalFlags
}

// createLaunchCommand creates the launch subcommand
func createLaunchCommand(c command) *cobra.Command {
	f := &LaunchFlags{}
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch the emulated game and show its achievements",
		Long: `Launch the emulated game for an application id, print its achievements,
apply the requested unlocks and relocks, and terminate it again.

With --api-url the game is launched on a samgo server instead and stays
running there.

Examples:
  samgo launch --app-id=480
  samgo launch --app-id=480 --set=ACH_WIN_ONE_GAME --clear=ACH_TRAVEL_FAR_ACCUM
  samgo launch --app-id=480 --wait               # keep running until Ctrl-C
  samgo launch --app-id=480 --api-url=http://remote:8480/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.APIUrl != "" {
				return c.LaunchRemote(cmd, *f)
			}
			return c.Launch(cmd, *f)
		},
	}
	cmd.Flags().Uint32Var(&f.AppID, "app-id", 0, "application id (required)")
	cmd.Flags().StringSliceVar(&f.Set, "set", nil, "achievement ids to unlock")
	cmd.Flags().StringSliceVar(&f.Clear, "clear", nil, "achievement ids to relock")
	cmd.Flags().BoolVar(&f.Wait, "wait", false, "keep the game running until interrupted")
	addRemoteFlags(cmd, &f.RemoteFlags)
	if err := cmd.MarkFlagRequired("app-id"); err != nil {
		panic(err)
	}
	return cmd
}

// snapshotNotifier signals every completed snapshot.
type snapshotNotifier struct {
	ch chan struct{}
}

func newSnapshotNotifier() *snapshotNotifier {
	return &snapshotNotifier{ch: make(chan struct{}, 1)}
}

func (n *snapshotNotifier) Reset()                 {}
func (n *snapshotNotifier) Add(achievement.Record) {}
func (n *snapshotNotifier) Finalize() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *snapshotNotifier) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-n.ch:
		return true
	case <-t.C:
	case <-ctx.Done():
	}
	return false
}

// setupLogger builds the logger for local commands from the [log] section.
func setupLogger(cfg *samgo.Config) (*slog.Logger, io.Closer, error) {
	l, closer, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	slog.SetDefault(l)
	return l, closer, nil
}

// Launch runs a local supervisor for one session.
func (c command) Launch(cmd *cobra.Command, f LaunchFlags) error {
	cfg, err := samgo.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log, closer, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ready := newSnapshotNotifier()
	rt, err := samgo.New(cfg, samgo.Options{
		Logger: log,
		Views:  []samgo.ViewSink{view.NewTable(cmd.OutOrStdout()), ready},
	})
	if err != nil {
		return err
	}
	defer func() {
		wait := cfg.Supervisor.TerminateWait
		if wait < 0 {
			wait = 0
		}
		cctx, cancel := context.WithTimeout(context.Background(), wait+5*time.Second)
		defer cancel()
		if err := rt.Close(cctx); err != nil {
			log.Warn("Emulated game did not exit cleanly", "error", err)
		}
	}()

	if err := rt.Launch(ctx, f.AppID); err != nil {
		return err
	}

	for _, id := range f.Set {
		rt.QueueMutation(id, true)
	}
	for _, id := range f.Clear {
		rt.QueueMutation(id, false)
	}
	var applyErr error
	if rt.Queue().Len() > 0 {
		applyErr = c.apply(ctx, cmd, rt, ready, cfg.Supervisor.SnapshotTimeout, cfg.Supervisor.MaxResends)
	}

	if f.Wait {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Emulated game running, press Ctrl-C to stop")
		<-ctx.Done()
	}
	return applyErr
}

// apply commits the queue and waits until every mutation is confirmed or the
// resend budget is spent.
func (c command) apply(ctx context.Context, cmd *cobra.Command, rt *samgo.Runtime, ready *snapshotNotifier, perSnapshot time.Duration, resends int) error {
	select {
	case <-ready.ch:
	default:
	}
	n, err := rt.Commit()
	if err != nil {
		return err
	}
	if perSnapshot <= 0 {
		perSnapshot = 10 * time.Second
	}
	if resends < 0 {
		resends = 0
	}
	var ids []string
	for i := 0; i <= resends; i++ {
		if !ready.wait(ctx, perSnapshot) {
			break
		}
		if ids, err = rt.Verify(); err != nil {
			return err
		}
		if len(ids) == 0 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d mutation(s) applied\n", n)
			return nil
		}
	}
	if ids, err = rt.Verify(); err == nil && len(ids) == 0 {
		return nil
	}
	return fmt.Errorf("mutations not confirmed by the game: %v", ids)
}

// LaunchRemote asks a samgo server to launch the game.
func (c command) LaunchRemote(cmd *cobra.Command, f LaunchFlags) error {
	ctx := cmd.Context()
	cl, err := reachableClient(ctx, f.RemoteFlags)
	if err != nil {
		return err
	}
	h, err := cl.Launch(ctx, f.AppID)
	if err != nil {
		return err
	}
	for _, id := range f.Set {
		if err := cl.SetAchievement(ctx, id, true, true); err != nil {
			return err
		}
	}
	for _, id := range f.Clear {
		if err := cl.SetAchievement(ctx, id, false, true); err != nil {
			return err
		}
	}
	if len(f.Set)+len(f.Clear) > 0 {
		if _, err := cl.Commit(ctx); err != nil {
			return err
		}
	}
	printJSON(cmd.OutOrStdout(), h)
	return nil
}
