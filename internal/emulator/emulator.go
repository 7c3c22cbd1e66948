package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/loykin/samgo/internal/achievement"
	"github.com/loykin/samgo/internal/channel"
	"github.com/loykin/samgo/internal/service"
)

// DefaultPollInterval is the sleep between two service callback runs.
const DefaultPollInterval = time.Second

// ErrInit is returned by Run when the achievement service session cannot be
// initialized. The emulated process treats it as fatal.
var ErrInit = errors.New("emulated game init failed")

// Config describes the game being emulated.
type Config struct {
	AppID        uint32
	PollInterval time.Duration
}

// Emulator is the emulated game process: it owns the achievement service
// session and reacts to doorbells rung by the supervisor. All state is owned by
// the goroutine executing Run.
type Emulator struct {
	cfg    Config
	svc    service.Service
	ch     *channel.Channel
	logger *slog.Logger

	// requested suppresses a second retrieval while one is in flight.
	requested bool
	dropped   int
	applied   int
}

func New(cfg Config, svc service.Service, ch *channel.Channel, logger *slog.Logger) *Emulator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emulator{
		cfg:    cfg,
		svc:    svc,
		ch:     ch,
		logger: logger.With("app_id", cfg.AppID, "pid", os.Getpid()),
	}
}

// Run initializes the session, requests the initial stats and then loops:
// run service callbacks, sleep, repeat. Doorbells are handled while sleeping.
// It returns nil after a terminate doorbell.
func (e *Emulator) Run(ctx context.Context) error {
	appID := strconv.FormatUint(uint64(e.cfg.AppID), 10)
	if err := os.Setenv(service.EnvAppID, appID); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrInit, service.EnvAppID, err)
	}
	if err := e.svc.Init(e.cfg.AppID); err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	e.svc.OnStatsReceived(e.onStatsReceived)
	e.logger.Info("Emulated game session started")

	e.retrieve()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		e.svc.RunCallbacks()
		select {
		case <-ctx.Done():
			e.svc.Shutdown()
			return ctx.Err()
		case b, ok := <-e.ch.Bells():
			if !ok {
				e.svc.Shutdown()
				return nil
			}
			if e.handle(b) {
				return nil
			}
		case <-ticker.C:
		}
	}
}

// handle reacts to one doorbell and reports whether the process must exit.
func (e *Emulator) handle(b channel.Bell) bool {
	switch b {
	case channel.Terminate:
		e.svc.Shutdown()
		e.logger.Info("Terminate requested, shutting session down")
		return true
	case channel.Retrieve:
		e.retrieve()
	case channel.Mutate:
		e.applyMutation()
	default:
		e.logger.Warn("Unexpected doorbell", "bell", b.String())
	}
	return false
}

func (e *Emulator) retrieve() {
	if e.requested {
		e.dropped++
		e.logger.Debug("Stats retrieval already in flight, dropping request", "dropped", e.dropped)
		return
	}
	e.requested = true
	if !e.svc.RequestCurrentStats() {
		e.requested = false
		e.logger.Warn("Achievement service refused stats request")
	}
}

// applyMutation reads exactly one mutation record. There is no replay buffer:
// a second mutate doorbell rung before this record is drained shifts record
// boundaries for the rest of the session.
func (e *Emulator) applyMutation() {
	var m achievement.Mutation
	err := e.ch.Receive(func(r io.Reader) error {
		var err error
		m, err = achievement.ReadMutation(r)
		return err
	})
	if err != nil {
		e.logger.Error("Failed to read mutation record", "error", err)
		return
	}
	switch m.Kind {
	case achievement.KindAchievement:
		var ok bool
		if m.Achieved() {
			ok = e.svc.SetAchievement(m.ID)
		} else {
			ok = e.svc.ClearAchievement(m.ID)
		}
		if !ok {
			e.logger.Warn("Achievement service rejected mutation", "id", m.ID, "achieved", m.Achieved())
			return
		}
		if !e.svc.StoreStats() {
			e.logger.Warn("Achievement service failed to store stats", "id", m.ID)
		}
		e.applied++
		e.logger.Info("Applied mutation", "id", m.ID, "achieved", m.Achieved())
	case achievement.KindStat:
		e.logger.Debug("Stat mutations are not supported, ignoring", "id", m.ID)
	default:
		e.logger.Warn("Unknown mutation kind", "kind", m.Kind, "id", m.ID)
	}
}

// onStatsReceived runs from RunCallbacks. Completions for another application
// id are ignored without touching the in-flight guard.
func (e *Emulator) onStatsReceived(ev service.StatsReceived) {
	if os.Getenv(service.EnvAppID) != strconv.FormatUint(ev.GameID, 10) {
		e.logger.Debug("Ignoring stats for another game", "game_id", ev.GameID)
		return
	}
	if ev.Result != service.ResultOK {
		e.requested = false
		e.logger.Warn("Received stats for the game, but an error occurred", "result", ev.Result.String())
		return
	}

	snap := e.collect()
	err := e.ch.Announce(channel.SnapshotReady, func(w io.Writer) error {
		return achievement.EncodeSnapshot(w, snap)
	})
	e.requested = false
	if err != nil {
		e.logger.Error("Failed to send snapshot", "error", err)
		return
	}
	e.logger.Debug("Snapshot sent", "count", snap.Len())
}

// collect enumerates achievements in service order. Lookup failures degrade
// to zero values.
func (e *Emulator) collect() achievement.Snapshot {
	n := e.svc.NumAchievements()
	recs := make([]achievement.Record, 0, n)
	for i := 0; i < n; i++ {
		id := e.svc.AchievementName(i)
		achieved, _ := e.svc.Achievement(id)
		hidden := e.svc.AchievementDisplayAttribute(id, "hidden")
		recs = append(recs, achievement.Record{
			ID:          id,
			Name:        e.svc.AchievementDisplayAttribute(id, "name"),
			Description: e.svc.AchievementDisplayAttribute(id, "desc"),
			Achieved:    achieved,
			Hidden:      hidden != "" && hidden != "0",
			IconHandle:  e.svc.AchievementIcon(id),
		}.Truncated())
	}
	return achievement.NewSnapshot(recs)
}
