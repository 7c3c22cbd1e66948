package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/samgo/internal/achievement"
	"github.com/loykin/samgo/internal/channel"
	"github.com/loykin/samgo/internal/history"
	"github.com/loykin/samgo/internal/metrics"
)

// Default timings.
const (
	DefaultSnapshotTimeout = 10 * time.Second
	DefaultReadyTimeout    = 30 * time.Second
	DefaultTerminateWait   = 5 * time.Second
	DefaultMaxResends      = 2
)

// Options configures a Supervisor. Zero durations select the defaults; a
// negative SnapshotTimeout makes snapshot reads unbounded.
type Options struct {
	Launcher Launcher
	Sink     ViewSink
	History  []history.Sink
	Logger   *slog.Logger

	// SnapshotTimeout bounds the read of one snapshot payload after its doorbell.
	SnapshotTimeout time.Duration
	// ReadyTimeout bounds the wait for the initial snapshot during Launch. When
	// it expires with the child still alive the launch succeeds anyway.
	ReadyTimeout time.Duration
	// TerminateWait is the grace period after a terminate doorbell before the
	// child is killed. Negative disables the kill.
	TerminateWait time.Duration
	// MutationGap separates consecutive mutation doorbells so they are not
	// coalesced by the OS.
	MutationGap time.Duration
	// MaxResends bounds how often an unconfirmed mutation is sent again when a
	// snapshot does not reflect it. Negative disables resending.
	MaxResends int
	// SampleUsage adds CPU and memory of the child to Status.
	SampleUsage bool
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State        string                  `json:"state"`
	Handle       *Handle                 `json:"handle,omitempty"`
	Achievements int                     `json:"achievements"`
	Achieved     int                     `json:"achieved"`
	Pending      int                     `json:"pending"`
	Unconfirmed  int                     `json:"unconfirmed"`
	LastRefresh  time.Time               `json:"last_refresh"`
	Refreshes    uint64                  `json:"refreshes"`
	Mutations    uint64                  `json:"mutations"`
	Desyncs      uint64                  `json:"desyncs"`
	Usage        *metrics.ProcessMetrics `json:"usage,omitempty"`
}

type cmdKind int

const (
	cmdLaunch cmdKind = iota
	cmdRefresh
	cmdMutate
	cmdCommit
	cmdVerify
	cmdTerminate
	cmdStatus
	cmdSnapshot
	cmdClose
)

type command struct {
	kind     cmdKind
	ctx      context.Context
	appID    uint32
	id       string
	achieved bool
	reply    chan result
}

type result struct {
	err    error
	n      int
	ids    []string
	status Status
	snap   achievement.Snapshot
}

// event is posted by the per-child reader and reaper goroutines.
type event struct {
	session string
	exited  bool
	err     error
	snap    achievement.Snapshot
}

// session is everything tied to one launched child.
type session struct {
	id        string
	appID     uint32
	child     Child
	startedAt time.Time
	exited    chan struct{}
}

// reaped reports whether the reaper has collected the child. Its pid may
// belong to another process by then.
func (s *session) reaped() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// Supervisor owns the lifecycle of one emulated game process. All state below
// the channels is owned by the run goroutine; public methods post commands.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
	queue  *Queue

	cmds   chan command
	events chan event
	done   chan struct{}

	state       State
	sess        *session
	handle      *Handle
	snap        achievement.Snapshot
	hasSnap     bool
	lastRefresh time.Time
	launchReply chan result
	closeReply  chan result
	readyTimer  *time.Timer
	readyC      <-chan time.Time
	killTimer   *time.Timer
	killC       <-chan time.Time

	// requested keeps the last desired state per id sent in this session,
	// unconfirmed the ones no snapshot has reflected yet.
	requested   map[string]bool
	unconfirmed map[string]bool
	resends     map[string]int

	refreshes, mutations, desyncs uint64
}

// New constructs the supervisor and starts its state goroutine.
func New(opts Options) *Supervisor {
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SnapshotTimeout == 0 {
		opts.SnapshotTimeout = DefaultSnapshotTimeout
	} else if opts.SnapshotTimeout < 0 {
		opts.SnapshotTimeout = 0
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.TerminateWait == 0 {
		opts.TerminateWait = DefaultTerminateWait
	}
	if opts.MaxResends == 0 {
		opts.MaxResends = DefaultMaxResends
	}
	s := &Supervisor{
		opts:        opts,
		logger:      opts.Logger.With("component", "supervisor"),
		queue:       NewQueue(),
		cmds:        make(chan command, 16),
		events:      make(chan event, 16),
		done:        make(chan struct{}),
		requested:   make(map[string]bool),
		unconfirmed: make(map[string]bool),
		resends:     make(map[string]int),
	}
	metrics.SetCurrentState(StateIdle.String(), true)
	go s.run()
	return s
}

// Queue exposes the pending mutation queue.
func (s *Supervisor) Queue() *Queue { return s.queue }

// Launch starts the emulated game for appID and waits until it is ready (its
// initial snapshot arrived) or ReadyTimeout elapsed.
func (s *Supervisor) Launch(ctx context.Context, appID uint32) error {
	return s.do(ctx, command{kind: cmdLaunch, ctx: ctx, appID: appID}).err
}

// RequestRefresh resets the view sink and rings the retrieve doorbell. The
// snapshot arrives later through the sink.
func (s *Supervisor) RequestRefresh() error {
	return s.do(context.Background(), command{kind: cmdRefresh}).err
}

// RequestMutation queues (id, achieved) and sends every pending mutation in
// FIFO order. A nil error means the records were written in full and the
// doorbells rung; the next snapshot confirms the change.
func (s *Supervisor) RequestMutation(id string, achieved bool) error {
	return s.do(context.Background(), command{kind: cmdMutate, id: id, achieved: achieved}).err
}

// QueueMutation records a pending change without sending it.
func (s *Supervisor) QueueMutation(id string, achieved bool) {
	s.queue.Add(id, achieved)
}

// Commit sends all pending mutations and requests one refresh. It returns the
// number of records sent.
func (s *Supervisor) Commit() (int, error) {
	r := s.do(context.Background(), command{kind: cmdCommit})
	return r.n, r.err
}

// Verify lists ids whose requested state is not reflected by the cached
// snapshot.
func (s *Supervisor) Verify() ([]string, error) {
	r := s.do(context.Background(), command{kind: cmdVerify})
	return r.ids, r.err
}

// Terminate rings the terminate doorbell and drops the cached snapshot. The
// move back to Idle happens when the child is reaped.
func (s *Supervisor) Terminate() error {
	return s.do(context.Background(), command{kind: cmdTerminate}).err
}

func (s *Supervisor) Status() Status {
	st := s.do(context.Background(), command{kind: cmdStatus}).status
	if s.opts.SampleUsage && st.Handle != nil {
		if m, err := metrics.SampleProcess(st.Handle.PID); err == nil {
			st.Usage = m
		} else {
			s.logger.Debug("Failed to sample child usage", "pid", st.Handle.PID, "error", err)
		}
	}
	return st
}

// Handle returns the live child handle, or nil when none is running.
func (s *Supervisor) Handle() *Handle {
	return s.do(context.Background(), command{kind: cmdStatus}).status.Handle
}

// Snapshot returns the cached snapshot; ok is false when none is cached.
func (s *Supervisor) Snapshot() (achievement.Snapshot, bool) {
	r := s.do(context.Background(), command{kind: cmdSnapshot})
	return r.snap, r.n == 1
}

// Close terminates any live child and waits for it to be reaped or for ctx.
func (s *Supervisor) Close(ctx context.Context) error {
	err := s.do(ctx, command{kind: cmdClose}).err
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (s *Supervisor) do(ctx context.Context, cmd command) result {
	cmd.reply = make(chan result, 1)
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return result{err: ErrClosed}
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-s.done:
		return result{err: ErrClosed}
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
}

func (s *Supervisor) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// run is the state goroutine: commands from callers and events from the
// reader and reaper goroutines are handled one at a time.
func (s *Supervisor) run() {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.cmds:
			if s.handleCommand(cmd) {
				return
			}
		case ev := <-s.events:
			if ev.exited {
				if s.onChildExit(ev) {
					return
				}
				continue
			}
			s.onSnapshot(ev)
		case <-s.readyC:
			s.readyC = nil
			if s.state == StateLaunching {
				s.logger.Warn("No initial snapshot before ready timeout, assuming child is up", "timeout", s.opts.ReadyTimeout)
				s.becomeReady()
			}
		case <-s.killC:
			s.killC = nil
			if s.sess != nil && !s.sess.reaped() {
				s.logger.Warn("Child did not exit after terminate, killing", "pid", s.sess.child.PID(), "wait", s.opts.TerminateWait)
				if err := s.sess.child.Kill(); err != nil {
					s.logger.Error("Failed to kill child", "pid", s.sess.child.PID(), "error", err)
				}
			}
		}
	}
}

func (s *Supervisor) handleCommand(cmd command) bool {
	var r result
	switch cmd.kind {
	case cmdLaunch:
		s.handleLaunch(cmd)
		return false
	case cmdRefresh:
		r.err = s.handleRefresh()
	case cmdMutate:
		if s.state != StateRunning {
			s.logger.Warn("Could not update, no child found", "id", cmd.id)
			r.err = ErrNotRunning
			break
		}
		s.queue.Add(cmd.id, cmd.achieved)
		r.n, r.err = s.drain()
	case cmdCommit:
		if s.state != StateRunning {
			s.logger.Warn("Could not commit, no child found", "pending", s.queue.Len())
			r.err = ErrNotRunning
			break
		}
		r.n, r.err = s.drain()
		if r.err == nil {
			r.err = s.handleRefresh()
		}
	case cmdVerify:
		r.ids = s.verify()
	case cmdTerminate:
		s.handleTerminate()
	case cmdStatus:
		r.status = s.status()
	case cmdSnapshot:
		r.snap = s.snap
		if s.hasSnap {
			r.n = 1
		}
	case cmdClose:
		if s.sess == nil {
			cmd.reply <- result{}
			return true
		}
		s.closeReply = cmd.reply
		if s.state != StateTerminating {
			s.terminate("close")
		}
		return false
	}
	cmd.reply <- r
	return false
}

// handleLaunch replies directly on failure. On success the reply is parked
// until the child becomes ready or exits.
func (s *Supervisor) handleLaunch(cmd command) {
	if s.closeReply != nil {
		cmd.reply <- result{err: ErrClosed}
		return
	}
	if s.state != StateIdle {
		s.logger.Warn("Emulated game already running", "state", s.state.String(), "pid", s.handle.PID, "app_id", s.handle.AppID)
		cmd.reply <- result{err: ErrAlreadyRunning}
		return
	}
	s.setState(StateLaunching)
	child, err := s.opts.Launcher.Start(cmd.ctx, cmd.appID)
	if err != nil {
		s.logger.Error("Failed to start emulated game", "app_id", cmd.appID, "error", err)
		metrics.IncLaunch("error")
		s.setState(StateIdle)
		cmd.reply <- result{err: fmt.Errorf("%w: %w", ErrFatal, err)}
		return
	}

	sess := &session{
		id:        uuid.NewString(),
		appID:     cmd.appID,
		child:     child,
		startedAt: time.Now().UTC(),
		exited:    make(chan struct{}),
	}
	s.sess = sess
	s.handle = &Handle{PID: child.PID(), SessionID: sess.id, AppID: cmd.appID, StartedAt: sess.startedAt}
	s.launchReply = cmd.reply
	s.readyTimer = time.NewTimer(s.opts.ReadyTimeout)
	s.readyC = s.readyTimer.C

	child.Channel().SetReadTimeout(s.opts.SnapshotTimeout)
	// the child sends an unsolicited initial snapshot
	s.opts.Sink.Reset()

	go s.reap(sess)
	go s.readSnapshots(sess)

	s.logger.Info("Emulated game started", "app_id", cmd.appID, "pid", child.PID(), "session", sess.id)
	s.record(history.EventLaunch, "")
}

func (s *Supervisor) becomeReady() {
	s.stopReadyTimer()
	s.setState(StateRunning)
	metrics.IncLaunch("ok")
	s.replyLaunch(nil)
}

func (s *Supervisor) replyLaunch(err error) {
	if s.launchReply != nil {
		s.launchReply <- result{err: err}
		s.launchReply = nil
	}
}

func (s *Supervisor) handleRefresh() error {
	if s.state != StateRunning {
		s.logger.Warn("Could not refresh, no child found", "state", s.state.String())
		return ErrNotRunning
	}
	if s.hasSnap {
		s.logger.Debug("Refreshing while a snapshot is cached", "achievements", s.snap.Len())
	}
	s.opts.Sink.Reset()
	if err := s.sess.child.Channel().Ring(channel.Retrieve); err != nil {
		s.logger.Error("Failed to request snapshot", "error", err)
		return err
	}
	metrics.IncRefresh()
	s.record(history.EventRefresh, "")
	return nil
}

// drain sends pending mutations oldest first, one record and one doorbell at a
// time. An entry leaves the queue only once it was sent.
func (s *Supervisor) drain() (int, error) {
	ch := s.sess.child.Channel()
	sent := 0
	for {
		m, ok := s.queue.Peek()
		if !ok {
			return sent, nil
		}
		if sent > 0 && s.opts.MutationGap > 0 {
			time.Sleep(s.opts.MutationGap)
		}
		b, err := achievement.SetAchieved(m.ID, m.Achieved).MarshalBinary()
		if err != nil {
			return sent, err
		}
		if err := ch.Send(channel.Mutate, b); err != nil {
			s.logger.Error("Failed to send mutation", "id", m.ID, "achieved", m.Achieved, "error", err)
			metrics.IncMutation("error")
			return sent, err
		}
		s.queue.Remove(m.ID)
		s.requested[m.ID] = m.Achieved
		s.unconfirmed[m.ID] = m.Achieved
		s.mutations++
		sent++
		metrics.IncMutation("sent")
		s.logger.Info("Mutation sent", "id", m.ID, "achieved", m.Achieved)
		s.record(history.EventMutation, fmt.Sprintf("%s=%t", m.ID, m.Achieved))
	}
}

func (s *Supervisor) handleTerminate() {
	switch s.state {
	case StateIdle:
		s.logger.Warn("Could not terminate, no child found")
	default:
		s.terminate("requested")
	}
}

// terminate rings the terminate doorbell, drops the cached snapshot and arms
// the kill timer. It is fire and forget.
func (s *Supervisor) terminate(reason string) {
	if s.sess == nil {
		return
	}
	if s.sess.reaped() {
		s.logger.Debug("Child already reaped, not ringing terminate", "pid", s.sess.child.PID())
	} else if err := s.sess.child.Channel().Ring(channel.Terminate); err != nil {
		s.logger.Warn("Failed to ring terminate", "pid", s.sess.child.PID(), "error", err)
	}
	if s.state == StateLaunching {
		s.replyLaunch(fmt.Errorf("%w: terminated before ready (%s)", ErrFatal, reason))
	}
	s.snap = achievement.Snapshot{}
	s.hasSnap = false
	s.stopReadyTimer()
	s.setState(StateTerminating)
	if s.opts.TerminateWait > 0 && s.killTimer == nil {
		s.killTimer = time.NewTimer(s.opts.TerminateWait)
		s.killC = s.killTimer.C
	}
	s.record(history.EventTerminate, reason)
}

func (s *Supervisor) onSnapshot(ev event) {
	if s.sess == nil || ev.session != s.sess.id {
		return
	}
	if ev.err != nil {
		s.desyncs++
		metrics.IncDesync()
		s.logger.Error("Control channel desynchronized, terminating child", "pid", s.sess.child.PID(), "error", ev.err)
		if s.state == StateLaunching {
			s.replyLaunch(fmt.Errorf("%w: %w", ErrFatal, ev.err))
		}
		if s.state != StateTerminating {
			s.terminate("desync")
		}
		return
	}
	if s.state == StateTerminating {
		s.logger.Debug("Ignoring snapshot received while terminating")
		return
	}

	s.snap = ev.snap
	s.hasSnap = true
	s.lastRefresh = time.Now().UTC()
	s.refreshes++
	achieved := 0
	for _, r := range ev.snap.Records() {
		if r.Achieved {
			achieved++
		}
		s.opts.Sink.Add(r)
	}
	s.opts.Sink.Finalize()
	metrics.SetAchievements(ev.snap.Len(), achieved)
	s.logger.Debug("Snapshot received", "achievements", ev.snap.Len(), "achieved", achieved)

	if s.state == StateLaunching {
		s.becomeReady()
	}
	s.reconcile()
}

// reconcile confirms sent mutations against the latest snapshot and resends
// the ones it does not reflect, up to MaxResends times each.
func (s *Supervisor) reconcile() {
	if len(s.unconfirmed) == 0 {
		return
	}
	ids := make([]string, 0, len(s.unconfirmed))
	for id := range s.unconfirmed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	resend := false
	for _, id := range ids {
		want := s.unconfirmed[id]
		r, ok := s.snap.Find(id)
		switch {
		case ok && r.Achieved == want:
			metrics.IncMutation("confirmed")
		case !ok:
			s.logger.Warn("Mutation targets an unknown achievement", "id", id)
			metrics.IncMutation("unknown")
		case s.opts.MaxResends < 0 || s.resends[id] >= s.opts.MaxResends:
			s.logger.Warn("Mutation not confirmed by snapshot", "id", id, "achieved", want, "resends", s.resends[id])
			metrics.IncMutation("unconfirmed")
		default:
			s.resends[id]++
			s.queue.Add(id, want)
			resend = true
			continue
		}
		delete(s.unconfirmed, id)
		delete(s.resends, id)
	}
	if !resend || s.state != StateRunning {
		return
	}
	s.logger.Info("Resending unconfirmed mutations", "pending", s.queue.Len())
	if _, err := s.drain(); err != nil {
		return
	}
	_ = s.handleRefresh()
}

func (s *Supervisor) verify() []string {
	var out []string
	for id, want := range s.requested {
		r, ok := s.snap.Find(id)
		if !s.hasSnap || !ok || r.Achieved != want {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// onChildExit handles the exit-reap event. It is idempotent and forces Idle
// from any state. It reports whether the run loop must stop.
func (s *Supervisor) onChildExit(ev event) bool {
	if s.sess == nil || ev.session != s.sess.id {
		return false
	}
	if s.state == StateLaunching {
		s.replyLaunch(fmt.Errorf("%w: emulated game exited during init: %v", ErrFatal, ev.err))
		metrics.IncLaunch("error")
	}
	s.stopReadyTimer()
	if s.killTimer != nil {
		s.killTimer.Stop()
		s.killTimer, s.killC = nil, nil
	}
	if ev.err != nil {
		s.logger.Info("Emulated game terminated", "pid", s.handle.PID, "app_id", s.handle.AppID, "error", ev.err)
	} else {
		s.logger.Info("Emulated game terminated", "pid", s.handle.PID, "app_id", s.handle.AppID)
	}
	metrics.IncExit()
	detail := ""
	if ev.err != nil {
		detail = ev.err.Error()
	}
	s.record(history.EventExit, detail)

	s.sess = nil
	s.handle = nil
	s.snap = achievement.Snapshot{}
	s.hasSnap = false
	clear(s.requested)
	clear(s.unconfirmed)
	clear(s.resends)
	s.setState(StateIdle)

	if s.closeReply != nil {
		s.closeReply <- result{}
		return true
	}
	return false
}

func (s *Supervisor) stopReadyTimer() {
	if s.readyTimer != nil {
		s.readyTimer.Stop()
		s.readyTimer, s.readyC = nil, nil
	}
}

func (s *Supervisor) status() Status {
	st := Status{
		State:       s.state.String(),
		Pending:     s.queue.Len(),
		Unconfirmed: len(s.unconfirmed),
		LastRefresh: s.lastRefresh,
		Refreshes:   s.refreshes,
		Mutations:   s.mutations,
		Desyncs:     s.desyncs,
	}
	if s.handle != nil {
		h := *s.handle
		st.Handle = &h
	}
	if s.hasSnap {
		st.Achievements = s.snap.Len()
		for _, r := range s.snap.Records() {
			if r.Achieved {
				st.Achieved++
			}
		}
	}
	return st
}

func (s *Supervisor) setState(next State) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	metrics.RecordStateTransition(prev.String(), next.String())
	metrics.SetCurrentState(prev.String(), false)
	metrics.SetCurrentState(next.String(), true)
}

// reap waits for the child and posts the exit event.
func (s *Supervisor) reap(sess *session) {
	err := sess.child.Wait()
	close(sess.exited)
	s.post(event{session: sess.id, exited: true, err: err})
}

// readSnapshots is the listener task: on each snapshot-ready doorbell it reads
// one snapshot and posts it. It stops on the first failed read.
func (s *Supervisor) readSnapshots(sess *session) {
	ch := sess.child.Channel()
	for {
		select {
		case <-sess.exited:
			return
		case b, ok := <-ch.Bells():
			if !ok {
				return
			}
			if b != channel.SnapshotReady {
				s.logger.Debug("Ignoring unexpected doorbell", "bell", b.String())
				continue
			}
			var snap achievement.Snapshot
			err := ch.Receive(func(r io.Reader) error {
				var err error
				snap, err = achievement.DecodeSnapshot(r)
				return err
			})
			s.post(event{session: sess.id, snap: snap, err: err})
			if err != nil {
				return
			}
		}
	}
}

func (s *Supervisor) record(t history.EventType, detail string) {
	if len(s.opts.History) == 0 || s.sess == nil {
		return
	}
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			SessionID: s.sess.id,
			AppID:     s.sess.appID,
			PID:       s.sess.child.PID(),
			State:     s.state.String(),
			Detail:    detail,
			StartedAt: s.sess.startedAt,
		},
	}
	for _, h := range s.opts.History {
		if err := h.Send(context.Background(), e); err != nil {
			s.logger.Debug("Failed to send history event", "type", string(t), "error", err)
		}
	}
}
