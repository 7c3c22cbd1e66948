package emulator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/samgo/internal/achievement"
	"github.com/loykin/samgo/internal/channel"
	"github.com/loykin/samgo/internal/service"
	"github.com/loykin/samgo/internal/service/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGame() *memory.Service {
	svc := memory.New()
	svc.AddGame(480,
		service.Definition{ID: "ACH_WIN_ONE_GAME", Name: "Winner", Description: "Win one game", Icon: 11},
		service.Definition{ID: "ACH_WIN_100_GAMES", Name: "Champion", Description: "Win 100 games", Hidden: true, Icon: 12},
		service.Definition{ID: "ACH_TRAVEL_FAR_ACCUM", Name: "Interstellar"},
	)
	svc.SetState(480, "ACH_WIN_100_GAMES", true)
	return svc
}

func waitBell(t *testing.T, bells <-chan channel.Bell, want channel.Bell) {
	t.Helper()
	select {
	case b := <-bells:
		require.Equal(t, want, b)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func readSnapshot(t *testing.T, parent *channel.Channel) achievement.Snapshot {
	t.Helper()
	var snap achievement.Snapshot
	require.NoError(t, parent.Receive(func(r io.Reader) error {
		var err error
		snap, err = achievement.DecodeSnapshot(r)
		return err
	}))
	return snap
}

func startEmulator(t *testing.T, svc service.Service) (*channel.Channel, chan error) {
	t.Helper()
	parent, child, err := channel.Pair()
	require.NoError(t, err)
	t.Cleanup(func() { _ = parent.Close(); _ = child.Close() })
	parent.SetReadTimeout(2 * time.Second)

	e := New(Config{AppID: 480, PollInterval: 10 * time.Millisecond}, svc, child, quietLogger())
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	return parent, done
}

func TestRun_InitialSnapshotInServiceOrder(t *testing.T) {
	svc := newGame()
	parent, done := startEmulator(t, svc)

	waitBell(t, parent.Bells(), channel.SnapshotReady)
	snap := readSnapshot(t, parent)
	require.Equal(t, 3, snap.Len())
	assert.Equal(t, achievement.Record{ID: "ACH_WIN_ONE_GAME", Name: "Winner", Description: "Win one game", IconHandle: 11}, snap.At(0))
	assert.Equal(t, achievement.Record{ID: "ACH_WIN_100_GAMES", Name: "Champion", Description: "Win 100 games", Achieved: true, Hidden: true, IconHandle: 12}, snap.At(1))
	assert.Equal(t, "ACH_TRAVEL_FAR_ACCUM", snap.At(2).ID)

	require.NoError(t, parent.Ring(channel.Terminate))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("emulator did not exit after terminate")
	}
	assert.True(t, svc.Closed())
}

func TestRun_RetrieveAfterMutation(t *testing.T) {
	svc := newGame()
	parent, done := startEmulator(t, svc)
	waitBell(t, parent.Bells(), channel.SnapshotReady)
	_ = readSnapshot(t, parent)

	b, err := achievement.SetAchieved("ACH_WIN_ONE_GAME", true).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, parent.Send(channel.Mutate, b))
	require.NoError(t, parent.Ring(channel.Retrieve))

	waitBell(t, parent.Bells(), channel.SnapshotReady)
	snap := readSnapshot(t, parent)
	r, ok := snap.Find("ACH_WIN_ONE_GAME")
	require.True(t, ok)
	assert.True(t, r.Achieved)
	assert.Equal(t, []string{"set:ACH_WIN_ONE_GAME"}, svc.Applied())

	require.NoError(t, parent.Ring(channel.Terminate))
	require.NoError(t, <-done)
}

func TestRun_ZeroAchievements(t *testing.T) {
	svc := memory.New()
	parent, done := startEmulator(t, svc)

	waitBell(t, parent.Bells(), channel.SnapshotReady)
	snap := readSnapshot(t, parent)
	assert.Equal(t, 0, snap.Len())

	require.NoError(t, parent.Ring(channel.Terminate))
	require.NoError(t, <-done)
}

func TestRun_InitFailureIsFatal(t *testing.T) {
	svc := memory.New()
	svc.InitErr = errors.New("no session")
	parent, done := startEmulator(t, svc)

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInit)
	assert.ErrorIs(t, err, service.ErrInit)
	select {
	case b := <-parent.Bells():
		t.Fatalf("unexpected doorbell %s", b)
	default:
	}
}

func TestRun_ContextCancel(t *testing.T) {
	parent, child, err := channel.Pair()
	require.NoError(t, err)
	defer func() { _ = parent.Close(); _ = child.Close() }()

	svc := newGame()
	ctx, cancel := context.WithCancel(context.Background())
	e := New(Config{AppID: 480}, svc, child, quietLogger())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	waitBell(t, parent.Bells(), channel.SnapshotReady)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, svc.Closed())
}

// newUnit builds an emulator whose doorbells are driven by calling handle
// directly, with raw access to the command pipe.
func newUnit(t *testing.T, svc service.Service) (*Emulator, *channel.Pipes, *channel.Channel) {
	t.Helper()
	p, err := channel.NewPipes()
	require.NoError(t, err)
	toChild, childBells := channel.NewLocalRinger()
	toParent, parentBells := channel.NewLocalRinger()
	parent := p.ParentEnd(toChild, parentBells)
	child := p.ChildEnd(toParent, childBells)
	t.Cleanup(func() { _ = parent.Close(); _ = child.Close() })

	t.Setenv(service.EnvAppID, "480")
	require.NoError(t, svc.Init(480))
	e := New(Config{AppID: 480}, svc, child, quietLogger())
	svc.OnStatsReceived(e.onStatsReceived)
	return e, p, parent
}

func TestRetrieve_OverlappingRequestIsDropped(t *testing.T) {
	svc := newGame()
	e, _, parent := newUnit(t, svc)

	assert.False(t, e.handle(channel.Retrieve))
	assert.False(t, e.handle(channel.Retrieve))
	assert.Equal(t, 1, svc.Requests(), "second retrieval must not reach the service")
	assert.Equal(t, 1, e.dropped)

	// the single completion answers the first request only
	svc.RunCallbacks()
	waitBell(t, parent.Bells(), channel.SnapshotReady)
	_ = readSnapshot(t, parent)
	select {
	case b := <-parent.Bells():
		t.Fatalf("dropped refresh must not be queued, got %s", b)
	default:
	}

	// once the guard is released a new retrieval goes through
	e.handle(channel.Retrieve)
	assert.Equal(t, 2, svc.Requests())
}

func TestStatsReceived_MismatchedAppIDIgnored(t *testing.T) {
	svc := newGame()
	e, _, parent := newUnit(t, svc)

	e.requested = true
	svc.Inject(service.StatsReceived{GameID: 570, Result: service.ResultOK})
	svc.RunCallbacks()

	time.Sleep(20 * time.Millisecond)
	select {
	case b := <-parent.Bells():
		t.Fatalf("no doorbell expected, got %s", b)
	default:
	}
	assert.True(t, e.requested, "foreign completion must not release the guard")
}

func TestStatsReceived_FailureReleasesGuard(t *testing.T) {
	svc := newGame()
	e, _, parent := newUnit(t, svc)

	e.requested = true
	svc.Inject(service.StatsReceived{GameID: 480, Result: service.ResultFail})
	svc.RunCallbacks()
	assert.False(t, e.requested)
	select {
	case b := <-parent.Bells():
		t.Fatalf("no doorbell expected, got %s", b)
	default:
	}
}

func TestMutate_AppliesSetAndClear(t *testing.T) {
	svc := newGame()
	e, p, _ := newUnit(t, svc)

	for _, m := range []achievement.Mutation{
		achievement.SetAchieved("ACH_WIN_ONE_GAME", true),
		achievement.SetAchieved("ACH_WIN_100_GAMES", false),
		{Kind: achievement.KindStat, Value: 3, ID: "STAT_WINS"},
	} {
		b, _ := m.MarshalBinary()
		_, err := p.CommandW.Write(b)
		require.NoError(t, err)
		e.handle(channel.Mutate)
	}
	assert.Equal(t, []string{"set:ACH_WIN_ONE_GAME", "clear:ACH_WIN_100_GAMES"}, svc.Applied())
	assert.True(t, svc.IsAchieved(480, "ACH_WIN_ONE_GAME"))
	assert.False(t, svc.IsAchieved(480, "ACH_WIN_100_GAMES"))
	assert.Equal(t, 2, e.applied)
}

func TestMutate_StrayBytesShiftRecordBoundaries(t *testing.T) {
	svc := newGame()
	e, p, _ := newUnit(t, svc)

	// leftover bytes from an interrupted write sit in front of a valid record
	_, err := p.CommandW.Write([]byte("xx"))
	require.NoError(t, err)
	b, _ := achievement.SetAchieved("ACH_WIN_ONE_GAME", true).MarshalBinary()
	_, err = p.CommandW.Write(b)
	require.NoError(t, err)

	e.handle(channel.Mutate)
	assert.False(t, svc.IsAchieved(480, "ACH_WIN_ONE_GAME"), "misaligned record must not apply the intended id")
	assert.Zero(t, e.applied)
}

func TestMutate_DoubleDoorbellForOneRecord(t *testing.T) {
	svc := newGame()
	e, p, _ := newUnit(t, svc)
	e.ch.SetReadTimeout(100 * time.Millisecond)

	b, _ := achievement.SetAchieved("ACH_WIN_ONE_GAME", true).MarshalBinary()
	_, err := p.CommandW.Write(b)
	require.NoError(t, err)

	e.handle(channel.Mutate)
	// the second doorbell finds no payload: the read fails instead of applying
	e.handle(channel.Mutate)
	assert.Equal(t, []string{"set:ACH_WIN_ONE_GAME"}, svc.Applied())
	assert.Equal(t, 1, e.applied)
}

func TestTerminate_AbandonsInFlightRetrieval(t *testing.T) {
	svc := newGame()
	e, _, parent := newUnit(t, svc)

	e.handle(channel.Retrieve)
	assert.True(t, e.handle(channel.Terminate))
	assert.True(t, svc.Closed())
	select {
	case b := <-parent.Bells():
		t.Fatalf("no snapshot expected after terminate, got %s", b)
	default:
	}
}
