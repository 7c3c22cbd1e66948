package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/samgo/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	ctx := context.Background()
	rec := history.Record{
		SessionID: "session-1",
		AppID:     480,
		PID:       12345,
		State:     "launching",
		StartedAt: time.Now().Add(-time.Minute).UTC(),
	}
	for _, tp := range []history.EventType{history.EventLaunch, history.EventRefresh, history.EventMutation, history.EventTerminate, history.EventExit} {
		rec.Detail = ""
		if tp == history.EventMutation {
			rec.Detail = "ACH_WIN_ONE_GAME=true"
		}
		require.NoError(t, sink.Send(ctx, history.Event{Type: tp, OccurredAt: time.Now().UTC(), Record: rec}))
	}

	got, err := sink.Events(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, []history.EventType{"launch", "refresh", "mutation", "terminate", "exit"}, got)

	other, err := sink.Events(ctx, "session-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteSink_MemoryAndReopen(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), history.Event{Type: history.EventLaunch, OccurredAt: time.Now(), Record: history.Record{SessionID: "m"}}))
	got, err := sink.Events(context.Background(), "m")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	require.NoError(t, sink.Close())

	// schema creation is idempotent
	path := filepath.Join(t.TempDir(), "h.db")
	a, err := New(path)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	b, err := New(path)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
