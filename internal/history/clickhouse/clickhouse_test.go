package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/samgo/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container and returns its native address.
func setupClickHouseContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	addr := setupClickHouseContainer(ctx, t)

	sink, err := New(Options{Addr: addr, Table: "samgo_history"})
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()
	require.NoError(t, sink.EnsureTable(ctx))

	rec := history.Record{SessionID: "ch-session", AppID: 480, PID: 12345, State: "running", StartedAt: time.Now().Add(-time.Minute).UTC()}
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventLaunch, OccurredAt: time.Now().UTC(), Record: rec}))
	rec.Detail = "ACH_WIN_ONE_GAME=true"
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventMutation, OccurredAt: time.Now().UTC(), Record: rec}))

	var count uint64
	require.NoError(t, sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM samgo_history WHERE session_id = ?", "ch-session").Scan(&count))
	assert.Equal(t, uint64(2), count)
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New(Options{Addr: "invalid-host:9000", Table: "t"})
	assert.Error(t, err)
}
