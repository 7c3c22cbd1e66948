//go:build !windows

package supervisor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/samgo/internal/emulator"
)

const childEnv = "SAMGO_SUPERVISOR_TEST_CHILD"

// TestMain doubles as the emulated game binary for the exec launcher test.
func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		err := emulator.RunChild(context.Background(), emulator.Config{AppID: appID, PollInterval: 10 * time.Millisecond}, newGame(), quietLogger())
		if err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestExecLauncher_ReExecLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("re-exec test skipped in short mode")
	}
	l := &ExecLauncher{Path: os.Args[0], Args: []string{"-test.run=^$"}, Env: []string{childEnv + "=1"}}
	s, rec := newSupervisor(t, l, func(o *Options) {
		o.ReadyTimeout = 5 * time.Second
		o.MutationGap = 20 * time.Millisecond
	})

	require.NoError(t, s.Launch(context.Background(), appID))
	st := s.Status()
	require.NotNil(t, st.Handle)
	assert.NotEqual(t, os.Getpid(), st.Handle.PID)
	assert.Equal(t, 3, st.Achievements)
	assert.Contains(t, rec.Events(), "add:ACH_WIN_ONE_GAME")

	require.NoError(t, s.RequestMutation("ACH_WIN_ONE_GAME", true))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.RequestRefresh())
	require.Eventually(t, func() bool {
		ids, _ := s.Verify()
		return len(ids) == 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Terminate())
	waitState(t, s, StateIdle)
}
