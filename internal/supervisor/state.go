package supervisor

import (
	"errors"
	"time"
)

// State of the supervisor state machine:
// Idle -> Launching -> Running -> Terminating -> Idle
type State int32

const (
	StateIdle State = iota
	StateLaunching
	StateRunning
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyRunning is returned by Launch when a child is already live.
	ErrAlreadyRunning = errors.New("emulated game already running")
	// ErrNotRunning is returned by operations that need a running child.
	ErrNotRunning = errors.New("no emulated game running")
	// ErrFatal wraps launch failures: the child could not be started, or it
	// died or desynchronized before becoming ready. Launch is not retried.
	ErrFatal = errors.New("emulated game launch failed")
	// ErrClosed is returned once the supervisor has been closed.
	ErrClosed = errors.New("supervisor closed")
)

// Handle identifies the live emulated game process.
type Handle struct {
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id"`
	AppID     uint32    `json:"app_id"`
	StartedAt time.Time `json:"started_at"`
}
