//go:build windows

package channel

import (
	"context"
	"errors"
	"syscall"
)

var errUnsupported = errors.New("signal doorbells are not supported on windows")

var (
	ParentToChild = map[Bell]syscall.Signal{}
	ChildToParent = map[Bell]syscall.Signal{}
)

const (
	CommandFD  = 3
	SnapshotFD = 4
)

type SignalRinger struct {
	PID     int
	Signals map[Bell]syscall.Signal
}

func (r SignalRinger) Ring(Bell) error { return errUnsupported }

func Listen(ctx context.Context, _ map[Bell]syscall.Signal) <-chan Bell {
	out := make(chan Bell)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out
}

func Inherited(context.Context) (*Channel, error) { return nil, errUnsupported }
