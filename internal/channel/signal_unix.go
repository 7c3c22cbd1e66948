//go:build !windows

package channel

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Doorbell to signal mapping per direction.
var (
	ParentToChild = map[Bell]syscall.Signal{
		Retrieve:  syscall.SIGUSR1,
		Mutate:    syscall.SIGUSR2,
		Terminate: syscall.SIGTERM,
	}
	ChildToParent = map[Bell]syscall.Signal{
		SnapshotReady: syscall.SIGUSR1,
	}
)

// File descriptors of the inherited pipe ends in the emulated process
// (exec.Cmd.ExtraFiles start at 3).
const (
	CommandFD  = 3
	SnapshotFD = 4
)

// SignalRinger rings doorbells on another process with POSIX signals.
type SignalRinger struct {
	PID     int
	Signals map[Bell]syscall.Signal
}

func (r SignalRinger) Ring(b Bell) error {
	sig, ok := r.Signals[b]
	if !ok {
		return fmt.Errorf("no signal mapped for %s", b)
	}
	return syscall.Kill(r.PID, sig)
}

// Listen converts incoming OS signals into doorbells until ctx is done.
// Signals received while the output is full are dropped.
func Listen(ctx context.Context, signals map[Bell]syscall.Signal) <-chan Bell {
	sigCh := make(chan os.Signal, bellBuffer)
	rev := make(map[os.Signal]Bell, len(signals))
	sigs := make([]os.Signal, 0, len(signals))
	for b, s := range signals {
		rev[s] = b
		sigs = append(sigs, s)
	}
	signal.Notify(sigCh, sigs...)

	out := make(chan Bell, bellBuffer)
	go func() {
		defer close(out)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sigCh:
				b, ok := rev[s]
				if !ok {
					continue
				}
				select {
				case out <- b:
				default:
				}
			}
		}
	}()
	return out
}

// Inherited builds the emulated process end from the pipe descriptors passed by
// the supervisor, ringing the parent with signals.
func Inherited(ctx context.Context) (*Channel, error) {
	in := os.NewFile(CommandFD, "samgo-command")
	out := os.NewFile(SnapshotFD, "samgo-snapshot")
	if in == nil || out == nil {
		return nil, fmt.Errorf("inherited pipe descriptors %d/%d not available", CommandFD, SnapshotFD)
	}
	peer := SignalRinger{PID: os.Getppid(), Signals: ChildToParent}
	return New(in, out, peer, Listen(ctx, ParentToChild)), nil
}
