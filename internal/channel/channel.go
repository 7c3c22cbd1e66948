package channel

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Bell is an out-of-band notification meaning "payload follows, read it now".
type Bell int

const (
	// Retrieve asks the emulated process for a fresh snapshot (parent to child).
	Retrieve Bell = iota + 1
	// Mutate announces one mutation record on the command pipe (parent to child).
	Mutate
	// Terminate asks the emulated process to shut its session down and exit (parent to child).
	Terminate
	// SnapshotReady announces an encoded snapshot on the snapshot pipe (child to parent).
	SnapshotReady
)

func (b Bell) String() string {
	switch b {
	case Retrieve:
		return "retrieve"
	case Mutate:
		return "mutate"
	case Terminate:
		return "terminate"
	case SnapshotReady:
		return "snapshot-ready"
	default:
		return fmt.Sprintf("bell(%d)", int(b))
	}
}

// ErrDesync reports a failed payload read. There is no resynchronization: once
// returned, record boundaries on that stream can no longer be trusted.
var ErrDesync = errors.New("control channel desynchronized")

// Ringer rings a doorbell on the peer process.
type Ringer interface {
	Ring(b Bell) error
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Channel is one end of the control channel: an inbound payload stream, an
// outbound payload stream, the peer's doorbells and this end's incoming doorbells.
// It is shared for the whole lifetime of the process pair.
type Channel struct {
	in          io.Reader
	out         io.Writer
	peer        Ringer
	bells       <-chan Bell
	readTimeout time.Duration
}

// New assembles a channel end.
func New(in io.Reader, out io.Writer, peer Ringer, bells <-chan Bell) *Channel {
	return &Channel{in: in, out: out, peer: peer, bells: bells}
}

// SetReadTimeout bounds each Receive call when the inbound stream supports read
// deadlines. Zero blocks forever.
func (c *Channel) SetReadTimeout(d time.Duration) { c.readTimeout = d }

// Bells returns the doorbells rung by the peer.
func (c *Channel) Bells() <-chan Bell { return c.bells }

// SetBells replaces the incoming doorbell source.
func (c *Channel) SetBells(bells <-chan Bell) { c.bells = bells }

// Ring rings b on the peer without a payload.
func (c *Channel) Ring(b Bell) error {
	if err := c.peer.Ring(b); err != nil {
		return fmt.Errorf("ring %s: %w", b, err)
	}
	return nil
}

// Send writes payload in full and then rings b, so the payload is already in the
// pipe when the peer reacts to the doorbell.
func (c *Channel) Send(b Bell, payload []byte) error {
	if _, err := c.out.Write(payload); err != nil {
		return fmt.Errorf("write %s payload: %w", b, err)
	}
	return c.Ring(b)
}

// Announce rings b first and then streams the payload through write. The peer
// blocks in its read until the payload arrives.
func (c *Channel) Announce(b Bell, write func(w io.Writer) error) error {
	if err := c.Ring(b); err != nil {
		return err
	}
	if err := write(c.out); err != nil {
		return fmt.Errorf("write %s payload: %w", b, err)
	}
	return nil
}

// Receive runs read against the inbound stream. Any read failure is reported as
// ErrDesync.
func (c *Channel) Receive(read func(r io.Reader) error) error {
	if d, ok := c.in.(deadliner); ok && c.readTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(c.readTimeout)); err == nil {
			defer func() { _ = d.SetReadDeadline(time.Time{}) }()
		}
	}
	if err := read(c.in); err != nil {
		return fmt.Errorf("%w: %w", ErrDesync, err)
	}
	return nil
}

// Close closes the payload streams. The peer end is left untouched.
func (c *Channel) Close() error {
	var errs []error
	if cl, ok := c.in.(io.Closer); ok {
		errs = append(errs, cl.Close())
	}
	if cl, ok := c.out.(io.Closer); ok {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
