package channel

import (
	"fmt"
	"os"
)

// bellBuffer bounds pending doorbells per receiver. Extra rings are dropped,
// the same way pending OS signals coalesce.
const bellBuffer = 16

// LocalRinger delivers doorbells to an in-process receiver.
type LocalRinger struct {
	ch chan Bell
}

// NewLocalRinger returns a ringer and the receiving side of its doorbells.
func NewLocalRinger() (*LocalRinger, <-chan Bell) {
	ch := make(chan Bell, bellBuffer)
	return &LocalRinger{ch: ch}, ch
}

func (r *LocalRinger) Ring(b Bell) error {
	select {
	case r.ch <- b:
	default:
	}
	return nil
}

// Pipes holds the four OS pipe ends backing a control channel.
// Command flows parent to child, Snapshot flows child to parent.
type Pipes struct {
	CommandR, CommandW   *os.File
	SnapshotR, SnapshotW *os.File
}

// NewPipes creates the two unidirectional pipes.
func NewPipes() (*Pipes, error) {
	cr, cw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("command pipe: %w", err)
	}
	sr, sw, err := os.Pipe()
	if err != nil {
		_ = cr.Close()
		_ = cw.Close()
		return nil, fmt.Errorf("snapshot pipe: %w", err)
	}
	return &Pipes{CommandR: cr, CommandW: cw, SnapshotR: sr, SnapshotW: sw}, nil
}

// ParentEnd builds the supervisor side: reads snapshots, writes commands.
func (p *Pipes) ParentEnd(peer Ringer, bells <-chan Bell) *Channel {
	return New(p.SnapshotR, p.CommandW, peer, bells)
}

// ChildEnd builds the emulated process side: reads commands, writes snapshots.
func (p *Pipes) ChildEnd(peer Ringer, bells <-chan Bell) *Channel {
	return New(p.CommandR, p.SnapshotW, peer, bells)
}

// CloseChildEnds closes the ends handed to a child process, once the child owns
// its own copies.
func (p *Pipes) CloseChildEnds() {
	_ = p.CommandR.Close()
	_ = p.SnapshotW.Close()
}

// Pair builds a connected parent/child channel pair inside one process, with
// in-memory doorbells in both directions.
func Pair() (parent, child *Channel, err error) {
	p, err := NewPipes()
	if err != nil {
		return nil, nil, err
	}
	toChild, childBells := NewLocalRinger()
	toParent, parentBells := NewLocalRinger()
	return p.ParentEnd(toChild, parentBells), p.ChildEnd(toParent, childBells), nil
}
