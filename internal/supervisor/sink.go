package supervisor

import "github.com/loykin/samgo/internal/achievement"

// ViewSink consumes snapshots: Reset before a refresh begins, one Add per
// record in wire order, then one Finalize per completed snapshot.
type ViewSink interface {
	Reset()
	Add(r achievement.Record)
	Finalize()
}

// MultiSink fans every callback out to all sinks in order.
type MultiSink []ViewSink

func (m MultiSink) Reset() {
	for _, s := range m {
		s.Reset()
	}
}

func (m MultiSink) Add(r achievement.Record) {
	for _, s := range m {
		s.Add(r)
	}
}

func (m MultiSink) Finalize() {
	for _, s := range m {
		s.Finalize()
	}
}

type nopSink struct{}

func (nopSink) Reset()                 {}
func (nopSink) Add(achievement.Record) {}
func (nopSink) Finalize()              {}
