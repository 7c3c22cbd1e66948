package achievement

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MutationKind tags a mutation record on the wire.
type MutationKind byte

const (
	KindAchievement MutationKind = 'a'
	// KindStat is reserved; the emulated process reads and discards it.
	KindStat MutationKind = 's'
)

// MutationSize is the encoded size of a Mutation: u8 kind, u32 value, id.
const MutationSize = 1 + 4 + MaxIDLen

// Mutation asks the emulated process to change one achievement.
// Value 0 relocks, anything else unlocks.
type Mutation struct {
	Kind  MutationKind
	Value uint32
	ID    string
}

// SetAchieved builds the achievement mutation for the desired state.
func SetAchieved(id string, achieved bool) Mutation {
	m := Mutation{Kind: KindAchievement, ID: id}
	if achieved {
		m.Value = 1
	}
	return m
}

// Achieved reports the desired state carried by an achievement mutation.
func (m Mutation) Achieved() bool { return m.Value != 0 }

// MarshalBinary encodes m into its fixed-size wire form.
func (m Mutation) MarshalBinary() ([]byte, error) {
	buf := make([]byte, MutationSize)
	buf[0] = byte(m.Kind)
	binary.LittleEndian.PutUint32(buf[1:5], m.Value)
	putString(buf[5:], m.ID)
	return buf, nil
}

// ReadMutation reads exactly one mutation record.
func ReadMutation(r io.Reader) (Mutation, error) {
	var buf [MutationSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Mutation{}, fmt.Errorf("read mutation: %w", err)
	}
	return Mutation{
		Kind:  MutationKind(buf[0]),
		Value: binary.LittleEndian.Uint32(buf[1:5]),
		ID:    getString(buf[5:]),
	}, nil
}
