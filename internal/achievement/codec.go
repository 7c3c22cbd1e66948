package achievement

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// RecordSize is the encoded size of one Record:
// id, name, desc, f32 rate, u8 achieved, u8 hidden, u16 padding, i32 icon.
const RecordSize = MaxIDLen + MaxNameLen + MaxDescLen + 4 + 1 + 1 + 2 + 4

// MaxRecords caps the count a decoder accepts before allocating.
const MaxRecords = 1 << 16

var ErrCorrupt = errors.New("corrupt achievement payload")

// EncodeSnapshot writes a 4-byte count followed by the records back to back.
// Records are written one at a time so a small pipe buffer never has to hold the
// whole snapshot.
func EncodeSnapshot(w io.Writer, s Snapshot) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(s.records)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	buf := make([]byte, RecordSize)
	for i, r := range s.records {
		PutRecord(buf, r)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	return nil
}

// DecodeSnapshot reads a count and exactly that many records.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Snapshot{}, fmt.Errorf("read count: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxRecords {
		return Snapshot{}, fmt.Errorf("%w: count %d exceeds %d", ErrCorrupt, n, MaxRecords)
	}
	recs := make([]Record, n)
	buf := make([]byte, RecordSize)
	for i := range recs {
		if _, err := io.ReadFull(r, buf); err != nil {
			return Snapshot{}, fmt.Errorf("read record %d of %d: %w", i, n, err)
		}
		recs[i] = ParseRecord(buf)
	}
	return Snapshot{records: recs}, nil
}

// PutRecord encodes r into buf, which must be at least RecordSize long.
func PutRecord(buf []byte, r Record) {
	clear(buf[:RecordSize])
	off := 0
	putString(buf[off:off+MaxIDLen], r.ID)
	off += MaxIDLen
	putString(buf[off:off+MaxNameLen], r.Name)
	off += MaxNameLen
	putString(buf[off:off+MaxDescLen], r.Description)
	off += MaxDescLen
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(r.GlobalAchievedRate))
	off += 4
	buf[off] = boolByte(r.Achieved)
	buf[off+1] = boolByte(r.Hidden)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.IconHandle))
}

// ParseRecord decodes one record from buf.
func ParseRecord(buf []byte) Record {
	var r Record
	off := 0
	r.ID = getString(buf[off : off+MaxIDLen])
	off += MaxIDLen
	r.Name = getString(buf[off : off+MaxNameLen])
	off += MaxNameLen
	r.Description = getString(buf[off : off+MaxDescLen])
	off += MaxDescLen
	r.GlobalAchievedRate = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	r.Achieved = buf[off] != 0
	r.Hidden = buf[off+1] != 0
	off += 4
	r.IconHandle = int32(binary.LittleEndian.Uint32(buf[off:]))
	return r
}

// putString copies s into field leaving at least one trailing NUL.
func putString(field []byte, s string) {
	copy(field[:len(field)-1], s)
}

func getString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return string(field[:i])
	}
	return string(field)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
