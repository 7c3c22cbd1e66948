package achievement

// Field bounds on the wire, including the terminating NUL byte.
const (
	MaxIDLen   = 128
	MaxNameLen = 128
	MaxDescLen = 256
)

// Record is a single achievement as reported by the emulated game process.
type Record struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	Achieved           bool    `json:"achieved"`
	Hidden             bool    `json:"hidden"`
	IconHandle         int32   `json:"icon_handle"`
	GlobalAchievedRate float32 `json:"global_achieved_rate"`
}

// Truncated returns r with every string field cut to what fits on the wire.
func (r Record) Truncated() Record {
	r.ID = truncate(r.ID, MaxIDLen)
	r.Name = truncate(r.Name, MaxNameLen)
	r.Description = truncate(r.Description, MaxDescLen)
	return r
}

// Snapshot is a complete, ordered copy of all achievements from one retrieval cycle.
// It is immutable once built: accessors hand out copies.
type Snapshot struct {
	records []Record
}

// NewSnapshot copies recs into a new snapshot.
func NewSnapshot(recs []Record) Snapshot {
	out := make([]Record, len(recs))
	copy(out, recs)
	return Snapshot{records: out}
}

// Len reports the number of records.
func (s Snapshot) Len() int { return len(s.records) }

// At returns the i-th record in wire order.
func (s Snapshot) At(i int) Record { return s.records[i] }

// Records returns a copy of the records in wire order.
func (s Snapshot) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Find looks a record up by id.
func (s Snapshot) Find(id string) (Record, bool) {
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// truncate cuts s so that it fits a NUL-terminated field of size bound.
func truncate(s string, bound int) string {
	if len(s) < bound {
		return s
	}
	return s[:bound-1]
}
