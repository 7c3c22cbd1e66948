package view

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/loykin/samgo/internal/achievement"
)

// Table renders each completed snapshot as a text table.
type Table struct {
	mu   sync.Mutex
	w    io.Writer
	rows []achievement.Record
	// ShowHidden lists hidden achievements that are still locked.
	ShowHidden bool
}

func NewTable(w io.Writer) *Table {
	return &Table{w: w, ShowHidden: true}
}

func (t *Table) Reset() {
	t.mu.Lock()
	t.rows = t.rows[:0]
	t.mu.Unlock()
}

func (t *Table) Add(r achievement.Record) {
	t.mu.Lock()
	t.rows = append(t.rows, r)
	t.mu.Unlock()
}

func (t *Table) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	tw := tabwriter.NewWriter(t.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tACHIEVED\tHIDDEN")
	achieved := 0
	for _, r := range t.rows {
		if r.Achieved {
			achieved++
		}
		if r.Hidden && !r.Achieved && !t.ShowHidden {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, yesNo(r.Achieved), yesNo(r.Hidden))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(t.w, "%d/%d achieved\n", achieved, len(t.rows))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
