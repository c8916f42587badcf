package scan

import (
	"iter"
	"sort"
	"time"

	"github.com/vango-dev/hotreload/internal/errors"
	"github.com/vango-dev/hotreload/internal/walk"
)

// ErrTableFull is returned by Set when a new identity would exceed the cap.
var ErrTableFull = errors.New("E110")

// FileRecord is the last observed state of one file.
type FileRecord struct {
	Identity walk.Identity
	ModTime  time.Time

	// Path is the last path seen for the identity. It is kept for
	// diagnostics and never compared.
	Path string
}

// Table maps file identity to its last observed record.
// It is not safe for concurrent use.
type Table struct {
	limit   int
	records map[walk.Identity]FileRecord
}

// NewTable creates an empty table. A limit of zero or less means
// unbounded.
func NewTable(limit int) *Table {
	return &Table{
		limit:   limit,
		records: make(map[walk.Identity]FileRecord),
	}
}

// Get returns the record for id.
func (t *Table) Get(id walk.Identity) (FileRecord, bool) {
	rec, ok := t.records[id]
	return rec, ok
}

// Set stores rec, replacing any record with the same identity.
func (t *Table) Set(rec FileRecord) error {
	if _, ok := t.records[rec.Identity]; !ok && t.limit > 0 && len(t.records) >= t.limit {
		return ErrTableFull
	}
	t.records[rec.Identity] = rec
	return nil
}

// Delete removes the record for id.
func (t *Table) Delete(id walk.Identity) {
	delete(t.records, id)
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// Limit returns the configured cap, or zero when unbounded.
func (t *Table) Limit() int {
	if t.limit < 0 {
		return 0
	}
	return t.limit
}

// All iterates over every record in unspecified order. Deleting the
// current entry during iteration is allowed.
func (t *Table) All() iter.Seq2[walk.Identity, FileRecord] {
	return func(yield func(walk.Identity, FileRecord) bool) {
		for id, rec := range t.records {
			if !yield(id, rec) {
				return
			}
		}
	}
}

// Snapshot returns a copy of every record sorted by path.
func (t *Table) Snapshot() []FileRecord {
	out := make([]FileRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}
