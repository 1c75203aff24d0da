package memory

import (
	"context"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
)

// Report is the outcome of a full consistency scan.
type Report struct {
	Slots    int
	Mappings int

	// Bijection violations.
	UnmappedSlots    []int64 // index slots with no mapping
	OutOfRangeSlots  []int64 // mappings pointing past the end of the index
	DuplicateSlots   []int64
	DuplicateRecords []int64
	MissingRecords   []int64 // mapped record ids that do not exist

	// Tolerated: records whose write failed after insert.
	OrphanedRecords []int64
}

// Consistent reports whether the mapping is a bijection between index slots
// and existing records. Orphaned records do not count against it.
func (r *Report) Consistent() bool {
	return len(r.UnmappedSlots) == 0 &&
		len(r.OutOfRangeSlots) == 0 &&
		len(r.DuplicateSlots) == 0 &&
		len(r.DuplicateRecords) == 0 &&
		len(r.MissingRecords) == 0
}

// Verify scans the whole mapping against the index and the record log.
func (m *Manager) Verify(ctx context.Context) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mappings, err := m.store.Mappings(ctx)
	if err != nil {
		return nil, err
	}

	n := m.index.Len()
	rep := &Report{Slots: n, Mappings: len(mappings)}

	seenSlot := make(map[int64]bool, len(mappings))
	seenRecord := make(map[int64]bool, len(mappings))
	for _, mp := range mappings {
		if seenSlot[mp.Slot] {
			rep.DuplicateSlots = append(rep.DuplicateSlots, mp.Slot)
		}
		if seenRecord[mp.RecordID] {
			rep.DuplicateRecords = append(rep.DuplicateRecords, mp.RecordID)
		}
		seenSlot[mp.Slot] = true
		seenRecord[mp.RecordID] = true

		if mp.Slot < 0 || mp.Slot >= int64(n) {
			rep.OutOfRangeSlots = append(rep.OutOfRangeSlots, mp.Slot)
		}
		if _, err := m.store.Get(ctx, mp.RecordID); err != nil {
			if !errdefs.IsNotFound(err) {
				return nil, err
			}
			rep.MissingRecords = append(rep.MissingRecords, mp.RecordID)
		}
	}

	for slot := int64(0); slot < int64(n); slot++ {
		if !seenSlot[slot] {
			rep.UnmappedSlots = append(rep.UnmappedSlots, slot)
		}
	}

	orphans, err := m.store.OrphanedRecords(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range orphans {
		rep.OrphanedRecords = append(rep.OrphanedRecords, r.ID)
	}

	return rep, nil
}
