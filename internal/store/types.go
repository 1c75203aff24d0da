package store

import "time"

// Record is one entry of the append-only memory log.
type Record struct {
	ID        int64
	SessionID string
	Text      string
	Meta      map[string]any
	CreatedAt time.Time
}

// Source returns the "source" metadata value (user, assistant, ...), or "".
func (r *Record) Source() string {
	if r.Meta == nil {
		return ""
	}
	s, _ := r.Meta["source"].(string)
	return s
}

// Mapping links a vector index slot to a record. Both Slot and RecordID are
// unique across all mappings.
type Mapping struct {
	Slot      int64
	RecordID  int64
	SessionID string
	CreatedAt time.Time
}
