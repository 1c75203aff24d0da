package memory

import (
	"context"

	"github.com/felixgeelhaar/aarii/internal/store"
)

// Memory is the surface the conversation layer depends on.
type Memory interface {
	// AddMemory stores text for a session and makes it searchable.
	AddMemory(ctx context.Context, sessionID, text string, meta map[string]any) (int64, error)

	// QueryMemory finds the topK stored texts most similar to text.
	QueryMemory(ctx context.Context, text string, topK int) ([]Result, error)

	// History returns up to limit of a session's newest records, oldest first.
	History(ctx context.Context, sessionID string, limit int) ([]*store.Record, error)
}

// Result is one similarity hit.
type Result struct {
	RecordID int64
	Score    float32
	Text     string
	Meta     map[string]any
}

// Store is what the manager needs from the relational side.
type Store interface {
	Insert(ctx context.Context, sessionID, text string, meta map[string]any) (int64, error)
	Get(ctx context.Context, id int64) (*store.Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]*store.Record, error)
	ListRecentBySession(ctx context.Context, sessionID string, limit int) ([]*store.Record, error)
	OrphanedRecords(ctx context.Context) ([]*store.Record, error)

	BindWith(ctx context.Context, slot, recordID int64, sessionID string, persist func() error) error
	ResolveSlot(ctx context.Context, slot int64) (int64, error)
	ResolveRecord(ctx context.Context, recordID int64) (int64, error)
	Mappings(ctx context.Context) ([]store.Mapping, error)
	SlotStats(ctx context.Context) (maxSlot, count int64, err error)
}

var _ Store = (*store.Store)(nil)
