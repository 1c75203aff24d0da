// Package memory keeps the record log, the vector index and the slot mapping
// consistent with each other.
//
// A write inserts the record first, then embeds it, then (under the manager's
// write lock) appends the vector, binds the slot and saves the index snapshot
// before the bind commits. A failure after the insert leaves an orphaned record
// that is never returned by a query; a mapping never points at a vector or
// record that does not exist.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/aarii/internal/embedding"
	"github.com/felixgeelhaar/aarii/internal/errdefs"
	"github.com/felixgeelhaar/aarii/internal/observe"
	"github.com/felixgeelhaar/aarii/internal/store"
	"github.com/felixgeelhaar/aarii/internal/vectorindex"
	"go.opentelemetry.io/otel/attribute"
)

// Options configures a Manager.
type Options struct {
	// IndexPath is the snapshot file of the vector index.
	IndexPath string

	Observer *observe.Observer

	// SaveIndex persists the index. Defaults to vectorindex.Save.
	SaveIndex func(path string, x *vectorindex.Index) error
}

// Manager implements Memory.
type Manager struct {
	mu sync.RWMutex

	store     Store
	embedder  embedding.Embedder
	index     *vectorindex.Index
	indexPath string
	save      func(path string, x *vectorindex.Index) error
	obs       *observe.Observer
}

var _ Memory = (*Manager)(nil)

// Open loads the index snapshot and reconciles it with the mapping table.
// Load or reconciliation failures are returned as *errdefs.InitializationError.
func Open(ctx context.Context, st Store, emb embedding.Embedder, opts Options) (*Manager, error) {
	if opts.IndexPath == "" {
		return nil, &errdefs.InitializationError{Component: "memory", Err: fmt.Errorf("index path is required")}
	}
	if opts.Observer == nil {
		opts.Observer = observe.Nop()
	}
	if opts.SaveIndex == nil {
		opts.SaveIndex = vectorindex.Save
	}

	idx, err := vectorindex.Load(opts.IndexPath, emb.Dimensions())
	if err != nil {
		return nil, err
	}

	m := &Manager{
		store:     st,
		embedder:  emb,
		index:     idx,
		indexPath: opts.IndexPath,
		save:      opts.SaveIndex,
		obs:       opts.Observer,
	}

	if err := m.reconcile(ctx); err != nil {
		return nil, err
	}

	m.obs.Log().Info().
		Str("index", opts.IndexPath).
		Int("slots", idx.Len()).
		Int("dim", idx.Dim()).
		Msg("memory opened")
	return m, nil
}

// Len returns the number of searchable memories.
func (m *Manager) Len() int {
	return m.index.Len()
}

// AddMemory stores text and makes it searchable. Once the record has been
// inserted its id is returned even when a later step fails; such a record is
// orphaned and the error says why.
func (m *Manager) AddMemory(ctx context.Context, sessionID, text string, meta map[string]any) (id int64, err error) {
	ctx, span := m.obs.StartSpan(ctx, "memory.AddMemory", attribute.String("session", sessionID))
	defer func() { observe.EndSpan(span, err) }()

	id, err = m.store.Insert(ctx, sessionID, text, meta)
	if err != nil {
		return 0, fmt.Errorf("failed to insert memory: %w", err)
	}

	vec, err := embedding.EmbedOne(ctx, m.embedder, text)
	if err != nil {
		m.orphaned(id, sessionID, err)
		return id, err
	}
	vec = vectorindex.Normalize(vec)

	// The locked section runs to completion even if ctx is cancelled.
	writeCtx := context.WithoutCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.index.Add(vec)
	if err != nil {
		m.orphaned(id, sessionID, err)
		return id, fmt.Errorf("failed to append vector: %w", err)
	}

	err = m.store.BindWith(writeCtx, int64(slot), id, sessionID, func() error {
		if err := m.save(m.indexPath, m.index); err != nil {
			return fmt.Errorf("failed to save index: %w", err)
		}
		return nil
	})
	if err != nil {
		m.index.Truncate(slot)
		m.orphaned(id, sessionID, err)
		return id, err
	}

	m.obs.Log().Debug().
		Str("session", sessionID).
		Int("record_id", int(id)).
		Int("slot", slot).
		Msg("memory added")
	return id, nil
}

func (m *Manager) orphaned(id int64, sessionID string, err error) {
	m.obs.Log().Warn().
		Str("session", sessionID).
		Int("record_id", int(id)).
		Err(err).
		Msg("memory record orphaned")
}

// QueryMemory returns up to topK results by descending similarity. An empty
// index returns no results without embedding the query. Slots that fail to
// resolve to a record are skipped.
func (m *Manager) QueryMemory(ctx context.Context, text string, topK int) (results []Result, err error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", vectorindex.ErrInvalidK)
	}
	if m.index.Len() == 0 {
		return []Result{}, nil
	}

	ctx, span := m.obs.StartSpan(ctx, "memory.QueryMemory", attribute.Int("top_k", topK))
	defer func() { observe.EndSpan(span, err) }()

	vec, err := embedding.EmbedOne(ctx, m.embedder, text)
	if err != nil {
		return nil, err
	}
	q := vectorindex.Normalize(vec)

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits, err := m.index.Search(q, topK)
	if err != nil {
		return nil, err
	}

	results = make([]Result, 0, len(hits))
	for _, h := range hits {
		id, err := m.store.ResolveSlot(ctx, int64(h.Slot))
		if err != nil {
			m.skipped(h.Slot, err)
			continue
		}
		rec, err := m.store.Get(ctx, id)
		if err != nil {
			m.skipped(h.Slot, err)
			continue
		}
		results = append(results, Result{
			RecordID: rec.ID,
			Score:    h.Score,
			Text:     rec.Text,
			Meta:     rec.Meta,
		})
	}
	return results, nil
}

func (m *Manager) skipped(slot int, err error) {
	m.obs.Log().Debug().Int("slot", slot).Err(err).Msg("skipping unresolved memory slot")
}

// History returns a session's records oldest first; limit <= 0 returns all.
func (m *Manager) History(ctx context.Context, sessionID string, limit int) ([]*store.Record, error) {
	if limit <= 0 {
		return m.store.ListBySession(ctx, sessionID)
	}
	return m.store.ListRecentBySession(ctx, sessionID, limit)
}
