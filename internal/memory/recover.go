package memory

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/aarii/internal/embedding"
	"github.com/felixgeelhaar/aarii/internal/errdefs"
	"github.com/felixgeelhaar/aarii/internal/vectorindex"
)

// reconcile brings the loaded snapshot in line with the committed mappings.
//
// Committed slots are always 0..count-1. A snapshot longer than that holds
// vectors whose bind never committed; they are dropped. A shorter snapshot
// (lost or restored from an older copy) is extended by re-embedding the
// mapped records of the missing slots.
func (m *Manager) reconcile(ctx context.Context) error {
	maxSlot, count, err := m.store.SlotStats(ctx)
	if err != nil {
		return &errdefs.InitializationError{Component: "memory", Err: fmt.Errorf("failed to read mapping stats: %w", err)}
	}
	if maxSlot+1 != count {
		return &errdefs.InitializationError{
			Component: "memory",
			Err:       fmt.Errorf("mapping has %d entries but highest slot is %d", count, maxSlot),
		}
	}

	n := int64(m.index.Len())
	switch {
	case n == count:
		return nil

	case n > count:
		m.obs.Log().Warn().
			Int("snapshot_slots", int(n)).
			Int("mapped_slots", int(count)).
			Msg("dropping unbound trailing vectors from index snapshot")
		m.index.Truncate(int(count))

	default:
		m.obs.Log().Warn().
			Int("snapshot_slots", int(n)).
			Int("mapped_slots", int(count)).
			Msg("index snapshot is behind the mapping, re-embedding missing slots")
		for slot := n; slot < count; slot++ {
			if err := m.reembed(ctx, slot); err != nil {
				return &errdefs.InitializationError{Component: "memory", Err: err}
			}
		}
	}

	if err := m.save(m.indexPath, m.index); err != nil {
		return &errdefs.InitializationError{Component: "memory", Err: fmt.Errorf("failed to save reconciled index: %w", err)}
	}
	return nil
}

func (m *Manager) reembed(ctx context.Context, slot int64) error {
	id, err := m.store.ResolveSlot(ctx, slot)
	if err != nil {
		return fmt.Errorf("failed to resolve slot %d: %w", slot, err)
	}
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load record for slot %d: %w", slot, err)
	}
	vec, err := embedding.EmbedOne(ctx, m.embedder, rec.Text)
	if err != nil {
		return fmt.Errorf("failed to embed record %d: %w", id, err)
	}
	got, err := m.index.Add(vectorindex.Normalize(vec))
	if err != nil {
		return err
	}
	if int64(got) != slot {
		return fmt.Errorf("re-embedded record %d landed in slot %d, expected %d", id, got, slot)
	}
	return nil
}

// Rebuild re-embeds every mapped record in slot order into a fresh index and
// replaces the current one. Use it after switching to a different embedding
// model of the same dimension. The existing index stays in place if anything
// fails.
func (m *Manager) Rebuild(ctx context.Context) (int, error) {
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	mappings, err := m.store.Mappings(ctx)
	if err != nil {
		return 0, err
	}

	texts := make([]string, len(mappings))
	for i, mp := range mappings {
		if mp.Slot != int64(i) {
			return 0, fmt.Errorf("mapping is not contiguous at slot %d", mp.Slot)
		}
		rec, err := m.store.Get(ctx, mp.RecordID)
		if err != nil {
			return 0, fmt.Errorf("failed to load record %d: %w", mp.RecordID, err)
		}
		texts[i] = rec.Text
	}

	fresh := vectorindex.New(m.index.Dim())
	const batch = 64
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		vecs, err := m.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return 0, err
		}
		for _, v := range vecs {
			if _, err := fresh.Add(vectorindex.Normalize(v)); err != nil {
				return 0, err
			}
		}
	}

	if err := m.save(m.indexPath, fresh); err != nil {
		return 0, fmt.Errorf("failed to save rebuilt index: %w", err)
	}
	m.index = fresh

	m.obs.Log().Info().Int("slots", fresh.Len()).Msg("memory index rebuilt")
	return fresh.Len(), nil
}
