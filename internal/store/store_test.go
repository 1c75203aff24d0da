package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "aarii.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if s.Engine() != "sqlite" {
		t.Errorf("Expected engine 'sqlite', got '%s'", s.Engine())
	}

	t.Run("Records", func(t *testing.T) {
		id1, err := s.Insert(ctx, "a", "I like cats", map[string]any{"source": "user"})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		id2, err := s.Insert(ctx, "a", "", nil)
		if err != nil {
			t.Fatalf("Insert of empty text failed: %v", err)
		}
		if id2 <= id1 {
			t.Errorf("Expected increasing ids, got %d then %d", id1, id2)
		}
		if _, err := s.Insert(ctx, "b", "other session", nil); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		got, err := s.Get(ctx, id1)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Text != "I like cats" || got.SessionID != "a" {
			t.Errorf("Unexpected record %+v", got)
		}
		if got.Source() != "user" {
			t.Errorf("Expected source 'user', got '%s'", got.Source())
		}
		if got.CreatedAt.IsZero() {
			t.Error("Expected created_at to be set")
		}

		if _, err := s.Get(ctx, 9999); !errdefs.IsNotFound(err) {
			t.Errorf("Expected not found, got %v", err)
		}

		list, err := s.ListBySession(ctx, "a")
		if err != nil {
			t.Fatalf("ListBySession failed: %v", err)
		}
		if len(list) != 2 || list[0].ID != id1 || list[1].ID != id2 {
			t.Errorf("Expected chronological records of session a, got %d", len(list))
		}

		empty, err := s.ListBySession(ctx, "nobody")
		if err != nil || len(empty) != 0 {
			t.Errorf("Expected no records, got %d (%v)", len(empty), err)
		}
	})

	t.Run("Configuration", func(t *testing.T) {
		if err := s.SetConfig("provider", "groq"); err != nil {
			t.Fatalf("SetConfig failed: %v", err)
		}
		if err := s.SetConfig("provider", "ollama"); err != nil {
			t.Fatalf("SetConfig overwrite failed: %v", err)
		}
		val, err := s.GetConfig("provider")
		if err != nil {
			t.Fatalf("GetConfig failed: %v", err)
		}
		if val != "ollama" {
			t.Errorf("Expected 'ollama', got '%s'", val)
		}

		missing, err := s.GetConfig("missing")
		if err != nil || missing != "" {
			t.Errorf("Expected empty value for missing key, got '%s' (%v)", missing, err)
		}

		_ = s.SetConfig("session.a.system_prompt", "be brief")
		all, err := s.ListConfig("session.")
		if err != nil {
			t.Fatalf("ListConfig failed: %v", err)
		}
		if all["session.a.system_prompt"] != "be brief" || len(all) != 1 {
			t.Errorf("Unexpected config listing %v", all)
		}
	})
}

func TestListRecentBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Insert(ctx, "s", fmt.Sprintf("msg %d", i), nil); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	recent, err := s.ListRecentBySession(ctx, "s", 3)
	if err != nil {
		t.Fatalf("ListRecentBySession failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(recent))
	}
	for i, want := range []string{"msg 2", "msg 3", "msg 4"} {
		if recent[i].Text != want {
			t.Errorf("Expected '%s' at %d, got '%s'", want, i, recent[i].Text)
		}
	}

	none, _ := s.ListRecentBySession(ctx, "s", 0)
	if len(none) != 0 {
		t.Errorf("Expected no records for limit 0, got %d", len(none))
	}
}

func TestMapping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1, _ := s.Insert(ctx, "a", "one", nil)
	r2, _ := s.Insert(ctx, "a", "two", nil)
	r3, _ := s.Insert(ctx, "a", "three", nil)

	if err := s.Bind(ctx, 0, r1, "a"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	t.Run("Resolve", func(t *testing.T) {
		id, err := s.ResolveSlot(ctx, 0)
		if err != nil || id != r1 {
			t.Errorf("Expected slot 0 -> %d, got %d (%v)", r1, id, err)
		}
		slot, err := s.ResolveRecord(ctx, r1)
		if err != nil || slot != 0 {
			t.Errorf("Expected record %d -> 0, got %d (%v)", r1, slot, err)
		}
		if _, err := s.ResolveSlot(ctx, 42); !errdefs.IsNotFound(err) {
			t.Errorf("Expected not found for unbound slot, got %v", err)
		}
		if _, err := s.ResolveRecord(ctx, r2); !errdefs.IsNotFound(err) {
			t.Errorf("Expected not found for unbound record, got %v", err)
		}
	})

	t.Run("Conflict on duplicate slot", func(t *testing.T) {
		err := s.Bind(ctx, 0, r2, "a")
		if !errdefs.IsConflict(err) {
			t.Fatalf("Expected conflict, got %v", err)
		}
	})

	t.Run("Conflict on duplicate record", func(t *testing.T) {
		err := s.Bind(ctx, 1, r1, "a")
		if !errdefs.IsConflict(err) {
			t.Fatalf("Expected conflict, got %v", err)
		}
	})

	t.Run("Unknown record", func(t *testing.T) {
		err := s.Bind(ctx, 7, 9999, "a")
		if !errdefs.IsNotFound(err) {
			t.Fatalf("Expected not found, got %v", err)
		}
	})

	t.Run("BindWith rolls back on persist failure", func(t *testing.T) {
		boom := errors.New("disk full")
		err := s.BindWith(ctx, 1, r2, "a", func() error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("Expected persist error, got %v", err)
		}
		if _, err := s.ResolveSlot(ctx, 1); !errdefs.IsNotFound(err) {
			t.Errorf("Expected slot 1 to stay unbound, got %v", err)
		}

		persisted := false
		if err := s.BindWith(ctx, 1, r2, "a", func() error { persisted = true; return nil }); err != nil {
			t.Fatalf("BindWith failed: %v", err)
		}
		if !persisted {
			t.Error("Expected persist to run")
		}
	})

	t.Run("Scans", func(t *testing.T) {
		maps, err := s.Mappings(ctx)
		if err != nil {
			t.Fatalf("Mappings failed: %v", err)
		}
		if len(maps) != 2 || maps[0].Slot != 0 || maps[1].Slot != 1 {
			t.Errorf("Unexpected mappings %+v", maps)
		}

		maxSlot, count, err := s.SlotStats(ctx)
		if err != nil || maxSlot != 1 || count != 2 {
			t.Errorf("Expected max 1 / count 2, got %d / %d (%v)", maxSlot, count, err)
		}

		orphans, err := s.OrphanedRecords(ctx)
		if err != nil {
			t.Fatalf("OrphanedRecords failed: %v", err)
		}
		if len(orphans) != 1 || orphans[0].ID != r3 {
			t.Errorf("Expected record %d to be the only orphan, got %d orphans", r3, len(orphans))
		}
	})
}

func TestSlotStats_Empty(t *testing.T) {
	s := newTestStore(t)
	maxSlot, count, err := s.SlotStats(context.Background())
	if err != nil {
		t.Fatalf("SlotStats failed: %v", err)
	}
	if maxSlot != -1 || count != 0 {
		t.Errorf("Expected -1 / 0, got %d / %d", maxSlot, count)
	}
}

func TestRebind(t *testing.T) {
	pg := postgresDialect()
	got := pg.rebind(`SELECT a FROM t WHERE b = ? AND c = ?`)
	if got != `SELECT a FROM t WHERE b = $1 AND c = $2` {
		t.Errorf("Unexpected rebind: %s", got)
	}
	lite := sqliteDialect()
	if lite.rebind(`x = ?`) != `x = ?` {
		t.Error("Expected sqlite queries to be left alone")
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("AARII_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AARII_TEST_POSTGRES_DSN not set")
	}

	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Failed to open postgres store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	id, err := s.Insert(ctx, "pg-test", "hello", map[string]any{"source": "user"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	maxSlot, _, err := s.SlotStats(ctx)
	if err != nil {
		t.Fatalf("SlotStats failed: %v", err)
	}
	if err := s.Bind(ctx, maxSlot+1, id, "pg-test"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := s.Bind(ctx, maxSlot+1, id, "pg-test"); !errdefs.IsConflict(err) {
		t.Errorf("Expected conflict, got %v", err)
	}
}
