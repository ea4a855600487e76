package indexdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"sushiclicker.com/internal/persistence/store"
	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/tuning"
)

func TestSQLiteIndex_PutGetReplaces(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "saves.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	if _, err := idx.Get(ctx, "main"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, b := range []string{"first", "second"} {
		if err := idx.Put(ctx, "main", []byte(b)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got, err := idx.Get(ctx, "main")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q want second", got)
	}
	if err := idx.Put(ctx, "../x", []byte("x")); !errors.Is(err, store.ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
}

func TestSQLiteIndex_HistoryAndSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saves.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.RecordSession(SessionRow{SessionID: "S1", Slot: "main", StartedAt: 100, OfflineSeconds: 3600, OfflineCredited: 1800})
	idx.RecordSave(HistoryRow{Slot: "main", SavedAt: 110, Balance: 5, LifetimeEarned: 15, LifetimeSpent: 10, Digest: "aa"})
	idx.RecordSave(HistoryRow{Slot: "main", SavedAt: 120, Balance: 9, LifetimeEarned: 19, LifetimeSpent: 10, Digest: "bb"})
	idx.RecordSave(HistoryRow{Slot: "other", SavedAt: 130, Digest: "cc"})
	idx.RecordSession(SessionRow{SessionID: "S1", Slot: "main", StartedAt: 100, EndedAt: 125})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	hist, err := idx.History(ctx, "main", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Digest != "bb" || hist[1].Digest != "aa" {
		t.Fatalf("unexpected history %+v", hist)
	}
	if hist, _ := idx.History(ctx, "main", 1); len(hist) != 1 {
		t.Fatalf("limit ignored: %+v", hist)
	}

	sessions, err := idx.Sessions(ctx, "main")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].EndedAt != 125 || sessions[0].OfflineCredited != 1800 {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqHistory}

	s.RecordSave(HistoryRow{Slot: "main"})
	s.RecordSession(SessionRow{SessionID: "S1"})

	st := s.Stats()
	if st.DropHistoryTotal != 1 || st.DropSessionTotal != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "saves.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()
	cats := catalogs.Default()
	if err := idx.UpsertCatalogs(cats, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	var digest string
	if err := idx.db.QueryRow(`SELECT value FROM meta WHERE key='catalogs_digest'`).Scan(&digest); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if digest != cats.Digest() {
		t.Fatalf("digest=%s want %s", digest, cats.Digest())
	}
	var n int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Fatalf("catalog rows=%d want 5", n)
	}
}
