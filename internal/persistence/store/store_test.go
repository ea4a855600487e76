package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePutGet(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	if _, err := s.Get(ctx, "main"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "main", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "main", []byte("two")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "main")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("got %q want two", got)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("staging files left behind: %v", entries)
	}
}

func TestFileStoreRejectsBadSlots(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, slot := range []string{"", "../etc", "a/b", "has space"} {
		if err := s.Put(context.Background(), slot, []byte("x")); !errors.Is(err, ErrInvalidSlot) {
			t.Fatalf("slot %q: expected ErrInvalidSlot, got %v", slot, err)
		}
	}
}

func TestFileStoreLock(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	unlock, err := s.Lock("main", "session-a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := s.Lock("main", "session-b"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	unlock()
	if _, err := os.Stat(filepath.Join(dir, "main.lock")); !os.IsNotExist(err) {
		t.Fatalf("lock file not removed: %v", err)
	}
	unlock2, err := s.Lock("main", "session-b")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock2()
}

func TestFileStoreHonorsCancelledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Put(ctx, "main", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
