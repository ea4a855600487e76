package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sushiclicker.com/internal/persistence/save"
)

func TestQuarantine_KeepsBlobAndMeta(t *testing.T) {
	dir := t.TempDir()
	want := []byte("garbage bytes")
	now := time.Unix(1_700_000_000, 0)

	path, err := Quarantine(dir, "main", want, fmt.Errorf("%w: truncated", save.ErrCorruptSave), now)
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "corrupt_1700000000_main" {
		t.Fatalf("unexpected archive dir %s", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", got, want)
	}

	metas, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("expected 1 quarantined save, got %d", len(metas))
	}
	m := metas[0]
	if m.Slot != "main" || m.Kind != "CORRUPT" || m.Size != len(want) || m.Blob != "main.save" {
		t.Fatalf("unexpected meta %+v", m)
	}
}

func TestQuarantine_VersionMismatchKind(t *testing.T) {
	dir := t.TempDir()
	if _, err := Quarantine(dir, "main", []byte("x"), save.ErrVersionMismatch, time.Unix(1, 0)); err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if _, err := Quarantine(dir, "main", []byte("y"), nil, time.Unix(2, 0)); err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	metas, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 2 || metas[0].Kind != "VERSION_MISMATCH" || metas[1].Kind != "UNKNOWN" {
		t.Fatalf("unexpected metas %+v", metas)
	}
}
