// Package store keeps save blobs durable. Writes go to a staging copy that
// replaces the previous save only once it is complete.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrNotFound    = errors.New("save not found")
	ErrInvalidSlot = errors.New("invalid save slot")
	ErrLocked      = errors.New("save slot in use")
)

// Store is a durable home for save blobs keyed by slot.
type Store interface {
	Get(ctx context.Context, slot string) ([]byte, error)
	Put(ctx context.Context, slot string, blob []byte) error
}

var slotRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func CheckSlot(slot string) error {
	if !slotRE.MatchString(slot) {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return nil
}

// FileStore keeps one file per slot under dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("empty save dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Path(slot string) string {
	return filepath.Join(s.dir, slot+".save")
}

func (s *FileStore) Get(ctx context.Context, slot string) ([]byte, error) {
	if err := CheckSlot(slot); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.Path(slot))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", slot, ErrNotFound)
	}
	return b, err
}

// Put writes blob to a temp file in the same directory, syncs it and renames
// it over the slot. A crash at any point leaves either the old or the new save.
func (s *FileStore) Put(ctx context.Context, slot string, blob []byte) error {
	if err := CheckSlot(slot); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, slot+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()
	if _, err := f.Write(blob); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.Path(slot)); err != nil {
		return err
	}
	ok = true
	syncDir(s.dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Lock takes the advisory lock for slot so only one session mutates a save at
// a time. The returned func releases it.
func (s *FileStore) Lock(slot, owner string) (func(), error) {
	if err := CheckSlot(slot); err != nil {
		return nil, err
	}
	p := filepath.Join(s.dir, slot+".lock")
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		holder, _ := os.ReadFile(p)
		return nil, fmt.Errorf("%w: %s held by %s", ErrLocked, slot, strings.TrimSpace(string(holder)))
	}
	if err != nil {
		return nil, err
	}
	_, _ = f.WriteString(owner + "\n")
	_ = f.Close()
	return func() { _ = os.Remove(p) }, nil
}
