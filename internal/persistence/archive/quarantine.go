package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"sushiclicker.com/internal/persistence/save"
)

type QuarantineMeta struct {
	Slot      string `json:"slot"`
	Reason    string `json:"reason"`
	Kind      string `json:"kind"`
	Size      int    `json:"size"`
	Blob      string `json:"blob"`
	CreatedAt string `json:"created_at"`
}

// Quarantine keeps an unreadable save under `baseDir/archives/corrupt_<unix>_<slot>/`
// before the engine starts over, so nothing is lost to the reset.
func Quarantine(baseDir, slot string, blob []byte, cause error, now time.Time) (string, error) {
	dir := filepath.Join(baseDir, "archives", fmt.Sprintf("corrupt_%d_%s", now.Unix(), slot))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, slot+".save")
	if err := os.WriteFile(dst, blob, 0o644); err != nil {
		return "", err
	}

	meta := QuarantineMeta{
		Slot:      slot,
		Kind:      causeKind(cause),
		Size:      len(blob),
		Blob:      filepath.Base(dst),
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if cause != nil {
		meta.Reason = cause.Error()
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	return dst, nil
}

func causeKind(err error) string {
	switch {
	case errors.Is(err, save.ErrVersionMismatch):
		return "VERSION_MISMATCH"
	case errors.Is(err, save.ErrCorruptSave):
		return "CORRUPT"
	default:
		return "UNKNOWN"
	}
}

// List returns the metadata of every quarantined save under baseDir, oldest first.
func List(baseDir string) ([]QuarantineMeta, error) {
	matches, err := filepath.Glob(filepath.Join(baseDir, "archives", "corrupt_*", "meta.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make([]QuarantineMeta, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		var meta QuarantineMeta
		if err := json.Unmarshal(b, &meta); err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		out = append(out, meta)
	}
	return out, nil
}
