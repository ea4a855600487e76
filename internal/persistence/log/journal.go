package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"sushiclicker.com/internal/sim/engine"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// `<prefix>-YYYY-MM-DD-HH.jsonl.zst`. Each reopen starts a new zstd frame;
// readers decode the concatenated frames as one stream.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	p := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// JournalEntry is one command as the host applied it, with the digest of the
// state it produced. The first entry of a session carries Base, the state the
// session started from, and no command.
type JournalEntry struct {
	Seq       uint64         `json:"seq"`
	SessionID string         `json:"session_id"`
	At        int64          `json:"at"`
	Base      *engine.State  `json:"base,omitempty"`
	Cmd       engine.Command `json:"cmd"`
	Code      string         `json:"code,omitempty"`
	Digest    string         `json:"digest"`
}

// IsBase reports whether e opens a session.
func (e JournalEntry) IsBase() bool { return e.Base != nil }

// Journal writes the command stream of one slot (compressed).
type Journal struct{ w *JSONLZstdWriter }

func NewJournal(slotDir string) *Journal {
	return &Journal{w: NewJSONLZstdWriter(filepath.Join(slotDir, "journal"), "journal")}
}

func (j *Journal) Append(e JournalEntry) error { return j.w.Write(e) }
func (j *Journal) Close() error                { return j.w.Close() }

// Files lists the journal files under slotDir in chronological order.
func Files(slotDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(slotDir, "journal", "journal-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadJournal decodes every entry of a journal file in order and stops at the
// first error fn returns.
func ReadJournal(path string, fn func(JournalEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReaderSize(dec, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var e JournalEntry
			if jerr := json.Unmarshal(line, &e); jerr != nil {
				return fmt.Errorf("%s: %w", path, jerr)
			}
			if ferr := fn(e); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
