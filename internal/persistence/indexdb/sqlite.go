package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"sushiclicker.com/internal/persistence/store"
	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/tuning"
)

// SQLiteIndex stores save blobs and a queryable history of save and session
// events. Blob writes are synchronous; history rows go through a background
// writer and may be dropped if it falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropHistory atomic.Uint64
	dropSession atomic.Uint64
}

type reqKind int

const (
	reqHistory reqKind = iota + 1
	reqSession
)

type req struct {
	kind    reqKind
	history HistoryRow
	session SessionRow
}

// HistoryRow summarizes one save event.
type HistoryRow struct {
	Slot             string  `csv:"slot" json:"slot"`
	SavedAt          int64   `csv:"saved_at" json:"saved_at"`
	Balance          float64 `csv:"balance" json:"balance"`
	LifetimeEarned   float64 `csv:"lifetime_earned" json:"lifetime_earned"`
	LifetimeSpent    float64 `csv:"lifetime_spent" json:"lifetime_spent"`
	ClickYield       float64 `csv:"click_yield" json:"click_yield"`
	PassivePerSecond float64 `csv:"passive_per_second" json:"passive_per_second"`
	Upgrades         int     `csv:"upgrades" json:"upgrades"`
	Staff            int     `csv:"staff" json:"staff"`
	Achievements     int     `csv:"achievements" json:"achievements"`
	Digest           string  `csv:"digest" json:"digest"`
}

// SessionRow records one host session against a slot.
type SessionRow struct {
	SessionID       string  `json:"session_id"`
	Slot            string  `json:"slot"`
	StartedAt       int64   `json:"started_at"`
	EndedAt         int64   `json:"ended_at,omitempty"`
	OfflineSeconds  float64 `json:"offline_seconds"`
	OfflineCredited float64 `json:"offline_credited"`
	Recovered       bool    `json:"recovered,omitempty"`
}

type Stats struct {
	DropHistoryTotal uint64
	DropSessionTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS saves (
			slot TEXT PRIMARY KEY,
			blob BLOB NOT NULL,
			sha256 TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS save_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slot TEXT NOT NULL,
			saved_at INTEGER NOT NULL,
			balance REAL NOT NULL,
			lifetime_earned REAL NOT NULL,
			lifetime_spent REAL NOT NULL,
			click_yield REAL NOT NULL,
			passive_per_second REAL NOT NULL,
			upgrades INTEGER NOT NULL,
			staff INTEGER NOT NULL,
			achievements INTEGER NOT NULL,
			digest TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_save_history_slot ON save_history(slot, saved_at);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			slot TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL DEFAULT 0,
			offline_seconds REAL NOT NULL,
			offline_credited REAL NOT NULL,
			recovered INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_slot ON sessions(slot, started_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropHistoryTotal: s.dropHistory.Load(),
		DropSessionTotal: s.dropSession.Load(),
	}
}

// Get returns the blob stored for slot.
func (s *SQLiteIndex) Get(ctx context.Context, slot string) ([]byte, error) {
	if err := store.CheckSlot(slot); err != nil {
		return nil, err
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM saves WHERE slot=?`, slot).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", slot, store.ErrNotFound)
	}
	return blob, err
}

// Put replaces the blob for slot inside one transaction.
func (s *SQLiteIndex) Put(ctx context.Context, slot string, blob []byte) error {
	if err := store.CheckSlot(slot); err != nil {
		return err
	}
	sum := sha256.Sum256(blob)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO saves(slot,blob,sha256,updated_at) VALUES(?,?,?,?)`,
		slot, blob, hex.EncodeToString(sum[:]), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) RecordSave(r HistoryRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqHistory, history: r}:
	default:
		s.dropHistory.Add(1)
	}
}

func (s *SQLiteIndex) RecordSession(r SessionRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSession, session: r}:
	default:
		s.dropSession.Add(1)
	}
}

// History lists save events for slot, newest first. limit <= 0 means all.
func (s *SQLiteIndex) History(ctx context.Context, slot string, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT slot,saved_at,balance,lifetime_earned,lifetime_spent,click_yield,passive_per_second,upgrades,staff,achievements,digest
		FROM save_history WHERE slot=? ORDER BY saved_at DESC, id DESC LIMIT ?`, slot, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		if err := rows.Scan(&r.Slot, &r.SavedAt, &r.Balance, &r.LifetimeEarned, &r.LifetimeSpent,
			&r.ClickYield, &r.PassivePerSecond, &r.Upgrades, &r.Staff, &r.Achievements, &r.Digest); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sessions lists sessions for slot, newest first.
func (s *SQLiteIndex) Sessions(ctx context.Context, slot string) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id,slot,started_at,ended_at,offline_seconds,offline_credited,recovered
		FROM sessions WHERE slot=? ORDER BY started_at DESC`, slot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var recovered int
		if err := rows.Scan(&r.SessionID, &r.Slot, &r.StartedAt, &r.EndedAt, &r.OfflineSeconds, &r.OfflineCredited, &recovered); err != nil {
			return nil, err
		}
		r.Recovered = recovered != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertCatalogs records the catalogs and tuning the host runs with, so a
// history row can be traced back to the rules that produced it.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		v      any
	}
	rows := []kv{
		{"upgrades", cats.Upgrades.Digest, cats.Upgrades.ByID},
		{"staff", cats.Staff.Digest, cats.Staff.ByID},
		{"synergies", cats.Synergies.Digest, cats.Synergies.ByTag},
		{"achievements", cats.Achievements.Digest, cats.Achievements.ByID},
	}
	tb, _ := json.Marshal(tune)
	sum := sha256.Sum256(tb)
	rows = append(rows, kv{"tuning", hex.EncodeToString(sum[:]), tune})

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('catalogs_digest',?)`, cats.Digest()); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		b, err := json.Marshal(r.v)
		if err != nil {
			return fmt.Errorf("catalog %s: %w", r.name, err)
		}
		if _, err := stmt.Exec(r.name, r.digest, string(b), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertHistory, _ := s.db.Prepare(`INSERT INTO save_history(slot,saved_at,balance,lifetime_earned,lifetime_spent,click_yield,passive_per_second,upgrades,staff,achievements,digest) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	upsertSession, _ := s.db.Prepare(`INSERT INTO sessions(session_id,slot,started_at,ended_at,offline_seconds,offline_credited,recovered) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET ended_at=excluded.ended_at`)
	defer func() {
		if insertHistory != nil {
			_ = insertHistory.Close()
		}
		if upsertSession != nil {
			_ = upsertSession.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 200
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqHistory:
			h := r.history
			if insertHistory == nil {
				continue
			}
			if _, err := tx.Stmt(insertHistory).Exec(h.Slot, h.SavedAt, h.Balance, h.LifetimeEarned, h.LifetimeSpent,
				h.ClickYield, h.PassivePerSecond, h.Upgrades, h.Staff, h.Achievements, h.Digest); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqSession:
			se := r.session
			if upsertSession == nil {
				continue
			}
			recovered := 0
			if se.Recovered {
				recovered = 1
			}
			if _, err := tx.Stmt(upsertSession).Exec(se.SessionID, se.Slot, se.StartedAt, se.EndedAt,
				se.OfflineSeconds, se.OfflineCredited, recovered); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		// Commit as soon as the queue drains: saves share the single connection.
		if len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
