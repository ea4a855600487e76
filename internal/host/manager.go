// Package host runs live game sessions. Each Session owns one engine and a
// goroutine that serializes client commands, server ticks and autosaves into
// it; the Manager enforces one live session per save slot.
package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"sushiclicker.com/internal/persistence/archive"
	"sushiclicker.com/internal/persistence/indexdb"
	plog "sushiclicker.com/internal/persistence/log"
	"sushiclicker.com/internal/persistence/store"
	"sushiclicker.com/internal/protocol"
	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/clock"
	"sushiclicker.com/internal/sim/engine"
	"sushiclicker.com/internal/sim/tuning"
)

const DefaultSlot = "default"

var ErrClosed = errors.New("session closed")

// Index receives save and session rows. *indexdb.SQLiteIndex satisfies it.
type Index interface {
	RecordSave(indexdb.HistoryRow)
	RecordSession(indexdb.SessionRow)
}

// Backup receives a copy of every saved blob. *backup.Mirror satisfies it.
type Backup interface {
	Backup(slot string, savedAt int64, blob []byte)
}

// Locker takes a cross-process lock on a slot. *store.FileStore satisfies it.
type Locker interface {
	Lock(slot, owner string) (func(), error)
}

type Config struct {
	Catalogs *catalogs.Catalogs
	Tuning   tuning.Tuning
	Clock    clock.Clock

	Store  store.Store
	Locker Locker // optional
	Index  Index  // optional
	Backup Backup // optional

	// DataDir holds per-slot journals and quarantined saves. Empty disables both.
	DataDir   string
	NoJournal bool

	OutQueue int
	Logger   *log.Logger
}

type Manager struct {
	cfg Config
	log *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	commands    atomic.Uint64
	rejected    atomic.Uint64
	rateLimited atomic.Uint64
	saves       atomic.Uint64
	saveErrors  atomic.Uint64
	recoveries  atomic.Uint64
}

// Metrics is a point-in-time view of the manager's counters.
type Metrics struct {
	Sessions    int
	Commands    uint64
	Rejected    uint64
	RateLimited uint64
	Saves       uint64
	SaveErrors  uint64
	Recoveries  uint64
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("host: nil store")
	}
	if cfg.Catalogs == nil {
		cfg.Catalogs = catalogs.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Tuning == (tuning.Tuning{}) {
		cfg.Tuning = tuning.Defaults()
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	if cfg.OutQueue <= 0 {
		cfg.OutQueue = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Manager{cfg: cfg, log: logger, sessions: map[string]*Session{}}, nil
}

func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	n := len(m.sessions)
	m.mu.Unlock()
	return Metrics{
		Sessions:    n,
		Commands:    m.commands.Load(),
		Rejected:    m.rejected.Load(),
		RateLimited: m.rateLimited.Load(),
		Saves:       m.saves.Load(),
		SaveErrors:  m.saveErrors.Load(),
		Recoveries:  m.recoveries.Load(),
	}
}

// Session returns the live session on slot, if any.
func (m *Manager) Session(slot string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[slot]
	return s, ok
}

// LiveSession summarizes a session for admin views.
type LiveSession struct {
	ID     string `json:"session_id"`
	Slot   string `json:"slot"`
	Client string `json:"client"`
}

// Live lists the open sessions ordered by slot.
func (m *Manager) Live() []LiveSession {
	m.mu.Lock()
	out := make([]LiveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, LiveSession{ID: s.ID, Slot: s.Slot, Client: s.Client})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Join is what a client receives right after HELLO.
type Join struct {
	Welcome  protocol.WelcomeMsg
	Catalogs []protocol.CatalogMsg
}

// Open loads the slot named in hello, credits offline progress and starts the
// session loop. It fails with store.ErrLocked while another session holds the
// slot. An unreadable save is quarantined and replaced by a fresh game; the
// returned Join then carries a warning.
func (m *Manager) Open(ctx context.Context, hello protocol.HelloMsg) (*Session, Join, error) {
	slot := strings.TrimSpace(hello.Slot)
	if slot == "" {
		slot = DefaultSlot
	}
	if err := store.CheckSlot(slot); err != nil {
		return nil, Join{}, err
	}

	id := uuid.NewString()
	s := &Session{
		ID:     id,
		Slot:   slot,
		Client: hello.ClientName,
		m:      m,
		inbox:  make(chan protocol.CmdMsg, 32),
		out:    make(chan []byte, m.cfg.OutQueue),
		done:   make(chan struct{}),
		limits: newLimits(m.cfg.Tuning.RateLimits),
	}

	m.mu.Lock()
	if _, busy := m.sessions[slot]; busy {
		m.mu.Unlock()
		return nil, Join{}, fmt.Errorf("slot %q: %w", slot, store.ErrLocked)
	}
	m.sessions[slot] = s
	m.mu.Unlock()

	join, err := s.open(ctx)
	if err != nil {
		m.release(s)
		return nil, Join{}, err
	}
	return s, join, nil
}

func (m *Manager) release(s *Session) {
	if s.unlock != nil {
		s.unlock()
	}
	m.mu.Lock()
	if m.sessions[s.Slot] == s {
		delete(m.sessions, s.Slot)
	}
	m.mu.Unlock()
}

// CloseAll stops every live session, saving each one.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()
	for _, s := range live {
		s.Close()
	}
}

func (m *Manager) slotDir(slot string) string {
	return filepath.Join(m.cfg.DataDir, "slots", slot)
}

func (m *Manager) quarantine(slot string, blob []byte, cause error) {
	if m.cfg.DataDir == "" {
		return
	}
	dir, err := archive.Quarantine(m.cfg.DataDir, slot, blob, cause, m.cfg.Clock.Now())
	if err != nil {
		m.log.Printf("quarantine slot=%s: %v", slot, err)
		return
	}
	m.log.Printf("quarantined unreadable save slot=%s dir=%s", slot, dir)
}

func (m *Manager) openJournal(slot string) *plog.Journal {
	if m.cfg.DataDir == "" || m.cfg.NoJournal {
		return nil
	}
	return plog.NewJournal(m.slotDir(slot))
}

func (m *Manager) catalogMsgs() []protocol.CatalogMsg {
	c := m.cfg.Catalogs
	msg := func(name, digest string, data any) protocol.CatalogMsg {
		return protocol.CatalogMsg{
			Type:            protocol.TypeCatalog,
			ProtocolVersion: protocol.Version,
			Name:            name,
			Digest:          digest,
			Data:            data,
		}
	}
	upgrades := make([]catalogs.UpgradeDef, 0, len(c.Upgrades.Order))
	for _, id := range c.Upgrades.Order {
		upgrades = append(upgrades, c.Upgrades.ByID[id])
	}
	staff := make([]catalogs.StaffDef, 0, len(c.Staff.Order))
	for _, id := range c.Staff.Order {
		staff = append(staff, c.Staff.ByID[id])
	}
	achievements := make([]catalogs.AchievementDef, 0, len(c.Achievements.Order))
	for _, id := range c.Achievements.Order {
		achievements = append(achievements, c.Achievements.ByID[id])
	}
	return []protocol.CatalogMsg{
		msg("upgrades", c.Upgrades.Digest, upgrades),
		msg("staff", c.Staff.Digest, staff),
		msg("synergies", c.Synergies.Digest, c.Synergies.ByTag),
		msg("achievements", c.Achievements.Digest, achievements),
	}
}

func (m *Manager) welcome(s *Session, rep protocol.OfflineReport, warning string) protocol.WelcomeMsg {
	c := m.cfg.Catalogs
	t := m.cfg.Tuning
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       s.ID,
		Slot:            s.Slot,
		Params: protocol.GameParams{
			TickRateHz:           t.TickRateHz,
			AutosaveEverySeconds: t.AutosaveEverySeconds,
			MaxOfflineSeconds:    t.Offline.MaxSeconds,
			OfflineEfficiency:    t.Offline.Efficiency,
		},
		Catalogs: protocol.CatalogDigests{
			Digest:             c.Digest(),
			UpgradesDigest:     c.Upgrades.Digest,
			StaffDigest:        c.Staff.Digest,
			SynergiesDigest:    c.Synergies.Digest,
			AchievementsDigest: c.Achievements.Digest,
		},
		Offline: &rep,
		Warning: warning,
	}
}

func newEngine(cfg Config, clk clock.Clock) (*engine.Engine, error) {
	return engine.New(engine.Config{Catalogs: cfg.Catalogs, Tuning: cfg.Tuning, Clock: clk})
}
