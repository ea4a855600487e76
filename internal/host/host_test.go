package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sushiclicker.com/internal/persistence/archive"
	plog "sushiclicker.com/internal/persistence/log"
	"sushiclicker.com/internal/persistence/save"
	"sushiclicker.com/internal/persistence/store"
	"sushiclicker.com/internal/protocol"
	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/clock"
	"sushiclicker.com/internal/sim/engine"
	"sushiclicker.com/internal/sim/production"
	"sushiclicker.com/internal/sim/tuning"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	m       *Manager
	fs      *store.FileStore
	clk     *clock.Manual
	dataDir string
}

func newFixture(t *testing.T, tune func(*tuning.Tuning)) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	fs, err := store.NewFileStore(filepath.Join(dataDir, "saves"))
	require.NoError(t, err)
	clk := clock.NewManual(t0)
	tu := tuning.Defaults()
	if tune != nil {
		tune(&tu)
	}
	m, err := NewManager(Config{
		Tuning:  tu,
		Clock:   clk,
		Store:   fs,
		Locker:  fs,
		DataDir: dataDir,
		Logger:  log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	t.Cleanup(m.CloseAll)
	return &fixture{m: m, fs: fs, clk: clk, dataDir: dataDir}
}

func (f *fixture) open(t *testing.T, slot string) (*Session, Join) {
	t.Helper()
	s, join, err := f.m.Open(context.Background(), protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "test",
		Slot:            slot,
	})
	require.NoError(t, err)
	return s, join
}

// next reads messages until one of type typ arrives.
func next(t *testing.T, s *Session, typ string) []byte {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case b := <-s.Out():
			base, err := protocol.DecodeBase(b)
			require.NoError(t, err)
			if base.Type == typ {
				return b
			}
		case <-timeout:
			t.Fatalf("no %s message", typ)
		}
	}
}

func nextAck(t *testing.T, s *Session, reqID string) protocol.AckMsg {
	t.Helper()
	for {
		var ack protocol.AckMsg
		require.NoError(t, json.Unmarshal(next(t, s, protocol.TypeAck), &ack))
		if ack.AckFor == reqID {
			return ack
		}
	}
}

func submit(t *testing.T, s *Session, reqID, kind, id string, count int) protocol.AckMsg {
	t.Helper()
	require.NoError(t, s.Submit(protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Kind:            kind,
		ID:              id,
		Count:           count,
	}))
	return nextAck(t, s, reqID)
}

func TestOpenFreshSlot(t *testing.T) {
	f := newFixture(t, nil)
	s, join := f.open(t, "")

	require.Equal(t, DefaultSlot, s.Slot)
	require.NotEmpty(t, join.Welcome.SessionID)
	require.Equal(t, join.Welcome.SessionID, s.ID)
	require.Empty(t, join.Welcome.Warning)
	require.Equal(t, tuning.Defaults().TickRateHz, join.Welcome.Params.TickRateHz)
	require.Len(t, join.Catalogs, 4)

	welcome, err := json.Marshal(join.Welcome)
	require.NoError(t, err)
	require.NoError(t, protocol.Validate(protocol.TypeWelcome, welcome))

	var st protocol.StateMsg
	raw := next(t, s, protocol.TypeState)
	require.NoError(t, protocol.Validate(protocol.TypeState, raw))
	require.NoError(t, json.Unmarshal(raw, &st))
	require.Equal(t, string(engine.EventResume), st.Event)
	require.Zero(t, st.Balance)
}

func TestClickAndPurchase(t *testing.T) {
	f := newFixture(t, nil)
	s, _ := f.open(t, "main")

	ack := submit(t, s, "c1", protocol.CmdClick, "", 20)
	require.True(t, ack.Accepted)

	ack = submit(t, s, "b1", protocol.CmdBuyStaff, "server", 0)
	require.True(t, ack.Accepted, "code=%s msg=%s", ack.Code, ack.Message)

	ack = submit(t, s, "b2", protocol.CmdBuyUpgrade, "sharp_knife", 0)
	require.False(t, ack.Accepted)
	require.Equal(t, protocol.ErrNoResource, ack.Code)
	require.NotNil(t, ack.Quote)
	require.Equal(t, "sharp_knife", ack.Quote.ID)

	ack = submit(t, s, "b3", protocol.CmdBuyUpgrade, "no_such_thing", 0)
	require.False(t, ack.Accepted)
	require.Equal(t, protocol.ErrInvalidTarget, ack.Code)

	ack = submit(t, s, "q1", protocol.CmdQuote, "server", 0)
	require.True(t, ack.Accepted)
	require.NotNil(t, ack.Quote)
	require.Equal(t, 1, ack.Quote.Owned)

	ack = submit(t, s, "x1", "JUGGLE", "", 0)
	require.False(t, ack.Accepted)
	require.Equal(t, protocol.ErrBadRequest, ack.Code)
}

func TestSecondSessionOnSlotIsRefused(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "main")

	_, _, err := f.m.Open(context.Background(), protocol.HelloMsg{Slot: "main"})
	require.True(t, errors.Is(err, store.ErrLocked), "got %v", err)
	require.Equal(t, protocol.ErrSlotBusy, protocol.CodeFor(err))

	_, _, err = f.m.Open(context.Background(), protocol.HelloMsg{Slot: "../etc"})
	require.Equal(t, protocol.ErrSlotInvalid, protocol.CodeFor(err))
}

func TestCloseSavesAndReopenRestores(t *testing.T) {
	f := newFixture(t, nil)
	s, _ := f.open(t, "main")
	require.True(t, submit(t, s, "c1", protocol.CmdClick, "", 7).Accepted)
	s.Close()
	s.Close()

	select {
	case <-s.Done():
	default:
		t.Fatalf("session not done after Close")
	}
	_, live := f.m.Session("main")
	require.False(t, live)

	blob, err := f.fs.Get(context.Background(), "main")
	require.NoError(t, err)
	st, err := save.Decode(blob)
	require.NoError(t, err)
	require.Equal(t, 7.0, st.Balance)
	require.Equal(t, int64(7), st.Clicks)

	s2, join := f.open(t, "main")
	require.Empty(t, join.Welcome.Warning)
	var msg protocol.StateMsg
	require.NoError(t, json.Unmarshal(next(t, s2, protocol.TypeState), &msg))
	require.Equal(t, 7.0, msg.Balance)

	m := f.m.Metrics()
	require.Equal(t, 1, m.Sessions)
	require.GreaterOrEqual(t, m.Saves, uint64(1))
}

func TestOfflineProgressOnOpen(t *testing.T) {
	f := newFixture(t, nil)
	blob, err := save.Encode(save.State{
		SchemaVersion:  save.CurrentVersion,
		Balance:        0,
		LifetimeEarned: 20,
		LifetimeSpent:  20,
		StaffOwned:     map[string]int{"server": 1},
		LastSavedAt:    t0.Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, f.fs.Put(context.Background(), "main", blob))

	f.clk.Advance(time.Hour)
	_, join := f.open(t, "main")

	rate := production.NewModel(catalogs.Default(), 1).Rates(production.Owned{
		Upgrades: map[string]int{},
		Staff:    map[string]int{"server": 1},
	}).PassivePerSecond
	require.NotNil(t, join.Welcome.Offline)
	require.Equal(t, 3600.0, join.Welcome.Offline.AwaySeconds)
	require.InDelta(t, rate*3600*0.5, join.Welcome.Offline.Credited, 1e-9)
}

func TestCorruptSaveIsQuarantined(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.fs.Put(context.Background(), "main", []byte("{not a save")))

	s, join := f.open(t, "main")
	require.NotEmpty(t, join.Welcome.Warning)
	require.Equal(t, uint64(1), f.m.Metrics().Recoveries)

	metas, err := archive.List(f.dataDir)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, "main", metas[0].Slot)

	var st protocol.StateMsg
	require.NoError(t, json.Unmarshal(next(t, s, protocol.TypeState), &st))
	require.Zero(t, st.Balance)
}

func TestRateLimits(t *testing.T) {
	f := newFixture(t, func(tu *tuning.Tuning) {
		tu.RateLimits.ClicksPerSecond = 5
		tu.RateLimits.PurchasesPerSecond = 1
	})
	s, _ := f.open(t, "main")

	require.True(t, submit(t, s, "c1", protocol.CmdClick, "", protocol.MaxClickCount).Accepted)
	ack := submit(t, s, "c2", protocol.CmdClick, "", 1)
	require.False(t, ack.Accepted)
	require.Equal(t, protocol.ErrRateLimit, ack.Code)

	f.clk.Advance(time.Second)
	require.True(t, submit(t, s, "c3", protocol.CmdClick, "", 5).Accepted)
	require.Equal(t, protocol.ErrRateLimit, submit(t, s, "c4", protocol.CmdClick, "", 1).Code)

	require.True(t, submit(t, s, "b1", protocol.CmdBuyStaff, "server", 0).Accepted)
	require.Equal(t, protocol.ErrRateLimit, submit(t, s, "b2", protocol.CmdBuyStaff, "server", 0).Code)
	require.GreaterOrEqual(t, f.m.Metrics().RateLimited, uint64(2))
}

func TestJournalRecordsSession(t *testing.T) {
	f := newFixture(t, nil)
	s, _ := f.open(t, "main")
	require.True(t, submit(t, s, "c1", protocol.CmdClick, "", 3).Accepted)
	require.True(t, submit(t, s, "s1", protocol.CmdSave, "", 0).Accepted)
	s.Close()

	files, err := plog.Files(f.m.slotDir("main"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	var entries []plog.JournalEntry
	require.NoError(t, plog.ReadJournal(files[0], func(e plog.JournalEntry) error {
		entries = append(entries, e)
		return nil
	}))
	require.GreaterOrEqual(t, len(entries), 5)
	require.True(t, entries[0].IsBase())
	require.Equal(t, engine.CmdResume, entries[1].Cmd.Kind)
	require.Equal(t, engine.CmdClick, entries[2].Cmd.Kind)
	require.Equal(t, 3, entries[2].Cmd.Count)
	require.Equal(t, engine.CmdSave, entries[len(entries)-1].Cmd.Kind)
	for i, e := range entries {
		require.Equal(t, uint64(i+1), e.Seq)
		require.Equal(t, s.ID, e.SessionID)
	}
}

func TestWatchReceivesState(t *testing.T) {
	f := newFixture(t, nil)
	s, _ := f.open(t, "main")

	ch, stop := s.Watch(4)
	defer stop()
	first := <-ch
	require.Equal(t, s.LastState(), first)

	require.True(t, submit(t, s, "c1", protocol.CmdClick, "", 1).Accepted)
	select {
	case b := <-ch:
		var st protocol.StateMsg
		require.NoError(t, json.Unmarshal(b, &st))
		require.Equal(t, 1.0, st.Balance)
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher got nothing")
	}
}

type recBackup struct {
	mu    sync.Mutex
	slots []string
	blobs [][]byte
}

func (r *recBackup) Backup(slot string, _ int64, blob []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = append(r.slots, slot)
	r.blobs = append(r.blobs, blob)
}

func TestSaveIsMirroredToBackup(t *testing.T) {
	f := newFixture(t, nil)
	rb := &recBackup{}
	f.m.cfg.Backup = rb
	s, _ := f.open(t, "main")
	require.True(t, submit(t, s, "c1", protocol.CmdClick, "", 3).Accepted)
	require.True(t, submit(t, s, "s1", protocol.CmdSave, "", 0).Accepted)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	require.Equal(t, []string{"main"}, rb.slots)
	st, err := save.Decode(rb.blobs[0])
	require.NoError(t, err)
	require.Equal(t, 3.0, st.Balance)
}

func TestFullClickBatchUnderDefaultTuning(t *testing.T) {
	f := newFixture(t, nil)
	s, _ := f.open(t, "main")
	ack := submit(t, s, "c1", protocol.CmdClick, "", protocol.MaxClickCount)
	require.True(t, ack.Accepted, "code=%s", ack.Code)

	var msg protocol.StateMsg
	require.NoError(t, json.Unmarshal(s.LastState(), &msg))
	require.Equal(t, int64(protocol.MaxClickCount), msg.Clicks)
}
