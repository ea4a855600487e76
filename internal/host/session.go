package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sushiclicker.com/internal/persistence/indexdb"
	plog "sushiclicker.com/internal/persistence/log"
	"sushiclicker.com/internal/persistence/store"
	"sushiclicker.com/internal/protocol"
	"sushiclicker.com/internal/sim/clock"
	"sushiclicker.com/internal/sim/engine"
	"sushiclicker.com/internal/sim/purchase"
)

var errQueueFull = errors.New("command queue full")

// Session is one client's live game on one slot.
type Session struct {
	ID     string
	Slot   string
	Client string

	m       *Manager
	eng     *engine.Engine
	clk     *clock.Manual // engine time, set from the host clock before each command
	journal *plog.Journal
	unlock  func()
	unsub   func()
	limits  *limits

	inbox chan protocol.CmdMsg
	out   chan []byte
	done  chan struct{}

	cancel    context.CancelFunc
	closeOnce sync.Once

	row indexdb.SessionRow

	// Owned by the run goroutine once it starts.
	seq         uint64
	jseq        uint64
	lastTick    time.Time
	lastBalance float64

	watchMu   sync.Mutex
	watchers  map[int]chan []byte
	nextWatch int
	lastState []byte
}

func (s *Session) open(ctx context.Context) (Join, error) {
	m := s.m
	if m.cfg.Locker != nil {
		unlock, err := m.cfg.Locker.Lock(s.Slot, s.ID)
		if err != nil {
			return Join{}, err
		}
		s.unlock = unlock
	}

	s.clk = clock.NewManual(m.cfg.Clock.Now())
	eng, err := newEngine(m.cfg, s.clk)
	if err != nil {
		return Join{}, err
	}
	s.eng = eng

	var warning string
	blob, err := m.cfg.Store.Get(ctx, s.Slot)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Join{}, fmt.Errorf("load slot %q: %w", s.Slot, err)
	default:
		if _, lerr := eng.Load(blob); lerr != nil {
			m.recoveries.Add(1)
			m.log.Printf("slot=%s: %v", s.Slot, lerr)
			m.quarantine(s.Slot, blob, lerr)
			warning = lerr.Error()
			s.row.Recovered = true
		}
	}

	s.journal = m.openJournal(s.Slot)
	now := s.clk.Now()
	if s.journal != nil {
		base := eng.State()
		s.appendJournal(plog.JournalEntry{At: now.Unix(), Base: &base, Digest: base.Digest()})
	}

	s.unsub = eng.Subscribe(s.onSnapshot)
	snap, _ := s.exec(engine.Command{Kind: engine.CmdResume})
	rep := protocol.OfflineReport{}
	if snap.Offline != nil {
		rep = protocol.OfflineReport{
			ElapsedSeconds: snap.Offline.Elapsed,
			AwaySeconds:    snap.Offline.Away,
			Credited:       snap.Offline.Credited,
			Clamped:        snap.Offline.Clamped,
		}
	}

	s.row.SessionID = s.ID
	s.row.Slot = s.Slot
	s.row.StartedAt = now.Unix()
	s.row.OfflineSeconds = rep.AwaySeconds
	s.row.OfflineCredited = rep.Credited
	if m.cfg.Index != nil {
		m.cfg.Index.RecordSession(s.row)
	}

	s.lastTick = now
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(runCtx)

	m.log.Printf("session open id=%s slot=%s client=%q offline_credited=%.0f", s.ID, s.Slot, s.Client, rep.Credited)
	return Join{Welcome: m.welcome(s, rep, warning), Catalogs: m.catalogMsgs()}, nil
}

// Out carries encoded ACK and STATE messages for the client.
func (s *Session) Out() <-chan []byte { return s.out }

// Done is closed once the session has stopped and saved.
func (s *Session) Done() <-chan struct{} { return s.done }

// Submit queues a client command. It never blocks: a full queue is reported
// to the client as a rate limit.
func (s *Session) Submit(c protocol.CmdMsg) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- c:
		return nil
	default:
		s.m.rateLimited.Add(1)
		s.Reject(c.ReqID, protocol.ErrRateLimit, errQueueFull.Error())
		return errQueueFull
	}
}

// Reject sends a refusal ACK for a request the session never ran.
func (s *Session) Reject(reqID, code, msg string) {
	s.m.rejected.Add(1)
	s.send(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          reqID,
		Accepted:        false,
		Code:            code,
		Message:         msg,
	})
}

// Close stops the loop, saves, and releases the slot. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Session) run(ctx context.Context) {
	defer s.finish()

	tick := time.NewTicker(time.Second / time.Duration(s.m.cfg.Tuning.TickRateHz))
	defer tick.Stop()

	var autosave <-chan time.Time
	if every := s.m.cfg.Tuning.AutosaveEverySeconds; every > 0 {
		t := time.NewTicker(time.Duration(every) * time.Second)
		defer t.Stop()
		autosave = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.inbox:
			s.handle(c)
		case <-tick.C:
			now := s.m.cfg.Clock.Now()
			dt := now.Sub(s.lastTick).Seconds()
			s.lastTick = now
			if dt > 0 {
				s.exec(engine.Command{Kind: engine.CmdTick, DT: dt})
			}
		case <-autosave:
			if err := s.save(context.Background()); err != nil {
				s.m.log.Printf("autosave slot=%s: %v", s.Slot, err)
			}
		}
	}
}

func (s *Session) finish() {
	if err := s.save(context.Background()); err != nil {
		s.m.log.Printf("final save slot=%s: %v", s.Slot, err)
	}
	s.unsub()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.m.log.Printf("journal close slot=%s: %v", s.Slot, err)
		}
	}
	s.row.EndedAt = s.m.cfg.Clock.Now().Unix()
	if s.m.cfg.Index != nil {
		s.m.cfg.Index.RecordSession(s.row)
	}
	s.m.release(s)
	s.m.log.Printf("session closed id=%s slot=%s", s.ID, s.Slot)
	close(s.done)
}

func (s *Session) handle(c protocol.CmdMsg) {
	s.m.commands.Add(1)
	now := s.m.cfg.Clock.Now()

	switch c.Kind {
	case protocol.CmdClick:
		n := c.Count
		if n <= 0 {
			n = 1
		}
		if !s.limits.allowClicks(now, n) {
			s.m.rateLimited.Add(1)
			s.Reject(c.ReqID, protocol.ErrRateLimit, "too many clicks")
			return
		}
		s.exec(engine.Command{Kind: engine.CmdClick, Count: n})
		s.ack(c.ReqID, nil, "")

	case protocol.CmdBuyUpgrade, protocol.CmdBuyStaff:
		if c.ID == "" {
			s.Reject(c.ReqID, protocol.ErrBadRequest, "missing id")
			return
		}
		if !s.limits.allowPurchase(now) {
			s.m.rateLimited.Add(1)
			s.Reject(c.ReqID, protocol.ErrRateLimit, "too many purchases")
			return
		}
		kind := engine.CmdBuyUpgrade
		if c.Kind == protocol.CmdBuyStaff {
			kind = engine.CmdBuyStaff
		}
		snap, err := s.exec(engine.Command{Kind: kind, ID: c.ID})
		if err != nil {
			s.m.rejected.Add(1)
			s.ackErr(c.ReqID, err, purchaseKind(c.Kind), c.ID)
			return
		}
		fact := ""
		if snap.Receipt != nil {
			fact = snap.Receipt.Fact
		}
		s.ack(c.ReqID, nil, fact)

	case protocol.CmdQuote:
		kind := purchase.KindUpgrade
		if _, ok := s.m.cfg.Catalogs.Staff.ByID[c.ID]; ok {
			kind = purchase.KindStaff
		}
		q, err := s.eng.Quote(kind, c.ID)
		if err != nil {
			s.m.rejected.Add(1)
			s.ackErr(c.ReqID, err, "", "")
			return
		}
		wq := toQuote(q)
		s.ack(c.ReqID, &wq, "")

	case protocol.CmdSave:
		if err := s.save(context.Background()); err != nil {
			s.m.rejected.Add(1)
			s.ackErr(c.ReqID, err, "", "")
			return
		}
		s.ack(c.ReqID, nil, "")

	default:
		s.Reject(c.ReqID, protocol.ErrBadRequest, fmt.Sprintf("unknown kind %q", c.Kind))
	}
}

// exec applies c to the engine at the current host time and journals the
// result.
func (s *Session) exec(c engine.Command) (engine.Snapshot, error) {
	now := s.m.cfg.Clock.Now()
	s.clk.Set(now)
	snap, err := s.eng.Apply(c)
	if s.journal != nil {
		s.appendJournal(plog.JournalEntry{
			At:     now.Unix(),
			Cmd:    c,
			Code:   protocol.CodeFor(err),
			Digest: s.eng.Digest(),
		})
	}
	return snap, err
}

func (s *Session) appendJournal(e plog.JournalEntry) {
	s.jseq++
	e.Seq = s.jseq
	e.SessionID = s.ID
	if err := s.journal.Append(e); err != nil {
		s.m.log.Printf("journal slot=%s: %v", s.Slot, err)
	}
}

// save writes the current state to the store and records it in the index.
func (s *Session) save(ctx context.Context) error {
	now := s.m.cfg.Clock.Now()
	s.clk.Set(now)
	blob, err := s.eng.Save()
	if err == nil && s.journal != nil {
		s.appendJournal(plog.JournalEntry{At: now.Unix(), Cmd: engine.Command{Kind: engine.CmdSave}, Digest: s.eng.Digest()})
	}
	if err == nil {
		err = s.m.cfg.Store.Put(ctx, s.Slot, blob)
	}
	if err != nil {
		s.m.saveErrors.Add(1)
		return err
	}
	s.m.saves.Add(1)
	st := s.eng.State()
	if s.m.cfg.Backup != nil {
		s.m.cfg.Backup.Backup(s.Slot, st.LastSavedAt, blob)
	}
	if s.m.cfg.Index != nil {
		r := s.eng.Rates()
		s.m.cfg.Index.RecordSave(indexdb.HistoryRow{
			Slot:             s.Slot,
			SavedAt:          st.LastSavedAt,
			Balance:          st.Resource.Balance,
			LifetimeEarned:   st.Resource.LifetimeEarned,
			LifetimeSpent:    st.Resource.LifetimeSpent,
			ClickYield:       r.ClickYield,
			PassivePerSecond: r.PassivePerSecond,
			Upgrades:         sumCounts(st.Upgrades),
			Staff:            sumCounts(st.Staff),
			Achievements:     len(st.Achievements),
			Digest:           st.Digest(),
		})
	}
	return nil
}

func (s *Session) onSnapshot(snap engine.Snapshot) {
	// Ticks that credit nothing whole are not worth a message.
	if snap.Event == engine.EventTick && len(snap.NewAchievements) == 0 && snap.Resource.Balance == s.lastBalance {
		return
	}
	s.lastBalance = snap.Resource.Balance
	s.seq++
	msg := toStateMsg(s.seq, snap, s.eng.Available())
	b, err := json.Marshal(msg)
	if err != nil {
		s.m.log.Printf("encode state slot=%s: %v", s.Slot, err)
		return
	}
	s.sendRaw(b)
	s.broadcast(b)
}

func (s *Session) ack(reqID string, q *protocol.Quote, fact string) {
	s.send(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          reqID,
		Accepted:        true,
		Quote:           q,
		Fact:            fact,
	})
}

func (s *Session) ackErr(reqID string, err error, kind purchase.Kind, id string) {
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          reqID,
		Accepted:        false,
		Code:            protocol.CodeFor(err),
		Message:         err.Error(),
	}
	if kind != "" && engine.IsPurchaseRejection(err) {
		if q, qerr := s.eng.Quote(kind, id); qerr == nil {
			wq := toQuote(q)
			ack.Quote = &wq
		}
	}
	s.send(ack)
}

func (s *Session) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.m.log.Printf("encode slot=%s: %v", s.Slot, err)
		return
	}
	s.sendRaw(b)
}

// sendRaw drops the message when the client is not keeping up; every STATE
// is a full state so the next one supersedes anything lost.
func (s *Session) sendRaw(b []byte) {
	select {
	case s.out <- b:
	default:
	}
}

func purchaseKind(cmdKind string) purchase.Kind {
	if cmdKind == protocol.CmdBuyStaff {
		return purchase.KindStaff
	}
	return purchase.KindUpgrade
}

func sumCounts(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
