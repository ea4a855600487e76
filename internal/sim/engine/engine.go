// Package engine drives one player's game: it owns the state, routes commands
// through the ledger, production model, purchase engine and achievement
// evaluator, and publishes snapshots to subscribers.
//
// An Engine is not safe for concurrent use. Hosts must serialize calls.
package engine

import (
	"errors"
	"fmt"

	"sushiclicker.com/internal/persistence/save"
	"sushiclicker.com/internal/sim/achievements"
	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/clock"
	"sushiclicker.com/internal/sim/ledger"
	"sushiclicker.com/internal/sim/offline"
	"sushiclicker.com/internal/sim/production"
	"sushiclicker.com/internal/sim/purchase"
	"sushiclicker.com/internal/sim/tuning"
)

type Config struct {
	Catalogs *catalogs.Catalogs
	Tuning   tuning.Tuning
	Clock    clock.Clock
}

type Engine struct {
	cats      *catalogs.Catalogs
	model     *production.Model
	buyer     *purchase.Engine
	evaluator *achievements.Evaluator
	clk       clock.Clock
	offline   offline.Config

	ledger       *ledger.Ledger
	owned        production.Owned
	achievements map[string]int64
	clicks       int64
	acc          production.Accumulator
	lastSavedAt  int64
	rates        production.Rates

	observers map[int]func(Snapshot)
	obsOrder  []int
	nextObs   int
}

func New(cfg Config) (*Engine, error) {
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
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{
		cats:      cfg.Catalogs,
		model:     production.NewModel(cfg.Catalogs, cfg.Tuning.BaseClickYield),
		buyer:     purchase.NewEngine(cfg.Catalogs),
		evaluator: achievements.NewEvaluator(cfg.Catalogs),
		clk:       cfg.Clock,
		offline:   cfg.Tuning.Offline,
		observers: map[int]func(Snapshot){},
	}
	e.reset()
	return e, nil
}

func (e *Engine) reset() {
	e.ledger = &ledger.Ledger{}
	e.owned = production.Owned{Upgrades: map[string]int{}, Staff: map[string]int{}}
	e.achievements = map[string]int64{}
	e.clicks = 0
	e.acc = production.Accumulator{}
	e.lastSavedAt = e.now()
	e.rates = e.model.Rates(e.owned)
}

func (e *Engine) now() int64 { return e.clk.Now().Unix() }

func (e *Engine) Catalogs() *catalogs.Catalogs { return e.cats }
func (e *Engine) Rates() production.Rates      { return e.rates }

func (e *Engine) State() State {
	s := State{
		SchemaVersion:    save.CurrentVersion,
		Resource:         e.ledger.Resource(),
		Upgrades:         e.owned.Upgrades,
		Staff:            e.owned.Staff,
		Achievements:     e.achievements,
		Clicks:           e.clicks,
		PassiveRemainder: e.acc.Remainder,
		LastSavedAt:      e.lastSavedAt,
	}
	return s.Clone()
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{State: e.State(), Rates: e.rates}
}

// Digest hashes the current state; two engines that processed the same
// commands at the same times report the same digest.
func (e *Engine) Digest() string { return e.State().Digest() }

// Subscribe registers fn to receive a snapshot after every state change.
// The returned func removes it and may be called more than once.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.obsOrder = append(e.obsOrder, id)
	return func() {
		if _, ok := e.observers[id]; !ok {
			return
		}
		delete(e.observers, id)
		for i, v := range e.obsOrder {
			if v == id {
				e.obsOrder = append(e.obsOrder[:i:i], e.obsOrder[i+1:]...)
				break
			}
		}
	}
}

func (e *Engine) publish(s Snapshot) {
	ids := append([]int(nil), e.obsOrder...)
	for _, id := range ids {
		fn, ok := e.observers[id]
		if !ok {
			continue
		}
		// Each observer gets its own copy so one cannot mutate another's view.
		cp := s
		cp.State = s.State.Clone()
		cp.NewAchievements = append([]string(nil), s.NewAchievements...)
		fn(cp)
	}
}

func (e *Engine) stats() achievements.Stats {
	return achievements.Stats{
		LifetimeEarned: e.ledger.LifetimeEarned(),
		LifetimeSpent:  e.ledger.LifetimeSpent(),
		Balance:        e.ledger.Balance(),
		Clicks:         e.clicks,
		Upgrades:       e.owned.Upgrades,
		Staff:          e.owned.Staff,
		PassiveRate:    e.rates.PassivePerSecond,
		ClickYield:     e.rates.ClickYield,
	}
}

func (e *Engine) evaluate() []string {
	return e.evaluator.Evaluate(e.stats(), e.achievements, e.now())
}

func (e *Engine) credit(amount float64) {
	if amount <= 0 {
		return
	}
	// Amounts come from validated rates; a failure here means a broken catalog.
	if err := e.ledger.Credit(amount); err != nil {
		panic(fmt.Sprintf("engine credit: %v", err))
	}
}

// Click credits the current click yield once.
func (e *Engine) Click() Snapshot {
	e.credit(e.rates.ClickYield)
	e.clicks++
	fresh := e.evaluate()
	snap := e.Snapshot()
	snap.Event = EventClick
	snap.NewAchievements = fresh
	e.publish(snap)
	return snap
}

func (e *Engine) PurchaseUpgrade(id string) (Snapshot, error) {
	return e.purchase(purchase.KindUpgrade, id)
}

func (e *Engine) PurchaseStaff(id string) (Snapshot, error) {
	return e.purchase(purchase.KindStaff, id)
}

// purchase commits all of debit, count, rates and achievements, or nothing.
// Failed purchases publish nothing.
func (e *Engine) purchase(kind purchase.Kind, id string) (Snapshot, error) {
	r, err := e.buyer.Buy(e.ledger, e.owned, kind, id)
	if err != nil {
		return e.Snapshot(), err
	}
	e.rates = e.model.Rates(e.owned)
	fresh := e.evaluate()
	snap := e.Snapshot()
	snap.Event = EventPurchase
	snap.Receipt = &r
	snap.NewAchievements = fresh
	e.publish(snap)
	return snap, nil
}

// Tick advances passive production by dt seconds. dt <= 0 changes nothing
// and publishes nothing.
func (e *Engine) Tick(dt float64) Snapshot {
	if !(dt > 0) {
		return e.Snapshot()
	}
	e.credit(e.acc.Accrue(e.rates.PassivePerSecond, dt))
	fresh := e.evaluate()
	snap := e.Snapshot()
	snap.Event = EventTick
	snap.NewAchievements = fresh
	e.publish(snap)
	return snap
}

// Resume credits production for the time since the last save, at reduced
// efficiency and clamped to the configured window, then moves the save
// timestamp to now. Calling it again at the same instant credits nothing.
func (e *Engine) Resume() offline.Report {
	now := e.now()
	rep := offline.CatchUp(e.lastSavedAt, now, e.rates.PassivePerSecond, e.offline)
	e.credit(e.acc.Add(rep.Credited))
	if now > e.lastSavedAt {
		e.lastSavedAt = now
	}
	fresh := e.evaluate()
	snap := e.Snapshot()
	snap.Event = EventResume
	snap.Offline = &rep
	snap.NewAchievements = fresh
	e.publish(snap)
	return rep
}

// Quote reports the next cost and purchase gates of a catalog entry.
func (e *Engine) Quote(kind purchase.Kind, id string) (purchase.Quote, error) {
	return e.buyer.Quote(kind, id, e.owned, e.ledger.Balance())
}

// Available lists entries that can be bought once affordable.
func (e *Engine) Available() []purchase.Quote {
	return e.buyer.Available(e.owned, e.ledger.Balance())
}

// IsPurchaseRejection reports whether err is one of the recoverable purchase
// refusals rather than a caller error.
func IsPurchaseRejection(err error) bool {
	return errors.Is(err, purchase.ErrInsufficientFunds) ||
		errors.Is(err, purchase.ErrMaxOwned) ||
		errors.Is(err, purchase.ErrPrerequisiteNotMet)
}
