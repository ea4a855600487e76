package engine

import (
	"errors"
	"fmt"
	"math"

	"sushiclicker.com/internal/persistence/save"
	"sushiclicker.com/internal/sim/ledger"
	"sushiclicker.com/internal/sim/production"
)

// RecoveryWarning is returned by Load when the blob could not be used and the
// engine started from a fresh state instead. It is not fatal.
type RecoveryWarning struct {
	Err error
}

func (w *RecoveryWarning) Error() string {
	return fmt.Sprintf("save discarded, starting fresh: %v", w.Err)
}

func (w *RecoveryWarning) Unwrap() error { return w.Err }

// Save stamps the save time and encodes the state.
func (e *Engine) Save() ([]byte, error) {
	if now := e.now(); now > e.lastSavedAt {
		e.lastSavedAt = now
	}
	blob, err := save.Encode(toSave(e.State()))
	if err != nil {
		return nil, fmt.Errorf("engine save: %w", err)
	}
	snap := e.Snapshot()
	snap.Event = EventSave
	e.publish(snap)
	return blob, nil
}

// Load replaces the engine state with the one in blob. On a corrupt or
// unsupported blob the engine resets to a fresh state and returns it along
// with a *RecoveryWarning. Either way the engine is usable afterwards.
func (e *Engine) Load(blob []byte) (State, error) {
	s, err := save.Decode(blob)
	if err == nil {
		err = e.restore(s)
	}
	if err != nil {
		e.reset()
		e.publishLoad(nil)
		return e.State(), &RecoveryWarning{Err: err}
	}
	e.publishLoad(e.evaluate())
	return e.State(), nil
}

// Restore installs s as the current state, with the same id filtering and
// clamping as Load. Replay uses it to start from a journaled base state.
func (e *Engine) Restore(s State) error {
	if err := e.restore(toSave(s)); err != nil {
		return err
	}
	e.publishLoad(e.evaluate())
	return nil
}

// publishLoad announces the restored state. Achievements already earned by the
// restored statistics are unlocked before it goes out.
func (e *Engine) publishLoad(fresh []string) {
	snap := e.Snapshot()
	snap.Event = EventLoad
	snap.NewAchievements = fresh
	e.publish(snap)
}

// restore installs s. Ids no longer in the catalog are dropped and counts
// above a cap are clamped to it.
func (e *Engine) restore(s save.State) error {
	l, err := ledger.Restore(s.LifetimeEarned, s.LifetimeSpent)
	if err != nil {
		return fmt.Errorf("%w: %v", save.ErrCorruptSave, err)
	}
	owned := production.Owned{Upgrades: map[string]int{}, Staff: map[string]int{}}
	for id, n := range s.UpgradesOwned {
		d, ok := e.cats.Upgrades.ByID[id]
		if !ok || n <= 0 {
			continue
		}
		if d.MaxOwned > 0 && n > d.MaxOwned {
			n = d.MaxOwned
		}
		owned.Upgrades[id] = n
	}
	for id, n := range s.StaffOwned {
		d, ok := e.cats.Staff.ByID[id]
		if !ok || n <= 0 {
			continue
		}
		if d.MaxOwned > 0 && n > d.MaxOwned {
			n = d.MaxOwned
		}
		owned.Staff[id] = n
	}
	unlocked := map[string]int64{}
	for id, at := range s.AchievementsUnlocked {
		if _, ok := e.cats.Achievements.ByID[id]; ok {
			unlocked[id] = at
		}
	}
	rem := s.PassiveRemainder
	if !(rem >= 0 && rem < 1) || math.IsNaN(rem) {
		rem = 0
	}

	e.ledger = l
	e.owned = owned
	e.achievements = unlocked
	e.clicks = s.Clicks
	e.acc = production.Accumulator{Remainder: rem}
	e.lastSavedAt = s.LastSavedAt
	e.rates = e.model.Rates(e.owned)
	return nil
}

func toSave(s State) save.State {
	return save.State{
		SchemaVersion:        save.CurrentVersion,
		Balance:              s.Resource.Balance,
		LifetimeEarned:       s.Resource.LifetimeEarned,
		LifetimeSpent:        s.Resource.LifetimeSpent,
		UpgradesOwned:        s.Upgrades,
		StaffOwned:           s.Staff,
		AchievementsUnlocked: s.Achievements,
		LastSavedAt:          s.LastSavedAt,
		Clicks:               s.Clicks,
		PassiveRemainder:     s.PassiveRemainder,
	}
}

// IsRecovery reports whether err came from Load discarding a save.
func IsRecovery(err error) bool {
	var w *RecoveryWarning
	return errors.As(err, &w)
}
