// Package achievements evaluates one-way unlock conditions over lifetime stats.
package achievements

import (
	"sort"

	"sushiclicker.com/internal/sim/catalogs"
)

// Stats is the read-only view conditions are evaluated against.
type Stats struct {
	LifetimeEarned float64
	LifetimeSpent  float64
	Balance        float64
	Clicks         int64
	Upgrades       map[string]int
	Staff          map[string]int
	PassiveRate    float64
	ClickYield     float64
}

func total(m map[string]int) float64 {
	n := 0
	for _, c := range m {
		n += c
	}
	return float64(n)
}

// Met reports whether the condition holds for s. Unknown kinds never hold.
func Met(c catalogs.Condition, s Stats) bool {
	v, ok := value(c, s)
	return ok && v >= c.Threshold
}

func value(c catalogs.Condition, s Stats) (float64, bool) {
	var v float64
	switch c.Kind {
	case catalogs.CondLifetimeEarned:
		v = s.LifetimeEarned
	case catalogs.CondLifetimeSpent:
		v = s.LifetimeSpent
	case catalogs.CondBalance:
		v = s.Balance
	case catalogs.CondClicks:
		v = float64(s.Clicks)
	case catalogs.CondUpgradeOwned:
		v = float64(s.Upgrades[c.Target])
	case catalogs.CondStaffOwned:
		v = float64(s.Staff[c.Target])
	case catalogs.CondUpgradesTotal:
		v = total(s.Upgrades)
	case catalogs.CondStaffTotal:
		v = total(s.Staff)
	case catalogs.CondPassiveRate:
		v = s.PassiveRate
	case catalogs.CondClickYield:
		v = s.ClickYield
	default:
		return 0, false
	}
	return v, true
}

type Evaluator struct {
	cat *catalogs.AchievementCatalog
}

func NewEvaluator(c *catalogs.Catalogs) *Evaluator {
	return &Evaluator{cat: &c.Achievements}
}

// Evaluate checks every locked achievement and records the ones now met in
// unlocked with timestamp now. Entries already present are never touched.
// It returns the newly unlocked ids sorted.
func (e *Evaluator) Evaluate(s Stats, unlocked map[string]int64, now int64) []string {
	var fresh []string
	for _, id := range e.cat.Order {
		if _, ok := unlocked[id]; ok {
			continue
		}
		if Met(e.cat.ByID[id].Condition, s) {
			unlocked[id] = now
			fresh = append(fresh, id)
		}
	}
	sort.Strings(fresh)
	return fresh
}

// Progress is the fraction toward the threshold, in [0,1].
func Progress(c catalogs.Condition, s Stats) float64 {
	v, ok := value(c, s)
	switch {
	case !ok:
		return 0
	case v >= c.Threshold:
		return 1
	case v <= 0:
		return 0
	}
	return v / c.Threshold
}
