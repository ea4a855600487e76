package purchase

import (
	"errors"
	"fmt"
	"math"

	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/ledger"
	"sushiclicker.com/internal/sim/production"
)

type Kind string

const (
	KindUpgrade Kind = "UPGRADE"
	KindStaff   Kind = "STAFF"
)

var (
	ErrUnknownUpgrade     = errors.New("unknown upgrade")
	ErrUnknownStaff       = errors.New("unknown staff")
	ErrPrerequisiteNotMet = errors.New("prerequisite not met")
	ErrMaxOwned           = errors.New("max owned")

	// ErrInsufficientFunds is reported by the ledger debit.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
)

// Error describes a rejected purchase. It unwraps to one of the sentinels above.
type Error struct {
	Kind    Kind
	ID      string
	Cost    float64
	Balance float64
	Missing []string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case errors.Is(e.Err, ErrInsufficientFunds):
		return fmt.Sprintf("buy %s %s: cost %.6g exceeds balance %.6g: %v", e.Kind, e.ID, e.Cost, e.Balance, ErrInsufficientFunds)
	case len(e.Missing) > 0:
		return fmt.Sprintf("buy %s %s: missing %v: %v", e.Kind, e.ID, e.Missing, e.Err)
	default:
		return fmt.Sprintf("buy %s %s: %v", e.Kind, e.ID, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Cost of the (owned+1)-th unit: base * growth^owned.
func Cost(p catalogs.Pricing, owned int) float64 {
	if owned < 0 {
		owned = 0
	}
	return p.BaseCost * math.Pow(p.CostGrowth, float64(owned))
}

// Quote is the purchase outlook for one catalog entry.
type Quote struct {
	Kind       Kind     `json:"kind"`
	ID         string   `json:"id"`
	Owned      int      `json:"owned"`
	Cost       float64  `json:"cost"`
	Affordable bool     `json:"affordable"`
	Capped     bool     `json:"capped,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

// Purchasable reports whether every gate except funds is open.
func (q Quote) Purchasable() bool { return !q.Capped && len(q.Missing) == 0 }

// Receipt describes a completed purchase.
type Receipt struct {
	Kind     Kind    `json:"kind"`
	ID       string  `json:"id"`
	Cost     float64 `json:"cost"`
	NewCount int     `json:"new_count"`
	Fact     string  `json:"fact,omitempty"`
	// Unlocked lists entries whose prerequisites became satisfied by this purchase.
	Unlocked []string `json:"unlocked,omitempty"`
}

type entry struct {
	pricing catalogs.Pricing
	prereqs []string
	fact    string
}

type Engine struct {
	cats *catalogs.Catalogs
}

func NewEngine(c *catalogs.Catalogs) *Engine {
	return &Engine{cats: c}
}

func (e *Engine) lookup(kind Kind, id string) (entry, error) {
	switch kind {
	case KindUpgrade:
		d, ok := e.cats.Upgrades.ByID[id]
		if !ok {
			return entry{}, ErrUnknownUpgrade
		}
		return entry{pricing: d.Pricing, prereqs: d.Prerequisites, fact: d.Fact}, nil
	case KindStaff:
		d, ok := e.cats.Staff.ByID[id]
		if !ok {
			return entry{}, ErrUnknownStaff
		}
		return entry{pricing: d.Pricing, prereqs: d.Prerequisites, fact: d.Fact}, nil
	default:
		return entry{}, fmt.Errorf("purchase kind %q: %w", kind, ErrUnknownUpgrade)
	}
}

func counts(kind Kind, o production.Owned) map[string]int {
	if kind == KindStaff {
		return o.Staff
	}
	return o.Upgrades
}

func missing(prereqs []string, upgrades map[string]int) []string {
	var out []string
	for _, p := range prereqs {
		if upgrades[p] <= 0 {
			out = append(out, p)
		}
	}
	return out
}

// Quote evaluates the gates of a purchase without changing anything.
func (e *Engine) Quote(kind Kind, id string, o production.Owned, balance float64) (Quote, error) {
	ent, err := e.lookup(kind, id)
	if err != nil {
		return Quote{}, &Error{Kind: kind, ID: id, Err: err}
	}
	n := counts(kind, o)[id]
	q := Quote{
		Kind:    kind,
		ID:      id,
		Owned:   n,
		Cost:    Cost(ent.pricing, n),
		Missing: missing(ent.prereqs, o.Upgrades),
		Capped:  ent.pricing.MaxOwned > 0 && n >= ent.pricing.MaxOwned,
	}
	q.Affordable = q.Cost <= balance
	return q, nil
}

// Buy runs the purchase gates in order (unknown id, prerequisites, cap, funds)
// and commits only when all pass. The ledger debit is the funds check; on any
// error neither the ledger nor o is modified.
func (e *Engine) Buy(l *ledger.Ledger, o production.Owned, kind Kind, id string) (Receipt, error) {
	ent, err := e.lookup(kind, id)
	if err != nil {
		return Receipt{}, &Error{Kind: kind, ID: id, Err: err}
	}
	if miss := missing(ent.prereqs, o.Upgrades); len(miss) > 0 {
		return Receipt{}, &Error{Kind: kind, ID: id, Missing: miss, Err: ErrPrerequisiteNotMet}
	}
	owned := counts(kind, o)
	n := owned[id]
	if ent.pricing.MaxOwned > 0 && n >= ent.pricing.MaxOwned {
		return Receipt{}, &Error{Kind: kind, ID: id, Err: ErrMaxOwned}
	}
	cost := Cost(ent.pricing, n)
	if err := l.Debit(cost); err != nil {
		return Receipt{}, &Error{Kind: kind, ID: id, Cost: cost, Balance: l.Balance(), Err: errors.Unwrap(err)}
	}
	owned[id] = n + 1

	r := Receipt{Kind: kind, ID: id, Cost: cost, NewCount: n + 1, Fact: ent.fact}
	if kind == KindUpgrade && n == 0 {
		r.Unlocked = e.unlockedBy(id, o)
	}
	return r, nil
}

// unlockedBy lists upgrades and staff that depend on id and whose prerequisites
// are now all owned. They become purchasable; nothing is bought for the player.
func (e *Engine) unlockedBy(id string, o production.Owned) []string {
	var out []string
	dependsOn := func(prereqs []string) bool {
		for _, p := range prereqs {
			if p == id {
				return true
			}
		}
		return false
	}
	for _, uid := range e.cats.Upgrades.Order {
		d := e.cats.Upgrades.ByID[uid]
		if dependsOn(d.Prerequisites) && len(missing(d.Prerequisites, o.Upgrades)) == 0 {
			out = append(out, uid)
		}
	}
	for _, sid := range e.cats.Staff.Order {
		d := e.cats.Staff.ByID[sid]
		if dependsOn(d.Prerequisites) && len(missing(d.Prerequisites, o.Upgrades)) == 0 {
			out = append(out, sid)
		}
	}
	return out
}

// Available lists every catalog entry whose prerequisites are met and which is
// not capped, upgrades first, in definition order.
func (e *Engine) Available(o production.Owned, balance float64) []Quote {
	var out []Quote
	for _, id := range e.cats.Upgrades.Order {
		if q, err := e.Quote(KindUpgrade, id, o, balance); err == nil && q.Purchasable() {
			out = append(out, q)
		}
	}
	for _, id := range e.cats.Staff.Order {
		if q, err := e.Quote(KindStaff, id, o, balance); err == nil && q.Purchasable() {
			out = append(out, q)
		}
	}
	return out
}
