package production

import (
	"math"

	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/staff"
)

// Rates is the derived yield for a given set of owned upgrades and staff.
type Rates struct {
	ClickYield       float64 `json:"click_yield"`
	PassivePerSecond float64 `json:"passive_per_second"`
}

// Owned is the combined input of the model: upgrade and staff counts by id.
type Owned struct {
	Upgrades map[string]int
	Staff    map[string]int
}

// Model derives rates from owned counts. It holds no game state.
type Model struct {
	cats      *catalogs.Catalogs
	synergy   *staff.Index
	baseClick float64
}

func NewModel(c *catalogs.Catalogs, baseClickYield float64) *Model {
	return &Model{
		cats:      c,
		synergy:   staff.NewIndex(c),
		baseClick: baseClickYield,
	}
}

func (m *Model) Synergy() *staff.Index { return m.synergy }

// Rates combines additive effects first, then applies multiplicative ones:
//
//	click   = (base + Σadd) * Πmult
//	passive = (Σ staff output + Σadd) * Πmult
//
// Each owned unit applies its upgrade's effect once.
func (m *Model) Rates(o Owned) Rates {
	clickAdd, clickMult := 0.0, 1.0
	passiveAdd, passiveMult := 0.0, 1.0

	for _, id := range m.cats.Upgrades.Order {
		n := o.Upgrades[id]
		if n <= 0 {
			continue
		}
		eff := m.cats.Upgrades.ByID[id].Effect
		switch eff.Channel {
		case catalogs.ChannelClick:
			clickAdd, clickMult = apply(clickAdd, clickMult, eff, n)
		case catalogs.ChannelPassive:
			passiveAdd, passiveMult = apply(passiveAdd, passiveMult, eff, n)
		}
	}

	staffOut := 0.0
	for _, id := range m.cats.Staff.Order {
		n := o.Staff[id]
		if n <= 0 {
			continue
		}
		staffOut += m.synergy.PerSecond(m.cats.Staff.ByID[id], n, o.Upgrades)
	}

	return Rates{
		ClickYield:       (m.baseClick + clickAdd) * clickMult,
		PassivePerSecond: (staffOut + passiveAdd) * passiveMult,
	}
}

func apply(add, mult float64, eff catalogs.Effect, n int) (float64, float64) {
	switch eff.Kind {
	case catalogs.EffectAdd:
		add += eff.Value * float64(n)
	case catalogs.EffectMult:
		mult *= math.Pow(eff.Value, float64(n))
	}
	return add, mult
}

// wholeEpsilon absorbs float error when the remainder lands just below a whole unit.
const wholeEpsilon = 1e-9

// Accumulator credits passive output in whole units and carries the fraction
// to the next call, so the total credited does not depend on how time is split.
type Accumulator struct {
	Remainder float64
}

// Accrue adds rate*dt and returns the whole units now due. dt <= 0 is a no-op.
func (a *Accumulator) Accrue(rate, dt float64) float64 {
	if !(dt > 0) || !(rate > 0) {
		return 0
	}
	return a.Add(rate * dt)
}

// Add feeds an arbitrary non-negative amount through the accumulator.
func (a *Accumulator) Add(amount float64) float64 {
	if !(amount > 0) || math.IsInf(amount, 0) {
		return 0
	}
	a.Remainder += amount
	whole := math.Floor(a.Remainder + wholeEpsilon)
	if whole <= 0 {
		return 0
	}
	a.Remainder -= whole
	if a.Remainder < 0 {
		a.Remainder = 0
	}
	return whole
}
