// Package staff models passive producers: per-unit output scaled by synergy
// multipliers keyed to owned upgrades.
package staff

import "sushiclicker.com/internal/sim/catalogs"

// Index resolves synergies by tag in O(1).
type Index struct {
	byTag map[string][]catalogs.SynergyDef
}

func NewIndex(c *catalogs.Catalogs) *Index {
	idx := &Index{byTag: map[string][]catalogs.SynergyDef{}}
	if c == nil {
		return idx
	}
	for tag, defs := range c.Synergies.ByTag {
		idx.byTag[tag] = append([]catalogs.SynergyDef(nil), defs...)
	}
	return idx
}

// Multiplier returns 1 + Σ count(upgrade)*per_unit over the synergies of tag.
func (x *Index) Multiplier(tag string, upgrades map[string]int) float64 {
	m := 1.0
	if x == nil || tag == "" {
		return m
	}
	for _, s := range x.byTag[tag] {
		if n := upgrades[s.UpgradeID]; n > 0 {
			m += float64(n) * s.PerUnit
		}
	}
	return m
}

// PerSecond is the output of count units of def given the owned upgrades.
func (x *Index) PerSecond(def catalogs.StaffDef, count int, upgrades map[string]int) float64 {
	if count <= 0 {
		return 0
	}
	return float64(count) * def.BasePerSecond * x.Multiplier(def.SynergyTag, upgrades)
}

// Partners lists the upgrades that boost staff of the given tag.
func (x *Index) Partners(tag string) []string {
	if x == nil {
		return nil
	}
	defs := x.byTag[tag]
	out := make([]string, 0, len(defs))
	for _, s := range defs {
		out = append(out, s.UpgradeID)
	}
	return out
}
