package catalogs

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
)

//go:embed defaults/*.json
var defaultsFS embed.FS

// Effect channels.
const (
	ChannelClick   = "CLICK"
	ChannelPassive = "PASSIVE"
)

// Effect kinds.
const (
	EffectAdd  = "ADD"
	EffectMult = "MULT"
)

// Display categories.
const (
	CategoryKitchenTool = "KITCHEN_TOOL"
	CategoryRecipe      = "RECIPE"
	CategoryStation     = "STATION"
	CategoryEvent       = "EVENT"
)

// Achievement condition kinds.
const (
	CondLifetimeEarned = "LIFETIME_EARNED"
	CondLifetimeSpent  = "LIFETIME_SPENT"
	CondBalance        = "BALANCE"
	CondClicks         = "CLICKS"
	CondUpgradeOwned   = "UPGRADE_OWNED"
	CondStaffOwned     = "STAFF_OWNED"
	CondUpgradesTotal  = "UPGRADES_TOTAL"
	CondStaffTotal     = "STAFF_TOTAL"
	CondPassiveRate    = "PASSIVE_RATE"
	CondClickYield     = "CLICK_YIELD"
)

var ErrInvalidCatalog = errors.New("invalid catalog")

type Catalogs struct {
	Upgrades     UpgradeCatalog
	Staff        StaffCatalog
	Synergies    SynergyCatalog
	Achievements AchievementCatalog
}

type UpgradeCatalog struct {
	// Order is the definition order; prerequisites only point backwards in it.
	Order  []string
	ByID   map[string]UpgradeDef
	Digest string
}

type StaffCatalog struct {
	Order  []string
	ByID   map[string]StaffDef
	Digest string
}

type SynergyCatalog struct {
	ByTag  map[string][]SynergyDef
	Digest string
}

type AchievementCatalog struct {
	Order  []string
	ByID   map[string]AchievementDef
	Digest string
}

// Pricing is the purchase shape shared by upgrades and staff.
type Pricing struct {
	BaseCost   float64 `json:"base_cost"`
	CostGrowth float64 `json:"cost_growth"`
	MaxOwned   int     `json:"max_owned,omitempty"` // 0 = uncapped
}

type Effect struct {
	Channel string  `json:"channel"` // "CLICK","PASSIVE"
	Kind    string  `json:"kind"`    // "ADD","MULT"
	Value   float64 `json:"value"`
}

type UpgradeDef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Pricing
	Effect        Effect   `json:"effect"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Fact          string   `json:"fact,omitempty"`
}

type StaffDef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Pricing
	BasePerSecond float64  `json:"base_per_second"`
	SynergyTag    string   `json:"synergy_tag,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Fact          string   `json:"fact,omitempty"`
}

// SynergyDef scales staff sharing SynergyTag by 1 + count(UpgradeID)*PerUnit.
type SynergyDef struct {
	SynergyTag string  `json:"synergy_tag"`
	UpgradeID  string  `json:"upgrade_id"`
	PerUnit    float64 `json:"per_unit"`
}

type AchievementDef struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Condition   Condition `json:"condition"`
}

type Condition struct {
	Kind      string  `json:"kind"`
	Target    string  `json:"target,omitempty"`
	Threshold float64 `json:"threshold"`
}

// Load reads upgrades.json, staff.json, synergies.json and achievements.json from configDir.
func Load(configDir string) (*Catalogs, error) {
	return LoadFS(os.DirFS(configDir))
}

// Default returns the catalogs compiled into the binary.
func Default() *Catalogs {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		panic(err)
	}
	c, err := LoadFS(sub)
	if err != nil {
		panic(fmt.Sprintf("embedded catalogs: %v", err))
	}
	return c
}

func LoadFS(fsys fs.FS) (*Catalogs, error) {
	var c Catalogs
	if err := loadUpgrades(fsys, "upgrades.json", &c.Upgrades); err != nil {
		return nil, err
	}
	if err := loadStaff(fsys, "staff.json", &c.Staff, &c.Upgrades); err != nil {
		return nil, err
	}
	if err := loadSynergies(fsys, "synergies.json", &c.Synergies, &c.Upgrades); err != nil {
		return nil, err
	}
	if err := loadAchievements(fsys, "achievements.json", &c.Achievements, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Digest identifies the full catalog set (all file digests combined).
func (c *Catalogs) Digest() string {
	var b bytes.Buffer
	for _, d := range []string{c.Upgrades.Digest, c.Staff.Digest, c.Synergies.Digest, c.Achievements.Digest} {
		b.WriteString(d)
		b.WriteByte('\n')
	}
	return sha256Hex(b.Bytes())
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func invalid(file, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", file, fmt.Sprintf(format, args...), ErrInvalidCatalog)
}

func validatePricing(file, id string, p Pricing) error {
	if !(p.BaseCost > 0) {
		return invalid(file, "%s: base_cost must be > 0", id)
	}
	if !(p.CostGrowth > 1) {
		return invalid(file, "%s: cost_growth must be > 1", id)
	}
	if p.MaxOwned < 0 {
		return invalid(file, "%s: max_owned must be >= 0", id)
	}
	return nil
}

// validatePrereqs requires every prerequisite to be an upgrade defined before
// this entry, which rules out cycles.
func validatePrereqs(file, id string, prereqs []string, defined map[string]UpgradeDef) error {
	for _, p := range prereqs {
		if p == id {
			return invalid(file, "%s: prerequisite on itself", id)
		}
		if _, ok := defined[p]; !ok {
			return invalid(file, "%s: prerequisite %q is not a previously defined upgrade", id, p)
		}
	}
	return nil
}

func loadUpgrades(fsys fs.FS, name string, out *UpgradeCatalog) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []UpgradeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	out.ByID = make(map[string]UpgradeDef, len(defs))
	out.Order = make([]string, 0, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return invalid(name, "empty id")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return invalid(name, "duplicate id %q", d.ID)
		}
		if err := validatePricing(name, d.ID, d.Pricing); err != nil {
			return err
		}
		switch d.Effect.Channel {
		case ChannelClick, ChannelPassive:
		default:
			return invalid(name, "%s: unknown effect channel %q", d.ID, d.Effect.Channel)
		}
		switch d.Effect.Kind {
		case EffectAdd:
			if d.Effect.Value < 0 {
				return invalid(name, "%s: additive effect must be >= 0", d.ID)
			}
		case EffectMult:
			if !(d.Effect.Value > 0) {
				return invalid(name, "%s: multiplicative effect must be > 0", d.ID)
			}
		default:
			return invalid(name, "%s: unknown effect kind %q", d.ID, d.Effect.Kind)
		}
		if err := validatePrereqs(name, d.ID, d.Prerequisites, out.ByID); err != nil {
			return err
		}
		out.ByID[d.ID] = d
		out.Order = append(out.Order, d.ID)
	}
	return nil
}

func loadStaff(fsys fs.FS, name string, out *StaffCatalog, upgrades *UpgradeCatalog) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []StaffDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	out.ByID = make(map[string]StaffDef, len(defs))
	out.Order = make([]string, 0, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return invalid(name, "empty id")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return invalid(name, "duplicate id %q", d.ID)
		}
		if _, clash := upgrades.ByID[d.ID]; clash {
			return invalid(name, "id %q already used by an upgrade", d.ID)
		}
		if err := validatePricing(name, d.ID, d.Pricing); err != nil {
			return err
		}
		if d.BasePerSecond < 0 {
			return invalid(name, "%s: base_per_second must be >= 0", d.ID)
		}
		if err := validatePrereqs(name, d.ID, d.Prerequisites, upgrades.ByID); err != nil {
			return err
		}
		out.ByID[d.ID] = d
		out.Order = append(out.Order, d.ID)
	}
	return nil
}

func loadSynergies(fsys fs.FS, name string, out *SynergyCatalog, upgrades *UpgradeCatalog) error {
	out.ByTag = map[string][]SynergyDef{}
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		// Synergies are optional.
		if errors.Is(err, fs.ErrNotExist) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []SynergyDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, d := range defs {
		if d.SynergyTag == "" {
			return invalid(name, "empty synergy_tag")
		}
		if _, ok := upgrades.ByID[d.UpgradeID]; !ok {
			return invalid(name, "%s: unknown upgrade %q", d.SynergyTag, d.UpgradeID)
		}
		if d.PerUnit < 0 {
			return invalid(name, "%s/%s: per_unit must be >= 0", d.SynergyTag, d.UpgradeID)
		}
		out.ByTag[d.SynergyTag] = append(out.ByTag[d.SynergyTag], d)
	}
	for tag := range out.ByTag {
		defs := out.ByTag[tag]
		sort.SliceStable(defs, func(i, j int) bool { return defs[i].UpgradeID < defs[j].UpgradeID })
	}
	return nil
}

func loadAchievements(fsys fs.FS, name string, out *AchievementCatalog, c *Catalogs) error {
	out.ByID = map[string]AchievementDef{}
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []AchievementDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, d := range defs {
		if d.ID == "" {
			return invalid(name, "empty id")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return invalid(name, "duplicate id %q", d.ID)
		}
		cond := d.Condition
		switch cond.Kind {
		case CondLifetimeEarned, CondLifetimeSpent, CondBalance, CondClicks,
			CondUpgradesTotal, CondStaffTotal, CondPassiveRate, CondClickYield:
		case CondUpgradeOwned:
			if _, ok := c.Upgrades.ByID[cond.Target]; !ok {
				return invalid(name, "%s: unknown upgrade target %q", d.ID, cond.Target)
			}
		case CondStaffOwned:
			if _, ok := c.Staff.ByID[cond.Target]; !ok {
				return invalid(name, "%s: unknown staff target %q", d.ID, cond.Target)
			}
		default:
			return invalid(name, "%s: unknown condition kind %q", d.ID, cond.Kind)
		}
		out.ByID[d.ID] = d
		out.Order = append(out.Order, d.ID)
	}
	return nil
}
