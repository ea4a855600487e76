package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"sushiclicker.com/internal/sim/ledger"
	"sushiclicker.com/internal/sim/offline"
	"sushiclicker.com/internal/sim/production"
	"sushiclicker.com/internal/sim/purchase"
)

// State is the whole mutable game state. Values handed out by the engine are
// deep copies.
type State struct {
	SchemaVersion    int              `json:"schema_version"`
	Resource         ledger.Resource  `json:"resource"`
	Upgrades         map[string]int   `json:"upgrades"`
	Staff            map[string]int   `json:"staff"`
	Achievements     map[string]int64 `json:"achievements"`
	Clicks           int64            `json:"clicks"`
	PassiveRemainder float64          `json:"passive_remainder"`
	LastSavedAt      int64            `json:"last_saved_at"`
}

func (s State) Clone() State {
	out := s
	out.Upgrades = make(map[string]int, len(s.Upgrades))
	for k, v := range s.Upgrades {
		out.Upgrades[k] = v
	}
	out.Staff = make(map[string]int, len(s.Staff))
	for k, v := range s.Staff {
		out.Staff[k] = v
	}
	out.Achievements = make(map[string]int64, len(s.Achievements))
	for k, v := range s.Achievements {
		out.Achievements[k] = v
	}
	return out
}

// Event names what produced a snapshot.
type Event string

const (
	EventClick    Event = "CLICK"
	EventPurchase Event = "PURCHASE"
	EventTick     Event = "TICK"
	EventResume   Event = "RESUME"
	EventLoad     Event = "LOAD"
	EventSave     Event = "SAVE"
)

// Snapshot is the read-only view published after each command.
type Snapshot struct {
	State
	Rates production.Rates `json:"rates"`

	Event           Event             `json:"event,omitempty"`
	NewAchievements []string          `json:"new_achievements,omitempty"`
	Receipt         *purchase.Receipt `json:"receipt,omitempty"`
	Offline         *offline.Report   `json:"offline,omitempty"`
}

// Digest is the sha256 of the canonical JSON encoding of s. Map keys are
// emitted sorted, so equal states always hash equal.
func (s State) Digest() string {
	b, _ := json.Marshal(s)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
