package save

import "math"

// stateV1 is the original browser save: balance as "sushi", only a running
// total kept, and the timestamp in milliseconds.
type stateV1 struct {
	Version      int            `json:"version"`
	Sushi        float64        `json:"sushi"`
	TotalSushi   float64        `json:"total_sushi"`
	Upgrades     map[string]int `json:"upgrades"`
	Staff        map[string]int `json:"staff"`
	Achievements []string       `json:"achievements"`
	LastSavedMs  int64          `json:"last_saved"`
}

// stateV2 introduced the ledger fields; achievements were a plain set.
type stateV2 struct {
	SchemaVersion        int            `json:"schema_version"`
	Balance              float64        `json:"balance"`
	LifetimeEarned       float64        `json:"lifetime_earned"`
	LifetimeSpent        float64        `json:"lifetime_spent"`
	UpgradesOwned        map[string]int `json:"upgrades_owned"`
	StaffOwned           map[string]int `json:"staff_owned"`
	AchievementsUnlocked []string       `json:"achievements_unlocked"`
	LastSavedAt          int64          `json:"last_saved_at"`
}

// migrateV1 derives lifetime_spent from the running total. A total below the
// balance is taken as the balance, so nothing was ever spent.
func migrateV1(v stateV1) stateV2 {
	earned := math.Max(v.TotalSushi, v.Sushi)
	return stateV2{
		SchemaVersion:        2,
		Balance:              v.Sushi,
		LifetimeEarned:       earned,
		LifetimeSpent:        earned - v.Sushi,
		UpgradesOwned:        copyCounts(v.Upgrades),
		StaffOwned:           copyCounts(v.Staff),
		AchievementsUnlocked: append([]string(nil), v.Achievements...),
		LastSavedAt:          v.LastSavedMs / 1000,
	}
}

// migrateV2 stamps set-style achievements with the save time, the best
// available lower bound on when they unlocked.
func migrateV2(v stateV2) State {
	unlocked := make(map[string]int64, len(v.AchievementsUnlocked))
	for _, id := range v.AchievementsUnlocked {
		unlocked[id] = v.LastSavedAt
	}
	return State{
		SchemaVersion:        3,
		Balance:              v.Balance,
		LifetimeEarned:       v.LifetimeEarned,
		LifetimeSpent:        v.LifetimeSpent,
		UpgradesOwned:        copyCounts(v.UpgradesOwned),
		StaffOwned:           copyCounts(v.StaffOwned),
		AchievementsUnlocked: unlocked,
		LastSavedAt:          v.LastSavedAt,
	}
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, n := range m {
		if n > 0 {
			out[k] = n
		}
	}
	return out
}
