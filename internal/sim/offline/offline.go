// Package offline converts time spent away from the game into a one-time credit.
package offline

import "math"

const (
	DefaultMaxSeconds = 8 * 60 * 60
	DefaultEfficiency = 0.5
)

type Config struct {
	MaxSeconds float64 `yaml:"max_offline_seconds" json:"max_offline_seconds"`
	Efficiency float64 `yaml:"offline_efficiency" json:"offline_efficiency"`
}

func DefaultConfig() Config {
	return Config{MaxSeconds: DefaultMaxSeconds, Efficiency: DefaultEfficiency}
}

// Report is what a resumed session is told about its absence.
type Report struct {
	Elapsed  float64 `json:"elapsed_seconds"`
	Away     float64 `json:"away_seconds"`
	Credited float64 `json:"credited"`
	Clamped  bool    `json:"clamped,omitempty"`
}

// CatchUp computes the credit for the window [lastSavedAt, now] (unix seconds).
// A clock that went backwards yields zero; absences longer than MaxSeconds
// are credited as exactly MaxSeconds.
func CatchUp(lastSavedAt, now int64, passivePerSecond float64, cfg Config) Report {
	away := float64(now - lastSavedAt)
	if away < 0 {
		away = 0
	}
	r := Report{Away: away, Elapsed: away}
	if cfg.MaxSeconds >= 0 && away > cfg.MaxSeconds {
		r.Elapsed = cfg.MaxSeconds
		r.Clamped = true
	}
	if passivePerSecond <= 0 || math.IsNaN(passivePerSecond) || math.IsInf(passivePerSecond, 0) {
		return r
	}
	eff := cfg.Efficiency
	if eff < 0 {
		eff = 0
	}
	r.Credited = r.Elapsed * passivePerSecond * eff
	return r
}
