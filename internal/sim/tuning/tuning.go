package tuning

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sushiclicker.com/internal/sim/offline"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var ErrInvalidTuning = errors.New("invalid tuning")

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	BaseClickYield float64 `yaml:"base_click_yield"`

	TickRateHz           int `yaml:"tick_rate_hz"`
	AutosaveEverySeconds int `yaml:"autosave_every_seconds"`

	Offline offline.Config `yaml:"offline"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	ClicksPerSecond    int `yaml:"clicks_per_second"`
	PurchasesPerSecond int `yaml:"purchases_per_second"`
}

// Defaults returns the tuning shipped with the binary.
func Defaults() Tuning {
	var t Tuning
	if err := yaml.Unmarshal(defaultsYAML, &t); err != nil {
		panic(fmt.Sprintf("embedded tuning: %v", err))
	}
	return t
}

// Load overlays the file at path on top of Defaults. Keys absent from the
// file keep their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.BaseClickYield <= 0:
		return fmt.Errorf("base_click_yield must be > 0: %w", ErrInvalidTuning)
	case t.TickRateHz <= 0 || t.TickRateHz > 120:
		return fmt.Errorf("tick_rate_hz %d out of range (1..120): %w", t.TickRateHz, ErrInvalidTuning)
	case t.AutosaveEverySeconds < 0:
		return fmt.Errorf("autosave_every_seconds must be >= 0: %w", ErrInvalidTuning)
	case t.Offline.MaxSeconds < 0:
		return fmt.Errorf("offline.max_offline_seconds must be >= 0: %w", ErrInvalidTuning)
	case !(t.Offline.Efficiency >= 0 && t.Offline.Efficiency < 1):
		return fmt.Errorf("offline.offline_efficiency must be in [0,1): %w", ErrInvalidTuning)
	case t.RateLimits.ClicksPerSecond < 0 || t.RateLimits.PurchasesPerSecond < 0:
		return fmt.Errorf("rate_limits must be >= 0: %w", ErrInvalidTuning)
	}
	return nil
}
