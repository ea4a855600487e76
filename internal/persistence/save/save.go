// Package save encodes engine state into a versioned, compressed blob and
// decodes every version ever written back into the current one.
//
// A blob is a zstd frame holding one JSON header line followed by the JSON
// body. Version 1 saves predate compression and are bare JSON objects.
package save

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

const CurrentVersion = 3

var (
	ErrCorruptSave     = errors.New("corrupt save")
	ErrVersionMismatch = errors.New("save version mismatch")
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

const maxDecodedSize = 16 << 20

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
)

type Header struct {
	Version int   `json:"version"`
	SavedAt int64 `json:"saved_at"`
}

// State is the current (v3) persisted shape.
type State struct {
	SchemaVersion        int              `json:"schema_version"`
	Balance              float64          `json:"balance"`
	LifetimeEarned       float64          `json:"lifetime_earned"`
	LifetimeSpent        float64          `json:"lifetime_spent"`
	UpgradesOwned        map[string]int   `json:"upgrades_owned"`
	StaffOwned           map[string]int   `json:"staff_owned"`
	AchievementsUnlocked map[string]int64 `json:"achievements_unlocked"`
	LastSavedAt          int64            `json:"last_saved_at"`
	Clicks               int64            `json:"clicks"`
	PassiveRemainder     float64          `json:"passive_remainder"`
}

func (s *State) normalize() {
	s.SchemaVersion = CurrentVersion
	if s.UpgradesOwned == nil {
		s.UpgradesOwned = map[string]int{}
	}
	if s.StaffOwned == nil {
		s.StaffOwned = map[string]int{}
	}
	if s.AchievementsUnlocked == nil {
		s.AchievementsUnlocked = map[string]int64{}
	}
}

// check enforces what the schema cannot express.
func (s State) check() error {
	for _, f := range []float64{s.Balance, s.LifetimeEarned, s.LifetimeSpent, s.PassiveRemainder} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite amount", ErrCorruptSave)
		}
	}
	if s.LifetimeSpent > s.LifetimeEarned {
		return fmt.Errorf("%w: lifetime_spent %.6g exceeds lifetime_earned %.6g", ErrCorruptSave, s.LifetimeSpent, s.LifetimeEarned)
	}
	want := s.LifetimeEarned - s.LifetimeSpent
	if math.Abs(s.Balance-want) > 1e-6*math.Max(1, s.LifetimeEarned) {
		return fmt.Errorf("%w: balance %.6g != lifetime_earned-lifetime_spent %.6g", ErrCorruptSave, s.Balance, want)
	}
	return nil
}

// Encode writes s as a current-version blob.
func Encode(s State) ([]byte, error) {
	s.normalize()
	if err := s.check(); err != nil {
		return nil, err
	}
	hb, err := json.Marshal(Header{Version: CurrentVersion, SavedAt: s.LastSavedAt})
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode save: %w", err)
	}
	raw := make([]byte, 0, len(hb)+1+len(body))
	raw = append(raw, hb...)
	raw = append(raw, '\n')
	raw = append(raw, body...)
	return encoder.EncodeAll(raw, nil), nil
}

// Peek returns the header of a blob without validating or migrating the body.
func Peek(blob []byte) (Header, error) {
	h, _, err := split(blob)
	return h, err
}

// Decode returns the current-version state stored in blob, migrating older
// versions forward. Malformed input fails with ErrCorruptSave; versions this
// build does not know fail with ErrVersionMismatch.
func Decode(blob []byte) (State, error) {
	h, body, err := split(blob)
	if err != nil {
		return State{}, err
	}
	if err := validate(h.Version, body); err != nil {
		return State{}, err
	}
	var s State
	switch h.Version {
	case 1:
		var v1 stateV1
		if err := unmarshal(body, &v1); err != nil {
			return State{}, err
		}
		s = migrateV2(migrateV1(v1))
	case 2:
		var v2 stateV2
		if err := unmarshal(body, &v2); err != nil {
			return State{}, err
		}
		s = migrateV2(v2)
	case 3:
		if err := unmarshal(body, &s); err != nil {
			return State{}, err
		}
	}
	s.normalize()
	if err := s.check(); err != nil {
		return State{}, err
	}
	return s, nil
}

func unmarshal(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSave, err)
	}
	return nil
}

// split separates a blob into its header and JSON body.
func split(blob []byte) (Header, []byte, error) {
	var h Header
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return h, nil, fmt.Errorf("%w: empty blob", ErrCorruptSave)
	}

	if !bytes.HasPrefix(blob, zstdMagic) {
		if trimmed[0] != '{' {
			return h, nil, fmt.Errorf("%w: unrecognized encoding", ErrCorruptSave)
		}
		var legacy struct {
			Version *int `json:"version"`
		}
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return h, nil, fmt.Errorf("%w: %v", ErrCorruptSave, err)
		}
		if legacy.Version == nil {
			return h, nil, fmt.Errorf("%w: missing version", ErrCorruptSave)
		}
		if *legacy.Version != 1 {
			return h, nil, fmt.Errorf("%w: uncompressed save with version %d", ErrCorruptSave, *legacy.Version)
		}
		h.Version = 1
		return h, trimmed, nil
	}

	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return h, nil, fmt.Errorf("%w: zstd: %v", ErrCorruptSave, err)
	}
	line, body, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return h, nil, fmt.Errorf("%w: missing header line", ErrCorruptSave)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, nil, fmt.Errorf("%w: header: %v", ErrCorruptSave, err)
	}
	switch {
	case h.Version > CurrentVersion:
		return h, nil, fmt.Errorf("%w: version %d is newer than %d", ErrVersionMismatch, h.Version, CurrentVersion)
	case h.Version < 2:
		// v1 was never compressed; a framed v1 (or v0) is not something we wrote.
		return h, nil, fmt.Errorf("%w: unknown framed version %d", ErrVersionMismatch, h.Version)
	}
	return h, body, nil
}
