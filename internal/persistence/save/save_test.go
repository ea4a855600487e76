package save

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, h Header, body string) []byte {
	t.Helper()
	hb, err := json.Marshal(h)
	require.NoError(t, err)
	return encoder.EncodeAll(append(append(hb, '\n'), body...), nil)
}

func sampleState() State {
	return State{
		SchemaVersion:        CurrentVersion,
		Balance:              140.5,
		LifetimeEarned:       1000.5,
		LifetimeSpent:        860,
		UpgradesOwned:        map[string]int{"sharp_knife": 3, "cucumber_maki": 1},
		StaffOwned:           map[string]int{"server": 2},
		AchievementsUnlocked: map[string]int64{"first_piece": 1_700_000_000},
		LastSavedAt:          1_700_000_123,
		Clicks:               412,
		PassiveRemainder:     0.25,
	}
}

func TestRoundTrip(t *testing.T) {
	in := sampleState()
	blob, err := Encode(in)
	require.NoError(t, err)

	h, err := Peek(blob)
	require.NoError(t, err)
	require.Equal(t, Header{Version: CurrentVersion, SavedAt: in.LastSavedAt}, h)

	out, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestRoundTripFreshState(t *testing.T) {
	blob, err := Encode(State{})
	require.NoError(t, err)
	out, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, out.SchemaVersion)
	require.NotNil(t, out.UpgradesOwned)
	require.NotNil(t, out.StaffOwned)
	require.NotNil(t, out.AchievementsUnlocked)
}

func TestDecodeLegacyV1(t *testing.T) {
	blob := []byte(`{"version":1,"sushi":40,"total_sushi":250,"upgrades":{"sharp_knife":2,"rolling_mat":0},"staff":{"server":1},"achievements":["first_piece","hundred_pieces"],"last_saved":1700000000999}`)
	out, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, 40.0, out.Balance)
	require.Equal(t, 250.0, out.LifetimeEarned)
	require.Equal(t, 210.0, out.LifetimeSpent)
	require.Equal(t, map[string]int{"sharp_knife": 2}, out.UpgradesOwned)
	require.Equal(t, map[string]int{"server": 1}, out.StaffOwned)
	require.Equal(t, int64(1_700_000_000), out.LastSavedAt)
	require.Equal(t, map[string]int64{"first_piece": 1_700_000_000, "hundred_pieces": 1_700_000_000}, out.AchievementsUnlocked)
}

func TestDecodeV2(t *testing.T) {
	body := `{"schema_version":2,"balance":5,"lifetime_earned":15,"lifetime_spent":10,"upgrades_owned":{"sharp_knife":1},"staff_owned":{},"achievements_unlocked":["first_piece"],"last_saved_at":1600000000}`
	out, err := Decode(frame(t, Header{Version: 2, SavedAt: 1_600_000_000}, body))
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, out.SchemaVersion)
	require.Equal(t, 5.0, out.Balance)
	require.Equal(t, map[string]int64{"first_piece": 1_600_000_000}, out.AchievementsUnlocked)
	require.Zero(t, out.Clicks)
	require.Zero(t, out.PassiveRemainder)

	// Re-encoding a migrated save yields a current-version blob.
	blob, err := Encode(out)
	require.NoError(t, err)
	h, err := Peek(blob)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, h.Version)
}

func TestDecodeVersionMismatch(t *testing.T) {
	_, err := Decode(frame(t, Header{Version: 99}, `{}`))
	require.True(t, errors.Is(err, ErrVersionMismatch), "got %v", err)

	_, err = Decode(frame(t, Header{Version: 0}, `{}`))
	require.True(t, errors.Is(err, ErrVersionMismatch), "got %v", err)
}

func TestDecodeCorrupt(t *testing.T) {
	good, err := Encode(sampleState())
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":          nil,
		"whitespace":     []byte("  \n"),
		"garbage":        []byte("not a save"),
		"truncated zstd": good[:len(good)/2],
		"bad json":       []byte(`{"version":1,`),
		"no version":     []byte(`{"sushi":1}`),
		"plain v3":       []byte(`{"version":3}`),
		"no header line": encoder.EncodeAll([]byte(`{"version":3}`), nil),
		"negative balance": frame(t, Header{Version: 3},
			`{"schema_version":3,"balance":-1,"lifetime_earned":0,"lifetime_spent":1,"upgrades_owned":{},"staff_owned":{},"achievements_unlocked":{},"last_saved_at":0,"clicks":0,"passive_remainder":0}`),
		"fractional count": frame(t, Header{Version: 3},
			`{"schema_version":3,"balance":0,"lifetime_earned":0,"lifetime_spent":0,"upgrades_owned":{"sharp_knife":1.5},"staff_owned":{},"achievements_unlocked":{},"last_saved_at":0,"clicks":0,"passive_remainder":0}`),
		"ledger drift": frame(t, Header{Version: 3},
			`{"schema_version":3,"balance":50,"lifetime_earned":10,"lifetime_spent":0,"upgrades_owned":{},"staff_owned":{},"achievements_unlocked":{},"last_saved_at":0,"clicks":0,"passive_remainder":0}`),
		"header body disagree": frame(t, Header{Version: 3},
			`{"schema_version":2,"balance":0,"lifetime_earned":0,"lifetime_spent":0,"upgrades_owned":{},"staff_owned":{},"achievements_unlocked":[],"last_saved_at":0}`),
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(blob)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrCorruptSave), "got %v", err)
		})
	}
}

func TestEncodeRejectsBrokenLedger(t *testing.T) {
	s := sampleState()
	s.LifetimeSpent = s.LifetimeEarned + 1
	_, err := Encode(s)
	require.True(t, errors.Is(err, ErrCorruptSave), "got %v", err)
}

func TestSchemasEmbedded(t *testing.T) {
	for v := 1; v <= CurrentVersion; v++ {
		raw, err := SchemaJSON(v)
		require.NoError(t, err)
		require.True(t, json.Valid(raw), "schema v%d is not valid JSON", v)
	}
	all, err := compileSchemas()
	require.NoError(t, err)
	require.Len(t, all, CurrentVersion)
}
