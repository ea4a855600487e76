package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ClientName      string     `json:"client_name"`
	Slot            string     `json:"slot"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Slot            string         `json:"slot"`
	Params          GameParams     `json:"params"`
	Catalogs        CatalogDigests `json:"catalogs"`
	Offline         *OfflineReport `json:"offline,omitempty"`
	// Warning is set when the stored save could not be used and the session
	// started from a fresh state.
	Warning string `json:"warning,omitempty"`
}

type GameParams struct {
	TickRateHz           int     `json:"tick_rate_hz"`
	AutosaveEverySeconds int     `json:"autosave_every_seconds"`
	MaxOfflineSeconds    float64 `json:"max_offline_seconds"`
	OfflineEfficiency    float64 `json:"offline_efficiency"`
}

type CatalogDigests struct {
	Digest             string `json:"digest"`
	UpgradesDigest     string `json:"upgrades_digest"`
	StaffDigest        string `json:"staff_digest"`
	SynergiesDigest    string `json:"synergies_digest"`
	AchievementsDigest string `json:"achievements_digest"`
	TuningDigest       string `json:"tuning_digest,omitempty"`
}

type OfflineReport struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	AwaySeconds    float64 `json:"away_seconds"`
	Credited       float64 `json:"credited"`
	Clamped        bool    `json:"clamped,omitempty"`
}

// CATALOG (server -> client): one catalog, sent whole.
type CatalogMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	Digest          string `json:"digest"`
	Data            any    `json:"data"`
}

// Command kinds a client may send. Ticking is driven by the server.
const (
	CmdClick      = "CLICK"
	CmdBuyUpgrade = "BUY_UPGRADE"
	CmdBuyStaff   = "BUY_STAFF"
	CmdQuote      = "QUOTE"
	CmdSave       = "SAVE"
)

// MaxClickCount is the largest CLICK batch cmd.schema.json accepts.
const MaxClickCount = 100

// CMD (client -> server)
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Kind            string `json:"kind"`
	ID              string `json:"id,omitempty"`
	Count           int    `json:"count,omitempty"`
}

// ACK (server -> client): the outcome of one CMD.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Quote           *Quote `json:"quote,omitempty"`
	Fact            string `json:"fact,omitempty"`
}

type Quote struct {
	Kind       string   `json:"kind"`
	ID         string   `json:"id"`
	Owned      int      `json:"owned"`
	Cost       float64  `json:"cost"`
	Affordable bool     `json:"affordable"`
	Capped     bool     `json:"capped,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

// STATE (server -> client): the snapshot after a change.
type StateMsg struct {
	Type             string           `json:"type"`
	ProtocolVersion  string           `json:"protocol_version"`
	Seq              uint64           `json:"seq"`
	Event            string           `json:"event"`
	Balance          float64          `json:"balance"`
	LifetimeEarned   float64          `json:"lifetime_earned"`
	LifetimeSpent    float64          `json:"lifetime_spent"`
	ClickYield       float64          `json:"click_yield"`
	PassivePerSecond float64          `json:"passive_per_second"`
	Clicks           int64            `json:"clicks"`
	Upgrades         map[string]int   `json:"upgrades"`
	Staff            map[string]int   `json:"staff"`
	Achievements     map[string]int64 `json:"achievements"`
	NewAchievements  []string         `json:"new_achievements,omitempty"`
	Unlocked         []string         `json:"unlocked,omitempty"`
	Available        []Quote          `json:"available,omitempty"`
}
