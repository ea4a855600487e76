package host

import (
	"sushiclicker.com/internal/protocol"
	"sushiclicker.com/internal/sim/engine"
	"sushiclicker.com/internal/sim/purchase"
)

func toStateMsg(seq uint64, snap engine.Snapshot, available []purchase.Quote) protocol.StateMsg {
	msg := protocol.StateMsg{
		Type:             protocol.TypeState,
		ProtocolVersion:  protocol.Version,
		Seq:              seq,
		Event:            string(snap.Event),
		Balance:          snap.Resource.Balance,
		LifetimeEarned:   snap.Resource.LifetimeEarned,
		LifetimeSpent:    snap.Resource.LifetimeSpent,
		ClickYield:       snap.Rates.ClickYield,
		PassivePerSecond: snap.Rates.PassivePerSecond,
		Clicks:           snap.Clicks,
		Upgrades:         snap.Upgrades,
		Staff:            snap.Staff,
		Achievements:     snap.Achievements,
		NewAchievements:  snap.NewAchievements,
	}
	if snap.Receipt != nil {
		msg.Unlocked = snap.Receipt.Unlocked
	}
	for _, q := range available {
		msg.Available = append(msg.Available, toQuote(q))
	}
	return msg
}

func toQuote(q purchase.Quote) protocol.Quote {
	return protocol.Quote{
		Kind:       string(q.Kind),
		ID:         q.ID,
		Owned:      q.Owned,
		Cost:       q.Cost,
		Affordable: q.Affordable,
		Capped:     q.Capped,
		Missing:    q.Missing,
	}
}
