package engine

import (
	"errors"
	"fmt"

	"sushiclicker.com/internal/sim/purchase"
)

type CommandKind string

const (
	CmdClick      CommandKind = "CLICK"
	CmdBuyUpgrade CommandKind = "BUY_UPGRADE"
	CmdBuyStaff   CommandKind = "BUY_STAFF"
	CmdTick       CommandKind = "TICK"
	CmdResume     CommandKind = "RESUME"
	CmdSave       CommandKind = "SAVE"
)

var ErrUnknownCommand = errors.New("unknown command")

// Command is one entry of the command stream. It is what the host journals
// and what replay feeds back in.
type Command struct {
	Kind CommandKind `json:"kind"`
	ID   string      `json:"id,omitempty"`
	DT   float64     `json:"dt,omitempty"`
	// Count repeats a CLICK; zero means once.
	Count int `json:"count,omitempty"`
}

// Apply executes c. Purchase refusals are returned as errors with the
// unchanged snapshot.
func (e *Engine) Apply(c Command) (Snapshot, error) {
	switch c.Kind {
	case CmdClick:
		n := c.Count
		if n <= 0 {
			n = 1
		}
		var snap Snapshot
		var fresh []string
		for i := 0; i < n; i++ {
			snap = e.Click()
			fresh = append(fresh, snap.NewAchievements...)
		}
		snap.NewAchievements = fresh
		return snap, nil
	case CmdBuyUpgrade:
		return e.purchase(purchase.KindUpgrade, c.ID)
	case CmdBuyStaff:
		return e.purchase(purchase.KindStaff, c.ID)
	case CmdTick:
		return e.Tick(c.DT), nil
	case CmdResume:
		rep := e.Resume()
		snap := e.Snapshot()
		snap.Event = EventResume
		snap.Offline = &rep
		return snap, nil
	case CmdSave:
		// Only the save timestamp matters here; the blob goes to the caller of Save.
		if _, err := e.Save(); err != nil {
			return e.Snapshot(), err
		}
		snap := e.Snapshot()
		snap.Event = EventSave
		return snap, nil
	default:
		return e.Snapshot(), fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
	}
}
