package main

import (
	"fmt"
	"time"

	plog "sushiclicker.com/internal/persistence/log"
	"sushiclicker.com/internal/protocol"
	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/clock"
	"sushiclicker.com/internal/sim/engine"
	"sushiclicker.com/internal/sim/tuning"
)

// replayer re-applies journaled commands session by session and checks every
// digest against the one the host recorded.
type replayer struct {
	cats *catalogs.Catalogs
	tune tuning.Tuning
	only string

	eng     *engine.Engine
	clk     *clock.Manual
	current string

	sessions   int
	commands   int
	lastDigest string
}

func newReplayer(cats *catalogs.Catalogs, tune tuning.Tuning, only string) *replayer {
	return &replayer{cats: cats, tune: tune, only: only}
}

func (r *replayer) step(e plog.JournalEntry) error {
	if r.only != "" && e.SessionID != r.only {
		return nil
	}
	at := time.Unix(e.At, 0)

	if e.IsBase() {
		r.clk = clock.NewManual(at)
		eng, err := engine.New(engine.Config{Catalogs: r.cats, Tuning: r.tune, Clock: r.clk})
		if err != nil {
			return err
		}
		if err := eng.Restore(*e.Base); err != nil {
			return fmt.Errorf("session %s: restore base: %w", e.SessionID, err)
		}
		r.eng = eng
		r.current = e.SessionID
		r.sessions++
		return r.check(e, "")
	}

	if r.eng == nil || e.SessionID != r.current {
		return fmt.Errorf("seq %d: session %s has no base entry", e.Seq, e.SessionID)
	}
	r.clk.Set(at)
	_, err := r.eng.Apply(e.Cmd)
	r.commands++
	return r.check(e, protocol.CodeFor(err))
}

func (r *replayer) check(e plog.JournalEntry, code string) error {
	if code != e.Code {
		return fmt.Errorf("session %s seq %d %s: result code %q, journal has %q", e.SessionID, e.Seq, e.Cmd.Kind, code, e.Code)
	}
	got := r.eng.Digest()
	if got != e.Digest {
		return fmt.Errorf("session %s seq %d %s: digest mismatch: got=%s want=%s", e.SessionID, e.Seq, e.Cmd.Kind, got, e.Digest)
	}
	r.lastDigest = got
	return nil
}
