package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	plog "sushiclicker.com/internal/persistence/log"
	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		slot       = flag.String("slot", "default", "save slot to replay")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		session    = flag.String("session", "", "only replay this session id (optional)")
	)
	flag.Parse()

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := *tuningPath
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	files, err := plog.Files(filepath.Join(*dataDir, "slots", *slot))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files for slot", *slot)
		os.Exit(1)
	}

	r := newReplayer(cats, tune, *session)
	for _, path := range files {
		if err := plog.ReadJournal(path, r.step); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: slot=%s sessions=%d commands=%d last_digest=%s\n", *slot, r.sessions, r.commands, r.lastDigest)
}
