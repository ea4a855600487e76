package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"

	"sushiclicker.com/internal/persistence/indexdb"
)

func openIndex(dataDir, dbPath string) (*indexdb.SQLiteIndex, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "index", "sushi.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return indexdb.OpenSQLite(path)
}

func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	slot := fs.String("slot", "default", "save slot")
	limit := fs.Int("limit", 20, "result limit (0 = all)")
	asCSV := fs.Bool("csv", false, "write CSV to stdout")
	_ = fs.Parse(args)

	idx, err := openIndex(*dataDir, *dbPath)
	if err != nil {
		fail(1, "open:", err)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := idx.History(ctx, *slot, *limit)
	if err != nil {
		fail(1, "query:", err)
	}
	if *asCSV {
		if err := writeHistoryCSV(os.Stdout, rows); err != nil {
			fail(1, "csv:", err)
		}
		return
	}
	for _, r := range rows {
		fmt.Printf("%s  balance=%s earned=%s click=%g passive=%g/s upgrades=%d staff=%d achievements=%d\n",
			time.Unix(r.SavedAt, 0).UTC().Format(time.RFC3339),
			humanize.Commaf(r.Balance), humanize.Commaf(r.LifetimeEarned),
			r.ClickYield, r.PassivePerSecond, r.Upgrades, r.Staff, r.Achievements)
	}
}

func writeHistoryCSV(w io.Writer, rows []indexdb.HistoryRow) error {
	if rows == nil {
		rows = []indexdb.HistoryRow{}
	}
	return gocsv.Marshal(rows, w)
}

func sessionsCmd(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	slot := fs.String("slot", "default", "save slot")
	_ = fs.Parse(args)

	idx, err := openIndex(*dataDir, *dbPath)
	if err != nil {
		fail(1, "open:", err)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := idx.Sessions(ctx, *slot)
	if err != nil {
		fail(1, "query:", err)
	}
	for _, r := range rows {
		dur := "live"
		if r.EndedAt > 0 {
			dur = (time.Duration(r.EndedAt-r.StartedAt) * time.Second).String()
		}
		recovered := ""
		if r.Recovered {
			recovered = " recovered"
		}
		fmt.Printf("%s  %s  %s  offline=%s credited=%s%s\n",
			r.SessionID, time.Unix(r.StartedAt, 0).UTC().Format(time.RFC3339), dur,
			time.Duration(r.OfflineSeconds*float64(time.Second)).String(), humanize.Commaf(r.OfflineCredited), recovered)
	}
}
