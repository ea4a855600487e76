package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"sushiclicker.com/internal/persistence/archive"
	"sushiclicker.com/internal/persistence/save"
	"sushiclicker.com/internal/persistence/store"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "migrate":
			migrateCmd(os.Args[2:])
			return
		case "validate":
			validateCmd(os.Args[2:])
			return
		case "history":
			historyCmd(os.Args[2:])
			return
		case "sessions":
			sessionsCmd(os.Args[2:])
			return
		case "quarantine":
			quarantineCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	slotsCmd(os.Args[1:])
}

func fail(code int, a ...any) {
	fmt.Fprintln(os.Stderr, a...)
	os.Exit(code)
}

// slotsCmd lists the save files under <data>/saves.
func slotsCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	if err := listSlots(os.Stdout, filepath.Join(*dataDir, "saves"), time.Now()); err != nil {
		fail(1, "list:", err)
	}
}

func listSlots(w io.Writer, dir string, now time.Time) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.save"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, p := range matches {
		slot := strings.TrimSuffix(filepath.Base(p), ".save")
		fi, err := os.Stat(p)
		if err != nil {
			return err
		}
		blob, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		h, err := save.Peek(blob)
		if err != nil {
			fmt.Fprintf(w, "%-24s %8s  unreadable: %v\n", slot, humanize.Bytes(uint64(fi.Size())), err)
			continue
		}
		saved := "never"
		if h.SavedAt > 0 {
			saved = humanize.RelTime(time.Unix(h.SavedAt, 0), now, "ago", "from now")
		}
		fmt.Fprintf(w, "%-24s %8s  v%d  saved %s\n", slot, humanize.Bytes(uint64(fi.Size())), h.Version, saved)
	}
	return nil
}

// readBlob returns the blob named by -file, or the slot's file under -data.
func readBlob(dataDir, slot, file string) ([]byte, error) {
	if file != "" {
		return os.ReadFile(file)
	}
	fs, err := store.NewFileStore(filepath.Join(dataDir, "saves"))
	if err != nil {
		return nil, err
	}
	return fs.Get(context.Background(), slot)
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	slot := fs.String("slot", "default", "save slot")
	file := fs.String("file", "", "save file path (overrides -slot)")
	raw := fs.Bool("json", false, "print the decoded state as JSON")
	_ = fs.Parse(args)

	blob, err := readBlob(*dataDir, *slot, *file)
	if err != nil {
		fail(1, "read:", err)
	}
	st, err := save.Decode(blob)
	if err != nil {
		fail(1, "decode:", err)
	}
	if *raw {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(st)
		return
	}
	printState(os.Stdout, st)
}

func printState(w io.Writer, st save.State) {
	fmt.Fprintf(w, "schema_version  %d\n", st.SchemaVersion)
	fmt.Fprintf(w, "balance         %s\n", humanize.Commaf(st.Balance))
	fmt.Fprintf(w, "lifetime_earned %s\n", humanize.Commaf(st.LifetimeEarned))
	fmt.Fprintf(w, "lifetime_spent  %s\n", humanize.Commaf(st.LifetimeSpent))
	fmt.Fprintf(w, "clicks          %s\n", humanize.Comma(st.Clicks))
	if st.LastSavedAt > 0 {
		fmt.Fprintf(w, "last_saved_at   %s\n", time.Unix(st.LastSavedAt, 0).UTC().Format(time.RFC3339))
	}
	printCounts(w, "upgrades", st.UpgradesOwned)
	printCounts(w, "staff", st.StaffOwned)
	ids := make([]string, 0, len(st.AchievementsUnlocked))
	for id := range st.AchievementsUnlocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(w, "achievements    %d\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(w, "  %-22s %s\n", id, time.Unix(st.AchievementsUnlocked[id], 0).UTC().Format(time.RFC3339))
	}
}

func printCounts(w io.Writer, title string, m map[string]int) {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(w, "%-15s %d\n", title, len(ids))
	for _, id := range ids {
		fmt.Fprintf(w, "  %-22s x%d\n", id, m[id])
	}
}

// migrateCmd rewrites a save of any supported version as the current version.
func migrateCmd(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	in := fs.String("file", "", "input save file (required)")
	out := fs.String("out", "", "output path (default: overwrite input)")
	_ = fs.Parse(args)

	if *in == "" {
		fail(2, "missing -file")
	}
	blob, err := os.ReadFile(*in)
	if err != nil {
		fail(1, "read:", err)
	}
	migrated, from, err := migrateBlob(blob)
	if err != nil {
		fail(1, "migrate:", err)
	}
	dst := *out
	if dst == "" {
		dst = *in
	}
	if err := os.WriteFile(dst, migrated, 0o644); err != nil {
		fail(1, "write:", err)
	}
	fmt.Printf("migrated v%d -> v%d: %s\n", from, save.CurrentVersion, dst)
}

func migrateBlob(blob []byte) ([]byte, int, error) {
	h, err := save.Peek(blob)
	if err != nil {
		return nil, 0, err
	}
	st, err := save.Decode(blob)
	if err != nil {
		return nil, h.Version, err
	}
	out, err := save.Encode(st)
	return out, h.Version, err
}

func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	slot := fs.String("slot", "default", "save slot")
	file := fs.String("file", "", "save file path (overrides -slot)")
	_ = fs.Parse(args)

	blob, err := readBlob(*dataDir, *slot, *file)
	if err != nil {
		fail(1, "read:", err)
	}
	if err := validateBlob(blob); err != nil {
		fail(1, "invalid:", err)
	}
	fmt.Println("ok")
}

func validateBlob(blob []byte) error {
	_, err := save.Decode(blob)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, save.ErrVersionMismatch):
		return fmt.Errorf("unsupported version: %w", err)
	default:
		return err
	}
}

func quarantineCmd(args []string) {
	fs := flag.NewFlagSet("quarantine", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	metas, err := archive.List(*dataDir)
	if err != nil {
		fail(1, "list:", err)
	}
	if len(metas) == 0 {
		fmt.Println("no quarantined saves")
		return
	}
	for _, m := range metas {
		fmt.Printf("%s  slot=%s kind=%s size=%s  %s\n", m.CreatedAt, m.Slot, m.Kind, humanize.Bytes(uint64(m.Size)), m.Reason)
	}
}
