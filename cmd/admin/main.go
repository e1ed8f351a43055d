package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"colony.ai/internal/kernel"
	persistlog "colony.ai/internal/persistence/log"
	"colony.ai/internal/persistence/snapshot"
	"colony.ai/internal/processes"
	"colony.ai/internal/replay"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	colonyID := fs.String("colony", "", "colony id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "colonies")
	if *colonyID != "" {
		base = filepath.Join(base, *colonyID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// rollbackCmd materializes the colony state at an earlier tick: it loads the
// newest snapshot at or before -to_tick and replays the tick log up to it.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	colonyID := fs.String("colony", "", "colony id")
	snapPath := fs.String("snapshot", "", "snapshot path to replay from (optional; defaults to newest at or before -to_tick)")
	toTick := fs.Uint64("to_tick", 0, "tick to roll back to (required)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*colonyID) == "" {
		fmt.Fprintln(os.Stderr, "missing -colony")
		os.Exit(2)
	}
	if *toTick == 0 {
		fmt.Fprintln(os.Stderr, "missing -to_tick")
		os.Exit(2)
	}

	colonyDir := filepath.Join(*dataDir, "colonies", *colonyID)
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" {
		snapshotToLoad, _ = replay.BestSnapshot(*toTick, filepath.Join(colonyDir, "snapshots"), filepath.Join(colonyDir, "archives"))
	}
	if snapshotToLoad == "" {
		fmt.Fprintf(os.Stderr, "no snapshot at or before tick %d; provide -snapshot\n", *toTick)
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(snapshotToLoad)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if snap.Header.Tick > *toTick {
		fmt.Fprintf(os.Stderr, "snapshot tick %d is after -to_tick %d\n", snap.Header.Tick, *toTick)
		os.Exit(2)
	}

	reg := kernel.NewRegistry(nil)
	if err := processes.Register(reg); err != nil {
		fmt.Fprintln(os.Stderr, "register:", err)
		os.Exit(1)
	}
	files, err := persistlog.ListFiles(filepath.Join(colonyDir, "ticks"), "ticks")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	res, err := replay.Run(reg, snap, files, replay.Options{ToTick: *toTick})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if res.LastTick != *toTick {
		fmt.Fprintf(os.Stderr, "tick log ends at tick %d, before -to_tick %d\n", res.LastTick, *toTick)
		os.Exit(1)
	}

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(colonyDir, "snapshots", fmt.Sprintf("%d.rollback.snap.zst", res.LastTick))
	}
	if err := snapshot.WriteSnapshot(*outPath, res.Final); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("rollback ok: snapshot=%s from=%d to=%d checked=%d processes=%d out=%s\n",
		filepath.Base(snapshotToLoad), snap.Header.Tick, res.LastTick, res.Checked, len(res.Final.Processes.Records), *outPath)
}
