package main

import (
	"flag"
	"fmt"
	"os"

	"colony.ai/internal/kernel"
	persistlog "colony.ai/internal/persistence/log"
	"colony.ai/internal/persistence/snapshot"
	"colony.ai/internal/processes"
	"colony.ai/internal/replay"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		ticksDir = flag.String("ticks", "", "dir containing ticks-*.jsonl.zst (optional)")
		fromTick = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick   = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	running := 0
	types := map[string]int{}
	for _, r := range snap.Processes.Records {
		if r.Running {
			running++
		}
		types[r.Envelope.Type]++
	}
	fmt.Printf("snapshot v%d colony=%s tick=%d processes=%d running=%d next_id=%d rooms=%d workers=%d types=%v\n",
		snap.Header.Version, snap.Header.ColonyID, snap.Header.Tick,
		len(snap.Processes.Records), running, snap.Processes.NextID,
		len(snap.World.Rooms), len(snap.World.Workers), types)

	if *ticksDir == "" {
		return
	}

	reg := kernel.NewRegistry(nil)
	if err := processes.Register(reg); err != nil {
		fmt.Fprintln(os.Stderr, "register:", err)
		os.Exit(1)
	}
	files, err := persistlog.ListFiles(*ticksDir, "ticks")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick files found in", *ticksDir)
		os.Exit(1)
	}

	res, err := replay.Run(reg, snap, files, replay.Options{VerifyFrom: *fromTick, ToTick: *toTick})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (from snapshot tick=%d to tick=%d)\n", res.Checked, snap.Header.Tick, res.LastTick)
}
