// Package replay re-runs a colony from a snapshot through its tick log. The
// host is deterministic given its memory and the commands of each tick, so a
// replay must reproduce every recorded digest.
package replay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"colony.ai/internal/host"
	"colony.ai/internal/kernel"
	persistlog "colony.ai/internal/persistence/log"
	"colony.ai/internal/persistence/snapshot"
)

type Options struct {
	// VerifyFrom is the first tick whose digest is checked; 0 means the first
	// tick after the snapshot.
	VerifyFrom uint64
	// ToTick stops the replay after this tick; 0 means the end of the log.
	ToTick uint64
}

type Result struct {
	Checked  uint64
	LastTick uint64
	// Final is the colony state after the last replayed tick.
	Final snapshot.SnapshotV1
}

var errStop = errors.New("stop")

// Run replays every logged tick after snap, feeding each tick the commands it
// originally received, and compares memory digests and console replies.
func Run(reg *kernel.Registry, snap snapshot.SnapshotV1, files []string, opts Options) (Result, error) {
	h, err := host.New(host.Config{ColonyID: snap.Header.ColonyID, TickRateHz: snap.TickRateHz}, reg, host.FromSnapshot(snap), nil)
	if err != nil {
		return Result{}, err
	}
	startTick := snap.Header.Tick
	verifyFrom := opts.VerifyFrom
	if verifyFrom == 0 {
		verifyFrom = startTick + 1
	}

	res := Result{LastTick: startTick}
	for _, path := range files {
		err := persistlog.ReadTicks(path, func(entry host.TickLogEntry) error {
			if entry.Tick <= startTick {
				return nil
			}
			if opts.ToTick != 0 && entry.Tick > opts.ToTick {
				return errStop
			}
			if want := h.CurrentTick() + 1; entry.Tick != want {
				return fmt.Errorf("tick gap: want=%d got=%d (file=%s)", want, entry.Tick, filepath.Base(path))
			}

			cmds := make([]host.Command, 0, len(entry.Commands))
			for _, c := range entry.Commands {
				cmds = append(cmds, host.Command{Line: c.Line})
			}
			got, err := h.Step(cmds)
			if err != nil {
				return fmt.Errorf("tick %d: %w", entry.Tick, err)
			}
			res.LastTick = got.Tick
			if got.Tick < verifyFrom {
				return nil
			}
			res.Checked++
			if got.Digest != entry.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", got.Tick, got.Digest, entry.Digest)
			}
			for i, c := range got.Commands {
				if c.Reply != entry.Commands[i].Reply {
					return fmt.Errorf("tick %d: reply to %q differs:\n got: %s\nwant: %s",
						got.Tick, c.Line, strings.TrimSpace(c.Reply), strings.TrimSpace(entry.Commands[i].Reply))
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return res, err
		}
	}

	final, err := h.Snapshot()
	if err != nil {
		return res, err
	}
	res.Final = final
	return res, nil
}

// BestSnapshot returns the newest `<tick>.snap.zst` at or before tick found
// directly in any of dirs or one level below them (epoch archives). tick 0
// means no upper bound.
func BestSnapshot(tick uint64, dirs ...string) (string, uint64) {
	var best string
	var bestTick uint64
	consider := func(dir string, name string) {
		if !strings.HasSuffix(name, ".snap.zst") {
			return
		}
		t, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil || (tick != 0 && t > tick) {
			return
		}
		if best == "" || t > bestTick {
			best, bestTick = filepath.Join(dir, name), t
		}
	}
	for _, dir := range dirs {
		ents, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range ents {
			if !e.IsDir() {
				consider(dir, e.Name())
				continue
			}
			sub := filepath.Join(dir, e.Name())
			subEnts, err := os.ReadDir(sub)
			if err != nil {
				continue
			}
			for _, se := range subEnts {
				if !se.IsDir() {
					consider(sub, se.Name())
				}
			}
		}
	}
	return best, bestTick
}
