package host

import (
	"fmt"

	"colony.ai/internal/kernel"
	"colony.ai/internal/persistence/snapshot"
	"colony.ai/internal/world"
)

// Launch names a top-level process created when a colony starts fresh.
type Launch struct {
	Type string
	Args map[string]string
}

// Fresh builds tick-0 memory: the given rooms and one process per launch, in
// order, through the registry's launchers.
func Fresh(reg *kernel.Registry, rooms []world.Room, launches ...Launch) (State, error) {
	k := kernel.New(nil)
	for _, l := range launches {
		fn, ok := reg.Launcher(l.Type)
		if !ok {
			return State{}, fmt.Errorf("fresh: type %q cannot be launched", l.Type)
		}
		var launchErr error
		_, err := k.AddProcess(kernel.NoParent, func(id kernel.ProcessID) kernel.Process {
			p, err := fn(id, 0, l.Args)
			if err != nil {
				launchErr = err
				return nil
			}
			return p
		})
		if launchErr != nil {
			return State{}, fmt.Errorf("fresh: launch %s: %w", l.Type, launchErr)
		}
		if err != nil {
			return State{}, fmt.Errorf("fresh: %w", err)
		}
	}
	return State{Processes: k.Encode(), World: world.New(rooms).Export()}, nil
}

func FromSnapshot(snap snapshot.SnapshotV1) State {
	return State{Tick: snap.Header.Tick, Processes: snap.Processes, World: snap.World}
}
