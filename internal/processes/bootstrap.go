package processes

import (
	"fmt"
	"sort"
	"strings"

	"colony.ai/internal/console"
	"colony.ai/internal/kernel"
	"colony.ai/internal/pool"
)

const BootstrapType = "bootstrap"

// Bootstrap launches one RoomKeeper per owned room. It remembers keepers by
// process id only and resolves them through the kernel every tick.
type Bootstrap struct {
	kernel.Identity

	Keepers        map[string]kernel.ProcessID
	KeeperWorkers  int
	KeeperPriority pool.Priority
}

type bootstrapState struct {
	Keepers        map[string]kernel.ProcessID `json:"k,omitempty"`
	KeeperWorkers  int                         `json:"w,omitempty"`
	KeeperPriority string                      `json:"pr,omitempty"`
}

func NewBootstrap(id kernel.ProcessID, launchTick uint64) *Bootstrap {
	return &Bootstrap{
		Identity:       kernel.Identity{ID: id, Launch: launchTick},
		Keepers:        map[string]kernel.ProcessID{},
		KeeperWorkers:  DefaultTargetWorkers,
		KeeperPriority: DefaultPriority,
	}
}

func decodeBootstrap(env kernel.Envelope) (kernel.Process, error) {
	var st bootstrapState
	if err := env.DecodePayload(&st); err != nil {
		return nil, err
	}
	b := NewBootstrap(env.ID, env.LaunchTick)
	for room, id := range st.Keepers {
		b.Keepers[room] = id
	}
	if st.KeeperWorkers > 0 {
		b.KeeperWorkers = st.KeeperWorkers
	}
	if st.KeeperPriority != "" {
		pr, err := pool.ParsePriority(st.KeeperPriority)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		b.KeeperPriority = pr
	}
	return b, nil
}

func launchBootstrap(id kernel.ProcessID, tick uint64, args map[string]string) (kernel.Process, error) {
	b := NewBootstrap(id, tick)
	cmd := console.Command{Args: args}
	if n, ok, err := cmd.Int("workers"); err != nil {
		return nil, err
	} else if ok && n > 0 {
		b.KeeperWorkers = n
	}
	if s, ok := args["priority"]; ok {
		pr, err := pool.ParsePriority(s)
		if err != nil {
			return nil, err
		}
		b.KeeperPriority = pr
	}
	return b, nil
}

func (b *Bootstrap) TypeTag() string { return BootstrapType }

func (b *Bootstrap) Encode() (kernel.Envelope, error) {
	return kernel.NewEnvelope(b, bootstrapState{
		Keepers:        b.Keepers,
		KeeperWorkers:  b.KeeperWorkers,
		KeeperPriority: b.KeeperPriority.String(),
	})
}

func (b *Bootstrap) ShortDescription() string {
	return fmt.Sprintf("%s rooms=%d", kernel.Label(BootstrapType), len(b.Keepers))
}

func (b *Bootstrap) RunOnTick(ctx *kernel.TickContext) {
	for _, room := range ctx.World.OwnedRooms() {
		if b.keeperAlive(ctx.Kernel, room) {
			continue
		}
		if p, ok := ctx.Kernel.FindProcess(keeperFor(room)); ok {
			b.Keepers[room] = p.ProcessID()
			continue
		}
		p, err := ctx.Kernel.AddProcess(b.ID, func(id kernel.ProcessID) kernel.Process {
			rk := NewRoomKeeper(id, ctx.Tick, room)
			rk.TargetWorkers = b.KeeperWorkers
			rk.Priority = b.KeeperPriority
			return rk
		})
		if err != nil {
			ctx.ProcessLog(b, "FATAL: launch keeper for %s: %v", room, err)
			continue
		}
		b.Keepers[room] = p.ProcessID()
		ctx.ProcessLog(b, "launched %s", kernel.Describe(p))
	}

	for room, id := range b.Keepers {
		if _, ok := ctx.Kernel.ProcessOf(id); !ok {
			delete(b.Keepers, room)
		}
	}
}

func (b *Bootstrap) keeperAlive(k *kernel.Kernel, room string) bool {
	id, ok := b.Keepers[room]
	if !ok {
		return false
	}
	p, ok := k.ProcessOf(id)
	return ok && keeperFor(room)(p)
}

func keeperFor(room string) func(kernel.Process) bool {
	return func(p kernel.Process) bool {
		rk, ok := p.(*RoomKeeper)
		return ok && rk.RoomName == room
	}
}

func (b *Bootstrap) DidReceiveMessage(message string) string {
	cmd, err := console.Parse(message)
	if err != nil {
		return err.Error()
	}
	switch cmd.Verb {
	case "status":
		rooms := make([]string, 0, len(b.Keepers))
		for room, id := range b.Keepers {
			rooms = append(rooms, fmt.Sprintf("%s=#%d", room, id))
		}
		sort.Strings(rooms)
		return fmt.Sprintf("%s keepers: %s", b.ShortDescription(), strings.Join(rooms, " "))
	default:
		return fmt.Sprintf("unknown command %q (status)", cmd.Verb)
	}
}

// Register binds every process type of this package into reg.
func Register(reg *kernel.Registry) error {
	for _, err := range []error{
		reg.Register(BootstrapType, decodeBootstrap),
		reg.Register(RoomKeeperType, decodeRoomKeeper),
		reg.RegisterLauncher(BootstrapType, launchBootstrap),
		reg.RegisterLauncher(RoomKeeperType, launchRoomKeeper),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
