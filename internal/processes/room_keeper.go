package processes

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"colony.ai/internal/codename"
	"colony.ai/internal/console"
	"colony.ai/internal/kernel"
	"colony.ai/internal/pool"
	"colony.ai/internal/task"
	"colony.ai/internal/world"
)

const RoomKeeperType = "room_keeper"

const (
	DefaultTargetWorkers = 2
	DefaultPriority      = pool.PriorityMedium

	maxStopReasons = 10
	fleeRange      = 4
)

var workerBody = []string{"work", "carry", "move"}

// RoomKeeper keeps a room's harvesters alive and busy: it requests spawns up
// to TargetWorkers and hands idle harvesters a flee-guarded harvest loop.
type RoomKeeper struct {
	kernel.Identity

	RoomName      string
	TargetWorkers int
	Priority      pool.Priority
	Stopped       bool
	StopReasons   []string
}

type roomKeeperState struct {
	Room          string   `json:"r"`
	TargetWorkers int      `json:"w,omitempty"`
	Priority      string   `json:"pr,omitempty"`
	Stopped       bool     `json:"s,omitempty"`
	StopReasons   []string `json:"sr,omitempty"`
}

func NewRoomKeeper(id kernel.ProcessID, launchTick uint64, room string) *RoomKeeper {
	return &RoomKeeper{
		Identity:      kernel.Identity{ID: id, Launch: launchTick},
		RoomName:      room,
		TargetWorkers: DefaultTargetWorkers,
		Priority:      DefaultPriority,
	}
}

func decodeRoomKeeper(env kernel.Envelope) (kernel.Process, error) {
	var st roomKeeperState
	if err := env.DecodePayload(&st); err != nil {
		return nil, err
	}
	if st.Room == "" {
		return nil, fmt.Errorf("room_keeper: missing room")
	}
	p := NewRoomKeeper(env.ID, env.LaunchTick, st.Room)
	// Envelopes written before workers/priority were persisted get defaults.
	if st.TargetWorkers > 0 {
		p.TargetWorkers = st.TargetWorkers
	}
	if st.Priority != "" {
		pr, err := pool.ParsePriority(st.Priority)
		if err != nil {
			return nil, fmt.Errorf("room_keeper: %w", err)
		}
		p.Priority = pr
	}
	p.Stopped = st.Stopped
	p.StopReasons = st.StopReasons
	return p, nil
}

func launchRoomKeeper(id kernel.ProcessID, tick uint64, args map[string]string) (kernel.Process, error) {
	room := strings.TrimSpace(args["room"])
	if room == "" {
		return nil, errors.New(console.MissingArgument("room"))
	}
	p := NewRoomKeeper(id, tick, room)
	if err := p.configure(args); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RoomKeeper) TypeTag() string { return RoomKeeperType }

func (p *RoomKeeper) Encode() (kernel.Envelope, error) {
	return kernel.NewEnvelope(p, roomKeeperState{
		Room:          p.RoomName,
		TargetWorkers: p.TargetWorkers,
		Priority:      p.Priority.String(),
		Stopped:       p.Stopped,
		StopReasons:   p.StopReasons,
	})
}

// TaskIdentifier tags this keeper's spawn and assignment requests and the
// workers they produce.
func (p *RoomKeeper) TaskIdentifier() string {
	return kernel.Label(RoomKeeperType, p.RoomName)
}

func (p *RoomKeeper) ShortDescription() string {
	s := fmt.Sprintf("%s workers=%d priority=%s", p.TaskIdentifier(), p.TargetWorkers, p.Priority)
	if p.Stopped {
		s += " (stopped)"
	}
	return s
}

// roomWorld is the world view a keeper needs beyond kernel.World.
type roomWorld interface {
	kernel.World
	OwnedRoom(name string) *world.Room
}

var _ roomWorld = (*world.World)(nil)

func (p *RoomKeeper) RunOnTick(ctx *kernel.TickContext) {
	w, ok := ctx.World.(roomWorld)
	if !ok {
		ctx.ProcessLog(p, "FATAL: world %T has no room accessor", ctx.World)
		return
	}
	room := w.OwnedRoom(p.RoomName)
	if room == nil {
		ctx.ProcessLog(p, "room %s lost, terminating", p.RoomName)
		if err := ctx.Kernel.KillProcess(p.ID); err != nil {
			ctx.ProcessLog(p, "FATAL: %v", err)
		}
		return
	}
	if p.Stopped {
		return
	}
	if len(room.Sources) == 0 {
		p.addStopReason("no sources in " + p.RoomName)
		return
	}

	id := p.TaskIdentifier()
	mine := pool.WithTaskIdentifier(id)
	if n := ctx.Pool.CountWorkers(p.RoomName, mine); n < p.TargetWorkers {
		if cost := len(workerBody) * 50; room.Energy < cost {
			p.addStopReason(fmt.Sprintf("insufficient energy for spawn (have %d need %d)", room.Energy, cost))
		} else {
			ctx.Pool.AddSpawnRequest(p.RoomName, pool.SpawnRequest{
				Priority:       p.Priority,
				Count:          1,
				Body:           workerBody,
				TaskIdentifier: id,
				Codename:       codename.Generate(id, p.Launch),
				ParentGroup:    p.RoomName,
			})
		}
	}
	ctx.Pool.AssignTasks(p.RoomName, id, p.Priority, func(w pool.Worker) *task.Task {
		return harvestTask(room, w.Name())
	}, mine)
}

// harvestTask sends the worker to a source chosen by its name, falling over to
// the next source with energy left. Nil when every source is dry.
func harvestTask(room *world.Room, worker string) *task.Task {
	h := fnv.New32a()
	_, _ = h.Write([]byte(worker))
	start := int(h.Sum32() % uint32(len(room.Sources)))
	for i := range room.Sources {
		src := room.Sources[(start+i)%len(room.Sources)]
		if src.Energy <= 0 {
			continue
		}
		spawn := room.SpawnID()
		return task.Flee(task.Sequence(task.SequenceOptions{},
			task.MoveTo(src.ID, 1, task.Action(task.ActionHarvest, src.ID)),
			task.MoveTo(spawn, 1, task.Action(task.ActionTransfer, spawn)),
		), fleeRange)
	}
	return nil
}

func (p *RoomKeeper) addStopReason(reason string) {
	if n := len(p.StopReasons); n > 0 && p.StopReasons[n-1] == reason {
		return
	}
	p.StopReasons = append(p.StopReasons, reason)
	if len(p.StopReasons) > maxStopReasons {
		p.StopReasons = p.StopReasons[len(p.StopReasons)-maxStopReasons:]
	}
}

// configure applies workers= and priority= only when every argument parses.
func (p *RoomKeeper) configure(args map[string]string) error {
	workers, priority := p.TargetWorkers, p.Priority
	cmd := console.Command{Args: args}
	if n, ok, err := cmd.Int("workers"); err != nil {
		return err
	} else if ok {
		if n < 1 {
			return fmt.Errorf("workers must be >= 1, got %d", n)
		}
		workers = n
	}
	if s, ok := args["priority"]; ok {
		pr, err := pool.ParsePriority(s)
		if err != nil {
			return err
		}
		priority = pr
	}
	p.TargetWorkers, p.Priority = workers, priority
	return nil
}

func (p *RoomKeeper) DidReceiveMessage(message string) string {
	cmd, err := console.Parse(message)
	if err != nil {
		return err.Error()
	}
	switch cmd.Verb {
	case "status":
		if len(p.StopReasons) == 0 {
			return p.ShortDescription()
		}
		return p.ShortDescription() + "\nreasons: " + strings.Join(p.StopReasons, "; ")
	case "stop":
		p.Stopped = true
		return "stopped"
	case "resume":
		p.Stopped = false
		p.StopReasons = nil
		return "resumed"
	case "set":
		if len(cmd.Args) == 0 {
			return console.MissingArgument("workers=N or priority=P")
		}
		if err := p.configure(cmd.Args); err != nil {
			return err.Error()
		}
		return p.ShortDescription()
	default:
		return fmt.Sprintf("unknown command %q (status, stop, resume, set workers=N priority=P)", cmd.Verb)
	}
}
