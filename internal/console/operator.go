package console

import (
	"fmt"
	"strconv"
	"strings"

	"colony.ai/internal/kernel"
	"colony.ai/internal/world"
)

// Operator is the control surface the console drives during one tick
// boundary.
type Operator struct {
	Kernel   *kernel.Kernel
	Registry *kernel.Registry
	World    *world.World
	Tick     uint64
}

const help = `commands:
  ps                         list processes
  info <id>                  show one process
  suspend <id> | resume <id> | kill <id>
  msg <id> <text...>         send a message to a process
  launch <type> [k=v ...]    launch a top-level process
  types                      list registered process types
  rooms                      list owned rooms
  claim <room> | unclaim <room>
  hostile add <id> <room> <x> <y> | hostile remove <id>`

// Execute runs one operator line and returns its human-readable reply.
// Malformed input is reported in the reply, never as a panic.
func (op Operator) Execute(line string) string {
	cmd, err := Parse(line)
	if err != nil {
		return err.Error()
	}
	switch cmd.Verb {
	case "help":
		return help
	case "ps":
		return op.ps()
	case "info":
		id, errMsg := processID(cmd)
		if errMsg != "" {
			return errMsg
		}
		info, ok := op.Kernel.ProcessInfo(id)
		if !ok {
			return fmt.Sprintf("no process %d", id)
		}
		s := formatInfo(info)
		if kids := op.Kernel.Children(id); len(kids) > 0 {
			s += fmt.Sprintf("\nchildren: %v", kids)
		}
		return s
	case "suspend", "resume", "kill":
		id, errMsg := processID(cmd)
		if errMsg != "" {
			return errMsg
		}
		var err error
		switch cmd.Verb {
		case "suspend":
			err = op.Kernel.SuspendProcess(id)
		case "resume":
			err = op.Kernel.ResumeProcess(id)
		default:
			err = op.Kernel.KillProcess(id)
		}
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("%s %d ok", cmd.Verb, id)
	case "msg":
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return MissingArgument("<id> <text>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Sprintf("bad process id %q", fields[1])
		}
		return op.Kernel.SendMessage(kernel.ProcessID(id), strings.Join(fields[2:], " "))
	case "launch":
		return op.launch(cmd)
	case "types":
		return strings.Join(op.Registry.Tags(), "\n")
	case "rooms":
		return op.rooms()
	case "claim", "unclaim":
		room := cmd.Arg(0)
		if room == "" {
			return MissingArgument("<room>")
		}
		if !op.World.SetOwned(room, cmd.Verb == "claim") {
			return fmt.Sprintf("unknown room %s", room)
		}
		return fmt.Sprintf("%s %s ok", cmd.Verb, room)
	case "hostile":
		return op.hostile(cmd)
	default:
		return fmt.Sprintf("unknown command %q (try help)", cmd.Verb)
	}
}

func processID(cmd Command) (kernel.ProcessID, string) {
	s := cmd.Arg(0)
	if s == "" {
		return 0, MissingArgument("<id>")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Sprintf("bad process id %q", s)
	}
	return kernel.ProcessID(id), ""
}

func formatInfo(info kernel.ProcessInfo) string {
	state := "running"
	if !info.Running {
		state = "suspended"
	}
	parent := "-"
	if info.Parent != kernel.NoParent {
		parent = strconv.FormatInt(int64(info.Parent), 10)
	}
	return fmt.Sprintf("%5d %5s %-10s %-12s l=%d %s", info.ID, parent, state, info.Type, info.LaunchTick, info.Description)
}

func (op Operator) ps() string {
	infos := op.Kernel.ProcessInfos()
	if len(infos) == 0 {
		return "no processes"
	}
	lines := make([]string, 0, len(infos)+1)
	lines = append(lines, fmt.Sprintf("%5s %5s %-10s %-12s", "id", "ppid", "state", "type"))
	for _, info := range infos {
		lines = append(lines, formatInfo(info))
	}
	return strings.Join(lines, "\n")
}

func (op Operator) launch(cmd Command) string {
	tag := cmd.Arg(0)
	if tag == "" {
		return MissingArgument("<type>")
	}
	fn, ok := op.Registry.Launcher(tag)
	if !ok {
		return fmt.Sprintf("type %q cannot be launched", tag)
	}
	var launchErr error
	p, err := op.Kernel.AddProcess(kernel.NoParent, func(id kernel.ProcessID) kernel.Process {
		p, err := fn(id, op.Tick, cmd.Args)
		if err != nil {
			launchErr = err
			return nil
		}
		return p
	})
	if launchErr != nil {
		return fmt.Sprintf("launch %s: %v", tag, launchErr)
	}
	if err != nil {
		return fmt.Sprintf("launch %s: %v", tag, err)
	}
	return fmt.Sprintf("launched %s as %d", kernel.Describe(p), p.ProcessID())
}

func (op Operator) rooms() string {
	owned := op.World.OwnedRooms()
	if len(owned) == 0 {
		return "no owned rooms"
	}
	counts := map[string]int{}
	for _, w := range op.World.Workers() {
		counts[w.Home]++
	}
	lines := make([]string, 0, len(owned))
	for _, name := range owned {
		r := op.World.OwnedRoom(name)
		lines = append(lines, fmt.Sprintf("%s energy=%d spawns=%d sources=%d workers=%d", name, r.Energy, r.SpawnCapacity, len(r.Sources), counts[name]))
	}
	return strings.Join(lines, "\n")
}

func (op Operator) hostile(cmd Command) string {
	switch cmd.Arg(0) {
	case "add":
		id, room := cmd.Arg(1), cmd.Arg(2)
		x, errX := strconv.Atoi(cmd.Arg(3))
		y, errY := strconv.Atoi(cmd.Arg(4))
		if id == "" || room == "" || errX != nil || errY != nil {
			return "usage: hostile add <id> <room> <x> <y>"
		}
		op.World.AddHostile(world.Hostile{ID: id, Room: room, Pos: world.Pos{X: x, Y: y}})
		return fmt.Sprintf("hostile %s added", id)
	case "remove":
		id := cmd.Arg(1)
		if id == "" {
			return MissingArgument("<id>")
		}
		if !op.World.RemoveHostile(id) {
			return fmt.Sprintf("no hostile %s", id)
		}
		return fmt.Sprintf("hostile %s removed", id)
	default:
		return "usage: hostile add <id> <room> <x> <y> | hostile remove <id>"
	}
}
