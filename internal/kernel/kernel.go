package kernel

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"colony.ai/internal/pool"
)

var ErrNoProcess = errors.New("no such process")

// EventKind names a process lifecycle transition recorded by the kernel.
type EventKind string

const (
	EventAdd     EventKind = "ADD"
	EventSuspend EventKind = "SUSPEND"
	EventResume  EventKind = "RESUME"
	EventKill    EventKind = "KILL"
	EventPanic   EventKind = "PANIC"
	EventDrop    EventKind = "DROP"
)

type Event struct {
	Tick    uint64    `json:"tick"`
	Kind    EventKind `json:"kind"`
	Process ProcessID `json:"process_id"`
	Type    string    `json:"type"`
	Detail  string    `json:"detail,omitempty"`
}

// World is the world accessor handed to hooks. The kernel treats it as opaque;
// process types that need more assert the richer view they expect.
type World interface {
	OwnedRooms() []string
}

// Services are the shared collaborators handed to every hook of a tick.
type Services struct {
	Pool  *pool.Pool
	World World
}

// TickContext is what a process sees while its hook runs.
type TickContext struct {
	Tick   uint64
	Kernel *Kernel
	Pool   *pool.Pool
	World  World

	log *log.Logger
}

// ProcessLog writes a tick-level diagnostic line for p. It is separate from the
// operator message channel.
func (c *TickContext) ProcessLog(p Process, format string, args ...any) {
	if c == nil || c.log == nil {
		return
	}
	c.log.Printf("t=%d %s: %s", c.Tick, Describe(p), fmt.Sprintf(format, args...))
}

type TickReport struct {
	Tick     uint64        `json:"tick"`
	Ran      []ProcessID   `json:"ran,omitempty"`
	Skipped  int           `json:"skipped"`
	Failed   []ProcessID   `json:"failed,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// ProcessInfo is the read-only view of a managed process.
type ProcessInfo struct {
	ID          ProcessID `json:"id"`
	Parent      ProcessID `json:"parent,omitempty"`
	Type        string    `json:"type"`
	LaunchTick  uint64    `json:"launch_tick"`
	Running     bool      `json:"running"`
	Description string    `json:"description"`
}

func (i ProcessInfo) String() string {
	state := "running"
	if !i.Running {
		state = "suspended"
	}
	return fmt.Sprintf("%d %s %s parent=%d launch=%d %s", i.ID, i.Type, state, i.Parent, i.LaunchTick, i.Description)
}

type entry struct {
	proc    Process
	parent  ProcessID
	running bool
}

// Kernel owns the canonical set of live processes and runs them cooperatively,
// one hook per process per tick, in insertion order. It is not safe for
// concurrent use; everything happens on the tick goroutine.
type Kernel struct {
	log *log.Logger

	order   []ProcessID
	entries map[ProcessID]*entry
	nextID  ProcessID

	tick   uint64
	events []Event
}

func New(logger *log.Logger) *Kernel {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Kernel{
		log:     logger,
		entries: map[ProcessID]*entry{},
		nextID:  1,
	}
}

// AddProcess allocates a fresh id, builds the process with factory and appends
// it to the live set. parent is recorded for display only. A process added
// while a tick is running first runs on the next tick.
func (k *Kernel) AddProcess(parent ProcessID, factory func(id ProcessID) Process) (Process, error) {
	if factory == nil {
		return nil, fmt.Errorf("add process: nil factory")
	}
	id := k.nextID
	p := factory(id)
	if p == nil {
		return nil, fmt.Errorf("add process: factory returned nil")
	}
	if p.ProcessID() != id {
		k.log.Printf("FATAL: add process: factory built id %d, want %d", p.ProcessID(), id)
		return nil, fmt.Errorf("add process: id mismatch %d != %d", p.ProcessID(), id)
	}
	k.nextID++
	if parent != NoParent {
		if _, ok := k.entries[parent]; !ok {
			k.log.Printf("add process: parent %d not live, recording anyway", parent)
		}
	}
	k.entries[id] = &entry{proc: p, parent: parent, running: true}
	k.order = append(k.order, id)
	k.record(EventAdd, p, "")
	return p, nil
}

// SuspendProcess stops scheduling id without dropping its state.
func (k *Kernel) SuspendProcess(id ProcessID) error {
	e, ok := k.entries[id]
	if !ok {
		return fmt.Errorf("suspend %d: %w", id, ErrNoProcess)
	}
	if !e.running {
		return nil
	}
	e.running = false
	k.record(EventSuspend, e.proc, "")
	return nil
}

func (k *Kernel) ResumeProcess(id ProcessID) error {
	e, ok := k.entries[id]
	if !ok {
		return fmt.Errorf("resume %d: %w", id, ErrNoProcess)
	}
	if e.running {
		return nil
	}
	e.running = true
	k.record(EventResume, e.proc, "")
	return nil
}

// KillProcess removes id permanently. Children are not killed; they keep
// their recorded parent id.
func (k *Kernel) KillProcess(id ProcessID) error {
	e, ok := k.entries[id]
	if !ok {
		return fmt.Errorf("kill %d: %w", id, ErrNoProcess)
	}
	delete(k.entries, id)
	for i, oid := range k.order {
		if oid == id {
			k.order = append(k.order[:i:i], k.order[i+1:]...)
			break
		}
	}
	k.record(EventKill, e.proc, "")
	return nil
}

func (k *Kernel) ProcessOf(id ProcessID) (Process, bool) {
	e, ok := k.entries[id]
	if !ok {
		return nil, false
	}
	return e.proc, true
}

// IsRunning reports whether id is live and not suspended.
func (k *Kernel) IsRunning(id ProcessID) bool {
	e, ok := k.entries[id]
	return ok && e.running
}

// ListAllProcesses returns every live process (running or suspended) in
// insertion order.
func (k *Kernel) ListAllProcesses() []Process {
	out := make([]Process, 0, len(k.order))
	for _, id := range k.order {
		out = append(out, k.entries[id].proc)
	}
	return out
}

// FindProcess returns the first live process, in insertion order, matching pred.
func (k *Kernel) FindProcess(pred func(Process) bool) (Process, bool) {
	for _, id := range k.order {
		if p := k.entries[id].proc; pred(p) {
			return p, true
		}
	}
	return nil, false
}

func (k *Kernel) FilterProcesses(pred func(Process) bool) []Process {
	var out []Process
	for _, id := range k.order {
		if p := k.entries[id].proc; pred(p) {
			out = append(out, p)
		}
	}
	return out
}

func (k *Kernel) ProcessInfo(id ProcessID) (ProcessInfo, bool) {
	e, ok := k.entries[id]
	if !ok {
		return ProcessInfo{}, false
	}
	return ProcessInfo{
		ID:          id,
		Parent:      e.parent,
		Type:        e.proc.TypeTag(),
		LaunchTick:  e.proc.LaunchTick(),
		Running:     e.running,
		Description: Describe(e.proc),
	}, true
}

func (k *Kernel) ProcessInfos() []ProcessInfo {
	out := make([]ProcessInfo, 0, len(k.order))
	for _, id := range k.order {
		info, _ := k.ProcessInfo(id)
		out = append(out, info)
	}
	return out
}

// Len is the number of live processes.
func (k *Kernel) Len() int { return len(k.order) }

// SendMessage delivers an operator message to id. The reply is always a
// human-readable string.
//
// suspend, kill and info are handled by the kernel for every process. resume
// is handled by the kernel while the process is suspended; a running process
// gets it like any other text. Everything else goes to a Messageable process.
func (k *Kernel) SendMessage(id ProcessID, message string) string {
	e, ok := k.entries[id]
	if !ok {
		return fmt.Sprintf("no process %d", id)
	}
	verb := strings.TrimSpace(message)
	var err error
	switch {
	case verb == "info":
		info, _ := k.ProcessInfo(id)
		return info.String()
	case verb == "suspend":
		err = k.SuspendProcess(id)
	case verb == "kill":
		err = k.KillProcess(id)
	case verb == "resume" && !e.running:
		err = k.ResumeProcess(id)
	default:
		m, ok := e.proc.(Messageable)
		if !ok {
			return fmt.Sprintf("%s does not accept messages", Describe(e.proc))
		}
		return k.deliver(e.proc, m, message)
	}
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%s %d ok", verb, id)
}

func (k *Kernel) deliver(p Process, m Messageable, message string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Printf("FATAL: %s: message handler panicked: %v", Describe(p), r)
			reply = fmt.Sprintf("internal error handling %q", message)
		}
	}()
	return m.DidReceiveMessage(message)
}

// RunTick invokes the hook of every running process exactly once, in
// insertion order. A kill or suspend issued during the tick takes effect
// before the victim's hook if it has not run yet. A panicking hook is logged
// and only that process loses its tick.
func (k *Kernel) RunTick(tick uint64, svc Services) TickReport {
	start := time.Now()
	k.tick = tick
	rep := TickReport{Tick: tick}

	ctx := &TickContext{
		Tick:   tick,
		Kernel: k,
		Pool:   svc.Pool,
		World:  svc.World,
		log:    k.log,
	}

	order := append([]ProcessID(nil), k.order...)
	for _, id := range order {
		e, ok := k.entries[id]
		if !ok {
			continue
		}
		if !e.running {
			rep.Skipped++
			continue
		}
		if k.invoke(e.proc, ctx) {
			rep.Failed = append(rep.Failed, id)
			continue
		}
		rep.Ran = append(rep.Ran, id)
	}
	rep.Duration = time.Since(start)
	return rep
}

func (k *Kernel) invoke(p Process, ctx *TickContext) (failed bool) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Printf("t=%d %s: hook panicked: %v", ctx.Tick, Describe(p), r)
			k.record(EventPanic, p, fmt.Sprint(r))
			failed = true
		}
	}()
	p.RunOnTick(ctx)
	return false
}

func (k *Kernel) record(kind EventKind, p Process, detail string) {
	k.events = append(k.events, Event{
		Tick:    k.tick,
		Kind:    kind,
		Process: p.ProcessID(),
		Type:    p.TypeTag(),
		Detail:  detail,
	})
}

// DrainEvents returns and clears the lifecycle events recorded since the last
// drain.
func (k *Kernel) DrainEvents() []Event {
	out := k.events
	k.events = nil
	return out
}

// Record is one persisted process: its envelope plus the kernel-side state
// that is not the process's own business.
type Record struct {
	Envelope Envelope  `json:"e"`
	Parent   ProcessID `json:"parent,omitempty"`
	Running  bool      `json:"running"`
}

// Table is the persisted process table. Records are kept in insertion order
// so scheduling order survives a reload.
type Table struct {
	NextID  ProcessID `json:"next_id"`
	Records []Record  `json:"records"`
}

// Encode re-encodes every live process. A process that fails to encode is
// logged and left out of the table.
func (k *Kernel) Encode() Table {
	t := Table{NextID: k.nextID, Records: make([]Record, 0, len(k.order))}
	for _, id := range k.order {
		e := k.entries[id]
		env, err := e.proc.Encode()
		if err != nil {
			k.log.Printf("FATAL: encode %s: %v", Describe(e.proc), err)
			continue
		}
		t.Records = append(t.Records, Record{Envelope: env, Parent: e.parent, Running: e.running})
	}
	return t
}

// Load replaces the kernel state with the processes in t, decoded through reg.
// Envelopes that cannot be decoded are dropped and counted.
func (k *Kernel) Load(t Table, reg *Registry, tick uint64) (dropped int) {
	k.tick = tick
	k.order = k.order[:0]
	k.entries = map[ProcessID]*entry{}
	k.nextID = t.NextID

	for _, rec := range t.Records {
		env := rec.Envelope
		if _, dup := k.entries[env.ID]; dup || env.ID == NoParent {
			k.log.Printf("FATAL: load: invalid or duplicate process id %d (%s)", env.ID, env.Type)
			dropped++
			continue
		}
		p, err := reg.Decode(env)
		if err != nil {
			k.events = append(k.events, Event{Tick: tick, Kind: EventDrop, Process: env.ID, Type: env.Type, Detail: err.Error()})
			dropped++
			continue
		}
		if p.ProcessID() != env.ID || p.LaunchTick() != env.LaunchTick {
			detail := fmt.Sprintf("decoder changed identity (%d,%d) -> (%d,%d)",
				env.ID, env.LaunchTick, p.ProcessID(), p.LaunchTick())
			k.log.Printf("FATAL: load: %s %s", env.Type, detail)
			k.events = append(k.events, Event{Tick: tick, Kind: EventDrop, Process: env.ID, Type: env.Type, Detail: detail})
			dropped++
			continue
		}
		k.entries[env.ID] = &entry{proc: p, parent: rec.Parent, running: rec.Running}
		k.order = append(k.order, env.ID)
		if env.ID >= k.nextID {
			k.nextID = env.ID + 1
		}
	}
	if k.nextID < 1 {
		k.nextID = 1
	}
	return dropped
}

// Children lists the live processes whose recorded parent is id, sorted by id.
func (k *Kernel) Children(id ProcessID) []ProcessID {
	var out []ProcessID
	for cid, e := range k.entries {
		if e.parent == id {
			out = append(out, cid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
