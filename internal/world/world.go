package world

import (
	"fmt"
	"sort"

	"colony.ai/internal/pool"
	"colony.ai/internal/task"
)

const (
	RoomSize = 50

	partCost        = 50
	carryPerPart    = 50
	harvestPerWork  = 2
	workerLifetime  = 1500
	sourceCapacity  = 3000
	sourceRegenTick = 300
)

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pos) dist(o Pos) int {
	return max(abs(p.X-o.X), abs(p.Y-o.Y))
}

type Source struct {
	ID     string `json:"id"`
	Pos    Pos    `json:"pos"`
	Energy int    `json:"energy"`
}

type Room struct {
	Name          string   `json:"name"`
	Owned         bool     `json:"owned"`
	SpawnCapacity int      `json:"spawn_capacity"`
	Spawn         Pos      `json:"spawn"`
	Energy        int      `json:"energy"`
	Sources       []Source `json:"sources"`
}

// SpawnID is the object id of the room's spawn.
func (r *Room) SpawnID() string { return r.Name + ":spawn" }

// NewRoom lays out a room with n sources at fixed positions.
func NewRoom(name string, owned bool, spawnCapacity, energy, n int) Room {
	r := Room{
		Name:          name,
		Owned:         owned,
		SpawnCapacity: spawnCapacity,
		Spawn:         Pos{X: 25, Y: 25},
		Energy:        energy,
	}
	for i := 0; i < n; i++ {
		r.Sources = append(r.Sources, Source{
			ID:     fmt.Sprintf("%s:src%d", name, i),
			Pos:    Pos{X: 8 + (i*17)%34, Y: 8 + (i*29)%34},
			Energy: sourceCapacity,
		})
	}
	return r
}

type Hostile struct {
	ID   string `json:"id"`
	Room string `json:"room"`
	Pos  Pos    `json:"pos"`
}

// Worker is a mobile unit owned by the world. Processes direct it only through
// task assignment.
type Worker struct {
	WorkerName    string     `json:"name"`
	Home          string     `json:"home"`
	Room          string     `json:"room"`
	Pos           Pos        `json:"pos"`
	Body          []string   `json:"body"`
	Carry         int        `json:"carry,omitempty"`
	CarryCapacity int        `json:"carry_capacity"`
	TicksToLive   int        `json:"ttl"`
	Spawning      int        `json:"spawning,omitempty"`
	TaskID        string     `json:"task_id,omitempty"`
	Task          *task.Task `json:"task,omitempty"`
}

func (w *Worker) Name() string           { return w.WorkerName }
func (w *Worker) Group() string          { return w.Home }
func (w *Worker) TaskIdentifier() string { return w.TaskID }
func (w *Worker) Idle() bool             { return w.Spawning == 0 && w.Task == nil }

func (w *Worker) Assign(taskIdentifier string, t *task.Task) {
	w.TaskID = taskIdentifier
	w.Task = t
}

func (w *Worker) parts(kind string) int {
	n := 0
	for _, p := range w.Body {
		if p == kind {
			n++
		}
	}
	return n
}

// State is the serialized world.
type State struct {
	Rooms      []Room    `json:"rooms"`
	Workers    []Worker  `json:"workers,omitempty"`
	Hostiles   []Hostile `json:"hostiles,omitempty"`
	NextWorker uint64    `json:"next_worker"`
}

// World is the in-memory game world consumed by processes and tasks. Like the
// kernel it is rebuilt from State every tick and only touched by the tick
// goroutine.
type World struct {
	rooms      map[string]*Room
	roomOrder  []string
	workers    []*Worker
	hostiles   []Hostile
	nextWorker uint64
}

func New(rooms []Room) *World {
	return Restore(State{Rooms: rooms})
}

func Restore(st State) *World {
	w := &World{
		rooms:      map[string]*Room{},
		nextWorker: st.NextWorker,
		hostiles:   append([]Hostile(nil), st.Hostiles...),
	}
	for i := range st.Rooms {
		r := st.Rooms[i]
		r.Sources = append([]Source(nil), r.Sources...)
		if _, dup := w.rooms[r.Name]; dup {
			continue
		}
		w.rooms[r.Name] = &r
		w.roomOrder = append(w.roomOrder, r.Name)
	}
	for i := range st.Workers {
		wk := st.Workers[i]
		wk.Body = append([]string(nil), wk.Body...)
		w.workers = append(w.workers, &wk)
	}
	return w
}

func (w *World) Export() State {
	st := State{NextWorker: w.nextWorker, Hostiles: append([]Hostile(nil), w.hostiles...)}
	for _, name := range w.roomOrder {
		r := *w.rooms[name]
		r.Sources = append([]Source(nil), r.Sources...)
		st.Rooms = append(st.Rooms, r)
	}
	for _, wk := range w.workers {
		st.Workers = append(st.Workers, *wk)
	}
	return st
}

// OwnedRoom returns the named room while it is visible and owned, else nil.
// Callers treat nil as the loss of the room.
func (w *World) OwnedRoom(name string) *Room {
	r, ok := w.rooms[name]
	if !ok || !r.Owned {
		return nil
	}
	return r
}

func (w *World) OwnedRooms() []string {
	var out []string
	for _, name := range w.roomOrder {
		if w.rooms[name].Owned {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SetOwned flips ownership of a room; unknown rooms are ignored.
func (w *World) SetOwned(name string, owned bool) bool {
	r, ok := w.rooms[name]
	if !ok {
		return false
	}
	r.Owned = owned
	return true
}

func (w *World) Worker(name string) *Worker {
	for _, wk := range w.workers {
		if wk.WorkerName == name {
			return wk
		}
	}
	return nil
}

func (w *World) Workers() []*Worker { return w.workers }

// PoolWorkers adapts the live workers for the resource pool.
func (w *World) PoolWorkers() []pool.Worker {
	out := make([]pool.Worker, 0, len(w.workers))
	for _, wk := range w.workers {
		out = append(out, wk)
	}
	return out
}

func (w *World) AddHostile(h Hostile) {
	w.hostiles = append(w.hostiles, h)
}

func (w *World) RemoveHostile(id string) bool {
	for i, h := range w.hostiles {
		if h.ID == id {
			w.hostiles = append(w.hostiles[:i], w.hostiles[i+1:]...)
			return true
		}
	}
	return false
}

func (w *World) Hostiles() []Hostile { return w.hostiles }

// Capacity implements pool.Producer.
func (w *World) Capacity(group string) int {
	r := w.OwnedRoom(group)
	if r == nil {
		return 0
	}
	return r.SpawnCapacity
}

// Produce implements pool.Producer. The worker appears at the spawn and is
// busy spawning for one tick per body part.
func (w *World) Produce(group string, req pool.SpawnRequest) (string, error) {
	r := w.OwnedRoom(group)
	if r == nil {
		return "", fmt.Errorf("room %s not owned", group)
	}
	body := req.Body
	if len(body) == 0 {
		body = []string{"work", "carry", "move"}
	}
	cost := partCost * len(body)
	if r.Energy < cost {
		return "", fmt.Errorf("insufficient energy in %s: have %d need %d", group, r.Energy, cost)
	}
	r.Energy -= cost

	w.nextWorker++
	prefix := req.Codename
	if prefix == "" {
		prefix = "worker"
	}
	wk := &Worker{
		WorkerName:  fmt.Sprintf("%s-%d", prefix, w.nextWorker),
		Home:        group,
		Room:        group,
		Pos:         r.Spawn,
		Body:        append([]string(nil), body...),
		TicksToLive: workerLifetime,
		Spawning:    len(body),
		TaskID:      req.TaskIdentifier,
		Task:        req.InitialTask,
	}
	wk.CarryCapacity = carryPerPart * wk.parts("carry")
	w.workers = append(w.workers, wk)
	return wk.WorkerName, nil
}

// RunTasks evaluates every active worker's task once. Workers whose task
// finishes or fails go idle; the task identifier is kept for correlation.
func (w *World) RunTasks() (finished, failed int) {
	for _, wk := range w.workers {
		if wk.Spawning > 0 || wk.Task == nil {
			continue
		}
		switch task.Run(wk.Task, wk.WorkerName, w) {
		case task.Finished:
			wk.Task = nil
			finished++
		case task.Failed:
			wk.Task = nil
			failed++
		}
	}
	return finished, failed
}

// Step advances world time: spawning counters, worker aging, and source
// regeneration.
func (w *World) Step(tick uint64) (died []string) {
	alive := w.workers[:0]
	for _, wk := range w.workers {
		if wk.Spawning > 0 {
			wk.Spawning--
			alive = append(alive, wk)
			continue
		}
		wk.TicksToLive--
		if wk.TicksToLive <= 0 {
			died = append(died, wk.WorkerName)
			continue
		}
		alive = append(alive, wk)
	}
	w.workers = alive

	if tick > 0 && tick%sourceRegenTick == 0 {
		for _, name := range w.roomOrder {
			r := w.rooms[name]
			for i := range r.Sources {
				r.Sources[i].Energy = sourceCapacity
			}
		}
	}
	return died
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
