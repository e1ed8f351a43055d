package world

import (
	"strings"

	"colony.ai/internal/task"
)

type objectKind int

const (
	objNone objectKind = iota
	objSpawn
	objSource
	objWorker
	objHostile
)

type located struct {
	kind   objectKind
	room   string
	pos    Pos
	source *Source
	worker *Worker
}

func (w *World) locate(id string) located {
	if room, ok := strings.CutSuffix(id, ":spawn"); ok {
		if r, ok := w.rooms[room]; ok {
			return located{kind: objSpawn, room: room, pos: r.Spawn}
		}
		return located{}
	}
	if room, _, ok := strings.Cut(id, ":src"); ok {
		if r, ok := w.rooms[room]; ok {
			for i := range r.Sources {
				if r.Sources[i].ID == id {
					return located{kind: objSource, room: room, pos: r.Sources[i].Pos, source: &r.Sources[i]}
				}
			}
		}
		return located{}
	}
	if wk := w.Worker(id); wk != nil {
		return located{kind: objWorker, room: wk.Room, pos: wk.Pos, worker: wk}
	}
	for _, h := range w.hostiles {
		if h.ID == id {
			return located{kind: objHostile, room: h.Room, pos: h.Pos}
		}
	}
	return located{}
}

// Exists implements task.World.
func (w *World) Exists(id string) bool {
	return w.locate(id).kind != objNone
}

func (w *World) InRange(worker, target string, rng int) bool {
	a, b := w.locate(worker), w.locate(target)
	if a.kind != objWorker || b.kind == objNone || a.room != b.room {
		return false
	}
	return a.pos.dist(b.pos) <= rng
}

// MoveToward steps one tile toward target. Workers do not path between rooms.
func (w *World) MoveToward(worker, target string) bool {
	a, b := w.locate(worker), w.locate(target)
	if a.kind != objWorker || b.kind == objNone || a.room != b.room {
		return false
	}
	wk := a.worker
	wk.Pos.X += sign(b.pos.X - wk.Pos.X)
	wk.Pos.Y += sign(b.pos.Y - wk.Pos.Y)
	return true
}

func (w *World) HostileNear(worker string, rng int) bool {
	a := w.locate(worker)
	if a.kind != objWorker {
		return false
	}
	for _, h := range w.hostiles {
		if h.Room == a.room && h.Pos.dist(a.pos) <= rng {
			return true
		}
	}
	return false
}

// FleeFrom steps the worker directly away from the closest hostile in range.
func (w *World) FleeFrom(worker string, rng int) {
	a := w.locate(worker)
	if a.kind != objWorker {
		return
	}
	var closest *Hostile
	best := rng + 1
	for i := range w.hostiles {
		h := &w.hostiles[i]
		if h.Room != a.room {
			continue
		}
		if d := h.Pos.dist(a.pos); d < best {
			best, closest = d, h
		}
	}
	if closest == nil {
		return
	}
	wk := a.worker
	next := Pos{
		X: clamp(wk.Pos.X+sign(wk.Pos.X-closest.Pos.X), 0, RoomSize-1),
		Y: clamp(wk.Pos.Y+sign(wk.Pos.Y-closest.Pos.Y), 0, RoomSize-1),
	}
	if next == wk.Pos {
		next = sidestep(wk.Pos, closest.Pos)
	}
	wk.Pos = next
}

var neighbours = []Pos{{0, -1}, {1, 0}, {0, 1}, {-1, 0}, {1, -1}, {1, 1}, {-1, 1}, {-1, -1}}

// sidestep picks the in-room neighbour of from farthest from threat. Used when
// the worker shares the hostile's tile or the straight step is blocked by a wall.
func sidestep(from, threat Pos) Pos {
	best, bestDist := from, -1
	for _, d := range neighbours {
		n := Pos{X: from.X + d.X, Y: from.Y + d.Y}
		if n.X < 0 || n.Y < 0 || n.X >= RoomSize || n.Y >= RoomSize {
			continue
		}
		if dist := n.dist(threat); dist > bestDist {
			best, bestDist = n, dist
		}
	}
	return best
}

// Perform implements task.World for atomic actions.
func (w *World) Perform(worker string, action task.ActionKind, target string) task.Status {
	a := w.locate(worker)
	if a.kind != objWorker {
		return task.Failed
	}
	wk := a.worker
	switch action {
	case task.ActionWait:
		return task.Finished
	case task.ActionHarvest:
		b := w.locate(target)
		if b.kind != objSource || b.room != a.room || a.pos.dist(b.pos) > 1 {
			return task.Failed
		}
		if wk.Carry >= wk.CarryCapacity {
			return task.Finished
		}
		if b.source.Energy <= 0 {
			return task.Failed
		}
		amount := min(harvestPerWork*wk.parts("work"), b.source.Energy, wk.CarryCapacity-wk.Carry)
		if amount <= 0 {
			return task.Failed
		}
		b.source.Energy -= amount
		wk.Carry += amount
		if wk.Carry >= wk.CarryCapacity {
			return task.Finished
		}
		return task.InProgress
	case task.ActionTransfer:
		b := w.locate(target)
		if b.kind != objSpawn || b.room != a.room || a.pos.dist(b.pos) > 1 || wk.Carry == 0 {
			return task.Failed
		}
		w.rooms[b.room].Energy += wk.Carry
		wk.Carry = 0
		return task.Finished
	default:
		return task.Failed
	}
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
