package world

import (
	"encoding/json"
	"reflect"
	"testing"

	"colony.ai/internal/pool"
	"colony.ai/internal/task"
)

func testWorld() *World {
	return New([]Room{
		NewRoom("W1N1", true, 1, 300, 2),
		NewRoom("W2N1", false, 1, 0, 1),
	})
}

func TestProduce_ChargesEnergyAndSpawns(t *testing.T) {
	w := testWorld()
	name, err := w.Produce("W1N1", pool.SpawnRequest{Codename: "abc", TaskIdentifier: "k", Body: []string{"work", "carry", "move"}})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if name != "abc-1" {
		t.Fatalf("name: %s", name)
	}
	if got := w.OwnedRoom("W1N1").Energy; got != 150 {
		t.Fatalf("energy: %d", got)
	}
	wk := w.Worker(name)
	if wk == nil || wk.Idle() || wk.TaskID != "k" || wk.CarryCapacity != 50 {
		t.Fatalf("worker: %+v", wk)
	}
	for i := 0; i < 3; i++ {
		w.Step(uint64(i + 1))
	}
	if !wk.Idle() {
		t.Fatalf("worker still spawning: %+v", wk)
	}

	if _, err := w.Produce("W1N1", pool.SpawnRequest{Body: []string{"work", "work", "work", "work"}}); err == nil {
		t.Fatalf("expected insufficient energy")
	}
	if _, err := w.Produce("W2N1", pool.SpawnRequest{}); err == nil {
		t.Fatalf("expected unowned room error")
	}
	if w.Capacity("W2N1") != 0 || w.Capacity("W1N1") != 1 {
		t.Fatalf("capacity")
	}
}

func TestHarvestLoop(t *testing.T) {
	w := testWorld()
	name, _ := w.Produce("W1N1", pool.SpawnRequest{Codename: "h"})
	wk := w.Worker(name)
	wk.Spawning = 0
	room := w.OwnedRoom("W1N1")
	src := room.Sources[0].ID

	wk.Assign("k", task.Sequence(task.SequenceOptions{},
		task.MoveTo(src, 1, task.Action(task.ActionHarvest, src)),
		task.MoveTo(room.SpawnID(), 1, task.Action(task.ActionTransfer, room.SpawnID())),
	))
	before := room.Energy
	for i := 0; i < 200 && wk.Task != nil; i++ {
		w.RunTasks()
	}
	if wk.Task != nil {
		t.Fatalf("task did not finish: %s", task.Describe(wk.Task))
	}
	if room.Energy != before+wk.CarryCapacity {
		t.Fatalf("energy: got %d want %d", room.Energy, before+wk.CarryCapacity)
	}
}

func TestFleeMovesAway(t *testing.T) {
	w := testWorld()
	name, _ := w.Produce("W1N1", pool.SpawnRequest{Codename: "f"})
	wk := w.Worker(name)
	wk.Spawning = 0
	w.AddHostile(Hostile{ID: "h1", Room: "W1N1", Pos: Pos{X: 27, Y: 25}})
	if !w.HostileNear(name, 3) {
		t.Fatalf("hostile not detected")
	}
	w.FleeFrom(name, 3)
	if wk.Pos.X != 24 {
		t.Fatalf("pos: %+v", wk.Pos)
	}
	if !w.RemoveHostile("h1") || w.HostileNear(name, 3) {
		t.Fatalf("remove hostile")
	}
}

func TestFleeSidestepsWhenStraightStepBlocked(t *testing.T) {
	w := testWorld()
	name, _ := w.Produce("W1N1", pool.SpawnRequest{Codename: "f"})
	wk := w.Worker(name)
	wk.Spawning = 0

	cases := []struct {
		worker, hostile Pos
	}{
		{Pos{X: 20, Y: 20}, Pos{X: 20, Y: 20}},
		{Pos{X: 0, Y: 20}, Pos{X: 1, Y: 20}},
		{Pos{X: 0, Y: 0}, Pos{X: 0, Y: 0}},
	}
	for _, tc := range cases {
		wk.Pos = tc.worker
		w.hostiles = nil
		w.AddHostile(Hostile{ID: "h1", Room: "W1N1", Pos: tc.hostile})
		w.FleeFrom(name, 3)
		if wk.Pos == tc.worker {
			t.Fatalf("worker at %+v did not move away from hostile at %+v", tc.worker, tc.hostile)
		}
		if wk.Pos.dist(tc.worker) != 1 {
			t.Fatalf("step from %+v to %+v", tc.worker, wk.Pos)
		}
		if wk.Pos.X < 0 || wk.Pos.Y < 0 {
			t.Fatalf("left the room: %+v", wk.Pos)
		}
	}
}

func TestOwnedRoomLiveness(t *testing.T) {
	w := testWorld()
	if w.OwnedRoom("W2N1") != nil || w.OwnedRoom("nowhere") != nil {
		t.Fatalf("unowned rooms must read as nil")
	}
	w.SetOwned("W1N1", false)
	if w.OwnedRoom("W1N1") != nil {
		t.Fatalf("lost room still visible")
	}
	if len(w.OwnedRooms()) != 0 {
		t.Fatalf("owned: %v", w.OwnedRooms())
	}
}

func TestStateRoundTrip(t *testing.T) {
	w := testWorld()
	name, _ := w.Produce("W1N1", pool.SpawnRequest{Codename: "rt", InitialTask: task.Action(task.ActionWait, "")})
	w.AddHostile(Hostile{ID: "h1", Room: "W1N1", Pos: Pos{X: 1, Y: 1}})

	st := w.Export()
	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back State
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	w2 := Restore(back)
	if !reflect.DeepEqual(w2.Export(), st) {
		t.Fatalf("round trip mismatch")
	}
	if w2.Worker(name) == nil {
		t.Fatalf("worker lost")
	}
}

func TestStep_WorkersAge(t *testing.T) {
	w := testWorld()
	name, _ := w.Produce("W1N1", pool.SpawnRequest{Codename: "old"})
	wk := w.Worker(name)
	wk.Spawning = 0
	wk.TicksToLive = 1
	died := w.Step(5)
	if len(died) != 1 || died[0] != name || w.Worker(name) != nil {
		t.Fatalf("died=%v", died)
	}
}
