package snapshot

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"colony.ai/internal/kernel"
	"colony.ai/internal/pool"
	"colony.ai/internal/task"
	"colony.ai/internal/world"
)

func sampleSnapshot(t *testing.T) SnapshotV1 {
	t.Helper()
	w := world.New([]world.Room{world.NewRoom("W1N1", true, 1, 500, 2)})
	if _, err := w.Produce("W1N1", pool.SpawnRequest{
		Body:           []string{"work", "carry", "move"},
		TaskIdentifier: "room_keeper W1N1",
		Codename:       "c0ffee00",
		InitialTask:    task.MoveTo("W1N1:src0", 1, task.Action(task.ActionHarvest, "W1N1:src0")),
	}); err != nil {
		t.Fatalf("produce: %v", err)
	}
	w.AddHostile(world.Hostile{ID: "h1", Room: "W1N1", Pos: world.Pos{X: 3, Y: 4}})

	return SnapshotV1{
		Header:     Header{Version: Version, ColonyID: "colony_1", Tick: 120},
		TickRateHz: 5,
		Processes: kernel.Table{NextID: 3, Records: []kernel.Record{
			{Envelope: kernel.Envelope{Type: "bootstrap", LaunchTick: 1, ID: 1, Payload: json.RawMessage(`{"k":{"W1N1":2}}`)}, Running: true},
			{Envelope: kernel.Envelope{Type: "room_keeper", LaunchTick: 2, ID: 2, Payload: json.RawMessage(`{"r":"W1N1"}`)}, Parent: 1},
		}},
		World: w.Export(),
	}
}

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "120.snap.zst")
	want := sampleSnapshot(t)
	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	a, _ := json.Marshal(want)
	b, _ := json.Marshal(got)
	if !bytes.Equal(a, b) {
		t.Fatalf("snapshot mismatch:\nwant %s\ngot  %s", a, b)
	}
	if got.World.Workers[0].Task == nil || got.World.Workers[0].Task.Inner == nil {
		t.Fatalf("worker task lost: %+v", got.World.Workers[0])
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h != want.Header {
		t.Fatalf("header: got %+v want %+v", h, want.Header)
	}
}

func TestReadSnapshot_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "9.snap.zst")
	snap := sampleSnapshot(t)
	snap.Header.Version = Version + 1
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestReadSnapshot_MissingFile(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatalf("expected error")
	}
}
