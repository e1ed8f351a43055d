package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"colony.ai/internal/persistence/snapshot"
	"colony.ai/internal/world"
)

func TestArchiveEpochSnapshot_CopiesBoundarySnapshot(t *testing.T) {
	colonyDir := filepath.Join(t.TempDir(), "colonies", "c1")

	src := filepath.Join(colonyDir, "snapshots", "600.snap.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, ColonyID: "c1", Tick: 600},
		World:  world.State{Rooms: []world.Room{world.NewRoom("W1N1", true, 1, 0, 1)}},
	}

	if _, _, ok, err := ArchiveEpochSnapshot(colonyDir, src, snap, 400); err != nil || ok {
		t.Fatalf("tick 600 is not an epoch of 400: ok=%v err=%v", ok, err)
	}

	epoch, archivedPath, ok, err := ArchiveEpochSnapshot(colonyDir, src, snap, 300)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok || epoch != 2 {
		t.Fatalf("ok=%v epoch=%d, want epoch 2", ok, epoch)
	}

	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", string(got), string(want))
	}

	b, err := os.ReadFile(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	if err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
	var meta EpochArchiveMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.ColonyID != "c1" || meta.EndTick != 600 || meta.Rooms != 1 {
		t.Fatalf("meta: %+v", meta)
	}
}

func TestArchiveEpochSnapshot_Disabled(t *testing.T) {
	snap := snapshot.SnapshotV1{Header: snapshot.Header{Tick: 300}}
	if _, _, ok, err := ArchiveEpochSnapshot(t.TempDir(), "unused", snap, 0); ok || err != nil {
		t.Fatalf("disabled archive: ok=%v err=%v", ok, err)
	}
}

func TestPruneSnapshots_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"300.snap.zst", "1200.snap.zst", "900.snap.zst", "600.snap.zst", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := PruneSnapshots(dir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 2 || filepath.Base(removed[0]) != "300.snap.zst" || filepath.Base(removed[1]) != "600.snap.zst" {
		t.Fatalf("removed: %v", removed)
	}
	for _, name := range []string{"900.snap.zst", "1200.snap.zst", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s should survive: %v", name, err)
		}
	}
	if removed, err := PruneSnapshots(dir, 0); err != nil || removed != nil {
		t.Fatalf("keep=0: %v %v", removed, err)
	}
}
