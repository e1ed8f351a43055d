package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"colony.ai/internal/host"
)

func TestLatestSnapshot_PicksHighestTick(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"90.snap.zst", "300.snap.zst", "1200.snap.zst", "x.snap.zst", "1500.snap.zst.tmp"} {
		if err := os.WriteFile(filepath.Join(snaps, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := latestSnapshot(dir), filepath.Join(snaps, "1200.snap.zst"); got != want {
		t.Fatalf("latest: got %q want %q", got, want)
	}
	if got := latestSnapshot(t.TempDir()); got != "" {
		t.Fatalf("empty dir: %q", got)
	}
}

type failingLogger struct{ n int }

func (f *failingLogger) WriteTick(host.TickLogEntry) error {
	f.n++
	return errors.New("disk full")
}

func TestMultiTickLogger_FansOutPastErrors(t *testing.T) {
	bad := &failingLogger{}
	stats := &lastTick{}
	m := multiTickLogger{bad, stats}
	if err := m.WriteTick(host.TickLogEntry{Tick: 4, Processes: 3}); err == nil {
		t.Fatalf("expected first error")
	}
	if bad.n != 1 || stats.get().Tick != 4 || stats.get().Processes != 3 {
		t.Fatalf("fan-out: bad=%d stats=%+v", bad.n, stats.get())
	}
}
