package log

import (
	"path/filepath"
	"testing"

	"colony.ai/internal/host"
)

func TestTickLogger_RotatesByTickWindow(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir, 10)
	for tick := uint64(1); tick <= 25; tick++ {
		e := host.TickLogEntry{Tick: tick, Digest: "d", Commands: []host.CommandRecord{{Line: "ps", Reply: "no processes"}}}
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("WriteTick(%d): %v", tick, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "ticks"), "ticks")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files: %v", files)
	}
	if filepath.Base(files[0]) != "ticks-000000000000.jsonl.zst" {
		t.Fatalf("first file: %s", files[0])
	}

	var next uint64 = 1
	for _, f := range files {
		err := ReadTicks(f, func(e host.TickLogEntry) error {
			if e.Tick != next {
				t.Fatalf("tick order: got %d want %d", e.Tick, next)
			}
			if len(e.Commands) != 1 || e.Commands[0].Reply != "no processes" {
				t.Fatalf("commands lost: %+v", e.Commands)
			}
			next++
			return nil
		})
		if err != nil {
			t.Fatalf("ReadTicks(%s): %v", f, err)
		}
	}
	if next != 26 {
		t.Fatalf("read %d entries", next-1)
	}
}

func TestJSONLZstdWriter_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "ticks")
		if err := w.WriteIn("seg", host.TickLogEntry{Tick: uint64(i + 1)}); err != nil {
			t.Fatalf("WriteIn: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	var n int
	if err := ReadTicks(filepath.Join(dir, "ticks-seg.jsonl.zst"), func(host.TickLogEntry) error { n++; return nil }); err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if n != 2 {
		t.Fatalf("entries: %d", n)
	}
}
