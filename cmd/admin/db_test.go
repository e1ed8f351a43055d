package main

import (
	"database/sql"
	"path/filepath"
	"testing"

	"colony.ai/internal/host"
	"colony.ai/internal/kernel"
	"colony.ai/internal/persistence/indexdb"
	"colony.ai/internal/tuning"
)

func seededDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertTuning("colony_1", tuning.Defaults()); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	for tick := uint64(1); tick <= 3; tick++ {
		e := host.TickLogEntry{Tick: tick, Ran: int(tick), Digest: "d"}
		if tick == 2 {
			e.Events = []kernel.Event{
				{Tick: 2, Kind: kernel.EventAdd, Process: 2, Type: "room_keeper"},
				{Tick: 2, Kind: kernel.EventSuspend, Process: 1, Type: "bootstrap", Detail: "operator"},
			}
			e.Commands = []host.CommandRecord{{Line: "suspend 1", Reply: "suspended 1"}}
		}
		_ = idx.WriteTick(e)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func collect(t *testing.T, db *sql.DB, q string, a queryArgs) []any {
	t.Helper()
	var out []any
	if err := runQuery(db, q, a, func(v any) { out = append(out, v) }); err != nil {
		t.Fatalf("%s: %v", q, err)
	}
	return out
}

func TestRunQuery_Ticks(t *testing.T) {
	db := seededDB(t)
	rows := collect(t, db, "ticks", queryArgs{Since: 2, Limit: 10})
	if len(rows) != 2 {
		t.Fatalf("rows: %v", rows)
	}
	if first := rows[0].(tickRow); first.Tick != 3 || first.Ran != 3 {
		t.Fatalf("newest first: %+v", first)
	}
}

func TestRunQuery_EventsByPID(t *testing.T) {
	db := seededDB(t)
	rows := collect(t, db, "events", queryArgs{PID: 1, Limit: 10})
	if len(rows) != 1 {
		t.Fatalf("rows: %v", rows)
	}
	ev := rows[0].(eventRow)
	if ev.Kind != "SUSPEND" || ev.DetailStr != "operator" {
		t.Fatalf("event: %+v", ev)
	}
	if all := collect(t, db, "events", queryArgs{Limit: 10}); len(all) != 2 {
		t.Fatalf("all events: %v", all)
	}
}

func TestRunQuery_CommandsAndTuning(t *testing.T) {
	db := seededDB(t)
	rows := collect(t, db, "commands", queryArgs{Limit: 10})
	if len(rows) != 1 || rows[0].(commandRow).Reply != "suspended 1" {
		t.Fatalf("commands: %v", rows)
	}
	rows = collect(t, db, "tuning", queryArgs{})
	if len(rows) != 1 || rows[0].(tuningRow).Digest == "" {
		t.Fatalf("tuning: %v", rows)
	}
}

func TestRunQuery_Unknown(t *testing.T) {
	db := seededDB(t)
	if err := runQuery(db, "agents", queryArgs{Limit: 1}, func(any) {}); err == nil {
		t.Fatalf("expected unknown query error")
	}
}
