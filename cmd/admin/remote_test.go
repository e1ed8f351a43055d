package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"colony.ai/internal/kernel"
	"colony.ai/internal/persistence/snapshot"
	"colony.ai/internal/world"
)

func testSnapshot() snapshot.SnapshotV1 {
	return snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: snapshot.Version, ColonyID: "colony_1", Tick: 42},
		TickRateHz: 5,
		Processes: kernel.Table{NextID: 4, Records: []kernel.Record{
			{Envelope: kernel.Envelope{Type: "bootstrap", ID: 1, LaunchTick: 1}, Running: true},
			{Envelope: kernel.Envelope{Type: "room_keeper", ID: 2, LaunchTick: 2}, Parent: 1, Running: true},
			{Envelope: kernel.Envelope{Type: "room_keeper", ID: 3, LaunchTick: 2}, Parent: 1},
		}},
		World: world.State{Rooms: []world.Room{world.NewRoom("W1N1", true, 1, 300, 2)}},
	}
}

func TestAdminRequest_StateSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/admin/v1/state" {
			rw.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(rw).Encode(testSnapshot())
	}))
	defer srv.Close()

	b, err := adminRequest(http.MethodGet, srv.URL+"/", "/admin/v1/state", time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var snap snapshot.SnapshotV1
	if err := json.Unmarshal(b, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}

	var out bytes.Buffer
	printState(&out, snap, "")
	got := out.String()
	if !strings.Contains(got, "colony=colony_1 tick=42 rate=5Hz rooms=1 workers=0 hostiles=0 processes=3 next_id=4") {
		t.Fatalf("summary: %s", got)
	}
	if !strings.Contains(got, "suspended") || strings.Count(got, "room_keeper") != 2 {
		t.Fatalf("table: %s", got)
	}

	out.Reset()
	printState(&out, snap, "bootstrap")
	if strings.Contains(out.String(), "room_keeper") || !strings.Contains(out.String(), "bootstrap") {
		t.Fatalf("filtered: %s", out.String())
	}
}

func TestAdminRequest_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	b, err := adminRequest(http.MethodGet, srv.URL, "/admin/v1/state", time.Second)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err: %v", err)
	}
	if strings.TrimSpace(string(b)) != "forbidden" {
		t.Fatalf("body: %q", b)
	}
}

func TestSnapshotResult(t *testing.T) {
	cases := []struct {
		body   string
		err    error
		want   string
		wantOK bool
	}{
		{`{"ok":true,"tick":42,"path":"data/colonies/c/snapshots/42.snap.zst"}`, nil, "snapshot ok tick=42 path=data/colonies/c/snapshots/42.snap.zst", true},
		{`{"ok":false,"tick":42,"error":"disk full"}`, errors.New("POST /admin/v1/snapshot: 503"), "snapshot failed at tick 42: disk full", false},
		{``, errors.New("connection refused"), "snapshot: connection refused", false},
		{`not json`, nil, "snapshot: decode reply", false},
	}
	for _, tc := range cases {
		got, ok := snapshotResult([]byte(tc.body), tc.err)
		if !strings.Contains(got, tc.want) || ok != tc.wantOK {
			t.Fatalf("%q: got %q ok=%v", tc.body, got, ok)
		}
	}
}
