package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"colony.ai/internal/host"
	"colony.ai/internal/kernel"
	"colony.ai/internal/observerproto"
)

func subscribe(t *testing.T, s *Server, sub string) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.Sessions() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readTick(t *testing.T, conn *websocket.Conn) observerproto.TickMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg observerproto.TickMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestServer_StreamsTicks(t *testing.T) {
	s := NewServer(Info{ColonyID: "c1"}, nil)
	conn := subscribe(t, s, `{"type":"SUBSCRIBE","protocol_version":"0.1"}`)

	_ = s.WriteTick(host.TickLogEntry{Tick: 3, Ran: 2, Processes: 2, Digest: "d3"})
	msg := readTick(t, conn)
	if msg.Type != "TICK" || msg.Tick != 3 || msg.Ran != 2 || msg.Digest != "d3" {
		t.Fatalf("tick: %+v", msg)
	}
}

func TestServer_FiltersByProcessAndChanges(t *testing.T) {
	s := NewServer(Info{ColonyID: "c1"}, nil)
	conn := subscribe(t, s, `{"type":"SUBSCRIBE","protocol_version":"0.1","process_id":2,"changes_only":true}`)

	// No events for pid 2: filtered out.
	_ = s.WriteTick(host.TickLogEntry{Tick: 1, Events: []kernel.Event{{Tick: 1, Kind: kernel.EventAdd, Process: 3, Type: "room_keeper"}}})
	_ = s.WriteTick(host.TickLogEntry{Tick: 2, Events: []kernel.Event{
		{Tick: 2, Kind: kernel.EventSuspend, Process: 2, Type: "room_keeper"},
		{Tick: 2, Kind: kernel.EventKill, Process: 3, Type: "room_keeper"},
	}})

	msg := readTick(t, conn)
	if msg.Tick != 2 {
		t.Fatalf("expected tick 1 to be filtered, got tick %d", msg.Tick)
	}
	if len(msg.Events) != 1 || msg.Events[0].Process != 2 || msg.Events[0].Kind != kernel.EventSuspend {
		t.Fatalf("events: %+v", msg.Events)
	}
}

func TestServer_PassiveObserverStaysConnected(t *testing.T) {
	s := NewServer(Info{ColonyID: "c1"}, nil)
	s.PingInterval = 20 * time.Millisecond
	conn := subscribe(t, s, `{"type":"SUBSCRIBE","protocol_version":"0.1"}`)

	// The observer never writes again; it only reads, which answers pings.
	ticks := make(chan observerproto.TickMsg, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var msg observerproto.TickMsg
			if err := json.Unmarshal(b, &msg); err != nil {
				readErr <- err
				return
			}
			ticks <- msg
		}
	}()

	for tick := uint64(1); tick <= 5; tick++ {
		time.Sleep(5 * s.PingInterval)
		_ = s.WriteTick(host.TickLogEntry{Tick: tick})
		select {
		case msg := <-ticks:
			if msg.Tick != tick {
				t.Fatalf("tick: got %d want %d", msg.Tick, tick)
			}
		case err := <-readErr:
			t.Fatalf("observer dropped before tick %d: %v", tick, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("tick %d never arrived", tick)
		}
	}
	if n := s.Sessions(); n != 1 {
		t.Fatalf("sessions=%d", n)
	}
}

func TestServer_SlowObserverDrops(t *testing.T) {
	s := NewServer(Info{}, nil)
	s.sessions["stuck"] = &session{out: make(chan []byte, 1)}
	_ = s.WriteTick(host.TickLogEntry{Tick: 1})
	_ = s.WriteTick(host.TickLogEntry{Tick: 2})
	if s.Dropped() != 1 {
		t.Fatalf("dropped=%d", s.Dropped())
	}
}

func TestServer_Bootstrap(t *testing.T) {
	s := NewServer(Info{
		ColonyID:     "c1",
		TickRateHz:   5,
		ProcessTypes: []string{"bootstrap", "room_keeper"},
		CurrentTick:  func() uint64 { return 42 },
	}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ColonyID != "c1" || resp.Tick != 42 || len(resp.ProcessTypes) != 2 {
		t.Fatalf("bootstrap: %+v", resp)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote status=%d", rec.Code)
	}
}
