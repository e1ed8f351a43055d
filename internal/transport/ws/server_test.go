package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"colony.ai/internal/host"
	"colony.ai/internal/protocol"
)

type fakeHost struct {
	inbox chan host.Command
}

func (f *fakeHost) Inbox() chan<- host.Command { return f.inbox }

// serve answers every queued command with its upper-cased line at tick 7.
func (f *fakeHost) serve(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case c := <-f.inbox:
			if c.Resp != nil {
				c.Resp <- host.Reply{Tick: 7, Text: strings.ToUpper(c.Line)}
			}
		}
	}
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, raw string) map[string]any {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return m
}

func TestServer_CommandGetsResult(t *testing.T) {
	fh := &fakeHost{inbox: make(chan host.Command, 4)}
	done := make(chan struct{})
	defer close(done)
	go fh.serve(done)

	conn := dial(t, NewServer(fh, nil))
	m := roundTrip(t, conn, `{"type":"COMMAND","protocol_version":"1.0","id":"c1","line":" ps "}`)
	if m["type"] != protocol.TypeResult || m["id"] != "c1" {
		t.Fatalf("reply: %v", m)
	}
	if m["text"] != "PS" || m["tick"] != float64(7) {
		t.Fatalf("reply: %v", m)
	}
}

func TestServer_RejectsMalformedFrames(t *testing.T) {
	fh := &fakeHost{inbox: make(chan host.Command, 4)}
	conn := dial(t, NewServer(fh, nil))

	cases := []string{
		`not json`,
		`{"type":"HELLO","protocol_version":"1.0"}`,
		`{"type":"COMMAND","protocol_version":"0.9","id":"c1","line":"ps"}`,
		`{"type":"COMMAND","protocol_version":"1.0","id":"c1","line":"   "}`,
	}
	for _, raw := range cases {
		m := roundTrip(t, conn, raw)
		if m["type"] != protocol.TypeError || m["code"] != protocol.ErrProtoBadRequest {
			t.Fatalf("%s: reply %v", raw, m)
		}
	}
	if len(fh.inbox) != 0 {
		t.Fatalf("malformed frames reached the host: %d", len(fh.inbox))
	}
}

func TestServer_BusyAndTimeout(t *testing.T) {
	// Nobody drains the inbox: the first command times out, the second finds
	// the inbox full.
	fh := &fakeHost{inbox: make(chan host.Command, 1)}
	s := NewServer(fh, nil)
	s.ReplyTimeout = 50 * time.Millisecond
	conn := dial(t, s)

	m := roundTrip(t, conn, `{"type":"COMMAND","protocol_version":"1.0","id":"c1","line":"ps"}`)
	if m["code"] != protocol.ErrTimeout || m["id"] != "c1" {
		t.Fatalf("reply: %v", m)
	}
	m = roundTrip(t, conn, `{"type":"COMMAND","protocol_version":"1.0","id":"c2","line":"ps"}`)
	if m["code"] != protocol.ErrBusy || m["id"] != "c2" {
		t.Fatalf("reply: %v", m)
	}
}

func TestServer_ClosedRefusesCommands(t *testing.T) {
	fh := &fakeHost{inbox: make(chan host.Command, 1)}
	s := NewServer(fh, nil)
	s.Close()
	conn := dial(t, s)

	m := roundTrip(t, conn, `{"type":"COMMAND","protocol_version":"1.0","id":"c1","line":"ps"}`)
	if m["code"] != protocol.ErrStopped {
		t.Fatalf("reply: %v", m)
	}
	if len(fh.inbox) != 0 {
		t.Fatalf("command queued after close")
	}
}
