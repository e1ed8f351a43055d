package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"colony.ai/internal/host"
	"colony.ai/internal/protocol"
)

// Host is the part of the colony host the console needs.
type Host interface {
	Inbox() chan<- host.Command
}

// Server exposes the operator console over websocket. Every COMMAND frame is
// queued for the next tick boundary and answered with one RESULT or ERROR.
type Server struct {
	host Host
	log  *log.Logger

	upgrader websocket.Upgrader

	// ReplyTimeout bounds how long a command may wait for its tick.
	ReplyTimeout time.Duration

	closing atomic.Bool
}

func NewServer(h Host, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		host: h,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		ReplyTimeout: 10 * time.Second,
	}
}

// Close makes the server refuse new commands with E_STOPPED.
func (s *Server) Close() { s.closing.Store(true) }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		send := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				s.log.Printf("console: encode reply: %v", err)
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			cmd, errMsg := decodeCommand(msg)
			if errMsg != nil {
				send(errMsg)
				continue
			}
			if s.closing.Load() {
				send(errorMsg(cmd.ID, protocol.ErrStopped, "colony is shutting down"))
				continue
			}

			resp := make(chan host.Reply, 1)
			select {
			case s.host.Inbox() <- host.Command{Line: cmd.Line, Resp: resp}:
			default:
				send(errorMsg(cmd.ID, protocol.ErrBusy, "command inbox full"))
				continue
			}
			s.log.Printf("console: %s %q", r.RemoteAddr, cmd.Line)

			go func(id string) {
				timer := time.NewTimer(s.ReplyTimeout)
				defer timer.Stop()
				select {
				case reply := <-resp:
					send(protocol.ResultMsg{
						Type:            protocol.TypeResult,
						ProtocolVersion: protocol.Version,
						ID:              id,
						Tick:            reply.Tick,
						Text:            reply.Text,
					})
				case <-timer.C:
					send(errorMsg(id, protocol.ErrTimeout, fmt.Sprintf("no tick within %s", s.ReplyTimeout)))
				case <-ctx.Done():
				}
			}(cmd.ID)
		}
	}
}

func decodeCommand(msg []byte) (protocol.CommandMsg, *protocol.ErrorMsg) {
	var cmd protocol.CommandMsg
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		e := errorMsg("", protocol.ErrProtoBadRequest, "invalid json")
		return cmd, &e
	}
	if base.Type != protocol.TypeCommand {
		e := errorMsg("", protocol.ErrProtoBadRequest, fmt.Sprintf("expected %s, got %q", protocol.TypeCommand, base.Type))
		return cmd, &e
	}
	if err := json.Unmarshal(msg, &cmd); err != nil {
		e := errorMsg("", protocol.ErrProtoBadRequest, "invalid COMMAND")
		return cmd, &e
	}
	if cmd.ProtocolVersion != protocol.Version {
		e := errorMsg(cmd.ID, protocol.ErrProtoBadRequest, "bad protocol_version")
		return cmd, &e
	}
	cmd.Line = strings.TrimSpace(cmd.Line)
	if cmd.Line == "" {
		e := errorMsg(cmd.ID, protocol.ErrProtoBadRequest, "empty line")
		return cmd, &e
	}
	return cmd, nil
}

func errorMsg(id, code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Code:            code,
		Message:         message,
	}
}
