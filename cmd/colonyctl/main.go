package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"colony.ai/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/console", "console ws url")
		timeout = flag.Duration("timeout", 15*time.Second, "wait for each reply")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[colonyctl] ", log.LstdFlags|log.Lmicroseconds)
	line := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if line == "" {
		fmt.Fprintln(os.Stderr, "usage: colonyctl [-url ws://host/v1/console] <command line>")
		os.Exit(2)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cmd := protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("ctl_%d", time.Now().UnixNano()),
		Line:            line,
	}
	if err := conn.WriteJSON(cmd); err != nil {
		logger.Fatalf("send COMMAND: %v", err)
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(*timeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeResult:
			var res protocol.ResultMsg
			if err := json.Unmarshal(msg, &res); err != nil || res.ID != cmd.ID {
				continue
			}
			fmt.Println(res.Text)
			return

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			if e.ID != "" && e.ID != cmd.ID {
				continue
			}
			fmt.Fprintf(os.Stderr, "%s: %s\n", e.Code, e.Message)
			os.Exit(1)
		}
	}
}
