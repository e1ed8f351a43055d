package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"colony.ai/internal/kernel"
	"colony.ai/internal/persistence/snapshot"
)

// snapshotReply is colonyd's answer to POST /admin/v1/snapshot.
type snapshotReply struct {
	OK    bool   `json:"ok"`
	Tick  uint64 `json:"tick"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// adminRequest calls one of colonyd's loopback admin endpoints. A non-2xx
// status is an error; the body is returned either way.
func adminRequest(method, baseURL, path string, timeout time.Duration) ([]byte, error) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return nil, err
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return b, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return b, nil
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "colonyd base url")
	raw := fs.Bool("json", false, "print the raw snapshot JSON")
	typeFilter := fs.String("type", "", "only list processes of this type")
	_ = fs.Parse(args)

	b, err := adminRequest(http.MethodGet, *baseURL, "/admin/v1/state", 5*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err, strings.TrimSpace(string(b)))
		os.Exit(1)
	}
	if *raw {
		_, _ = os.Stdout.Write(b)
		return
	}
	var snap snapshot.SnapshotV1
	if err := json.Unmarshal(b, &snap); err != nil {
		fmt.Fprintln(os.Stderr, "decode state:", err)
		os.Exit(1)
	}
	printState(os.Stdout, snap, strings.TrimSpace(*typeFilter))
}

// printState writes a one-line colony summary followed by the process table.
func printState(w io.Writer, snap snapshot.SnapshotV1, typeFilter string) {
	fmt.Fprintf(w, "colony=%s tick=%d rate=%dHz rooms=%d workers=%d hostiles=%d processes=%d next_id=%d\n",
		snap.Header.ColonyID, snap.Header.Tick, snap.TickRateHz,
		len(snap.World.Rooms), len(snap.World.Workers), len(snap.World.Hostiles),
		len(snap.Processes.Records), snap.Processes.NextID)
	fmt.Fprintf(w, "%5s %6s %-9s %-12s %s\n", "PID", "PARENT", "STATE", "TYPE", "LAUNCH")
	for _, rec := range snap.Processes.Records {
		if typeFilter != "" && rec.Envelope.Type != typeFilter {
			continue
		}
		state := "running"
		if !rec.Running {
			state = "suspended"
		}
		parent := "-"
		if rec.Parent != kernel.NoParent {
			parent = strconv.FormatInt(int64(rec.Parent), 10)
		}
		fmt.Fprintf(w, "%5d %6s %-9s %-12s %d\n", rec.Envelope.ID, parent, state, rec.Envelope.Type, rec.Envelope.LaunchTick)
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "colonyd base url")
	_ = fs.Parse(args)

	b, err := adminRequest(http.MethodPost, *baseURL, "/admin/v1/snapshot", 10*time.Second)
	line, ok := snapshotResult(b, err)
	fmt.Println(line)
	if !ok {
		os.Exit(1)
	}
}

// snapshotResult renders the reply of a forced snapshot.
func snapshotResult(body []byte, reqErr error) (string, bool) {
	var r snapshotReply
	decodeErr := json.Unmarshal(body, &r)
	switch {
	case decodeErr == nil && r.Error != "":
		return fmt.Sprintf("snapshot failed at tick %d: %s", r.Tick, r.Error), false
	case reqErr != nil:
		return fmt.Sprintf("snapshot: %v", reqErr), false
	case decodeErr != nil:
		return fmt.Sprintf("snapshot: decode reply: %v", decodeErr), false
	default:
		return fmt.Sprintf("snapshot ok tick=%d path=%s", r.Tick, r.Path), r.OK
	}
}
