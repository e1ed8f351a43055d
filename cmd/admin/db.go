package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	colonyID := fs.String("colony", "", "colony id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	pid := fs.Int64("pid", 0, "process id filter (events)")
	since := fs.Uint64("since_tick", 0, "only rows at or after this tick")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*colonyID) == "" {
			fmt.Fprintln(os.Stderr, "missing -colony or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "colonies", *colonyID, "index", "index.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	if err := runQuery(db, q, queryArgs{PID: *pid, Since: *since, Limit: *limit}, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-colony ID|-db PATH] [-pid N] [-since_tick T] snapshots|ticks|events|commands|spawns|tuning")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type queryArgs struct {
	PID   int64
	Since uint64
	Limit int
}

type snapshotRow struct {
	Tick      int64  `json:"tick"`
	Path      string `json:"path"`
	Processes int    `json:"processes"`
	Workers   int    `json:"workers"`
	Rooms     int    `json:"rooms"`
}

type tickRow struct {
	Tick      int64   `json:"tick"`
	Digest    string  `json:"digest"`
	Ran       int     `json:"ran"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	Dropped   int     `json:"dropped"`
	Processes int     `json:"processes"`
	Workers   int     `json:"workers"`
	StepMS    float64 `json:"step_ms"`
}

type eventRow struct {
	Tick      int64          `json:"tick"`
	ProcessID int64          `json:"process_id"`
	Kind      string         `json:"kind"`
	Type      string         `json:"type"`
	Detail    sql.NullString `json:"-"`
	DetailStr string         `json:"detail,omitempty"`
}

type commandRow struct {
	Tick  int64  `json:"tick"`
	Line  string `json:"line"`
	Reply string `json:"reply"`
}

type spawnRow struct {
	Tick           int64  `json:"tick"`
	Group          string `json:"group"`
	TaskIdentifier string `json:"task_identifier"`
	Priority       int    `json:"priority"`
	Worker         string `json:"worker,omitempty"`
	Error          string `json:"error,omitempty"`
}

type tuningRow struct {
	Digest    string          `json:"digest"`
	UpdatedAt string          `json:"updated_at"`
	Tuning    json.RawMessage `json:"tuning"`
}

// runQuery streams the rows of query q to emit, newest first.
func runQuery(db *sql.DB, q string, a queryArgs, emit func(any)) error {
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,processes,workers,rooms FROM snapshots WHERE tick>=? ORDER BY tick DESC LIMIT ?`, a.Since, a.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r snapshotRow
			if err := rows.Scan(&r.Tick, &r.Path, &r.Processes, &r.Workers, &r.Rooms); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,ran,skipped,failed,dropped,processes,workers,step_ms FROM ticks WHERE tick>=? ORDER BY tick DESC LIMIT ?`, a.Since, a.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r tickRow
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Ran, &r.Skipped, &r.Failed, &r.Dropped, &r.Processes, &r.Workers, &r.StepMS); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "events":
		query := `SELECT tick,process_id,kind,type,detail FROM process_events WHERE tick>=? ORDER BY tick DESC, seq DESC LIMIT ?`
		args := []any{a.Since, a.Limit}
		if a.PID != 0 {
			query = `SELECT tick,process_id,kind,type,detail FROM process_events WHERE process_id=? AND tick>=? ORDER BY tick DESC, seq DESC LIMIT ?`
			args = []any{a.PID, a.Since, a.Limit}
		}
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r eventRow
			if err := rows.Scan(&r.Tick, &r.ProcessID, &r.Kind, &r.Type, &r.Detail); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.DetailStr = r.Detail.String
			emit(r)
		}
		return rows.Err()

	case "commands":
		rows, err := db.Query(`SELECT tick,line,reply FROM commands WHERE tick>=? ORDER BY tick DESC, seq DESC LIMIT ?`, a.Since, a.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r commandRow
			if err := rows.Scan(&r.Tick, &r.Line, &r.Reply); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "spawns":
		rows, err := db.Query(`SELECT tick,grp,task_identifier,priority,COALESCE(worker,''),COALESCE(error,'') FROM spawns WHERE tick>=? ORDER BY tick DESC, seq DESC LIMIT ?`, a.Since, a.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r spawnRow
			if err := rows.Scan(&r.Tick, &r.Group, &r.TaskIdentifier, &r.Priority, &r.Worker, &r.Error); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "tuning":
		var r tuningRow
		var raw string
		if err := db.QueryRow(`SELECT digest,updated_at,json FROM config WHERE name='tuning'`).Scan(&r.Digest, &r.UpdatedAt, &raw); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		r.Tuning = json.RawMessage(raw)
		emit(r)
		return nil

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
