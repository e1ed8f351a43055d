package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"colony.ai/internal/host"
	"colony.ai/internal/kernel"
	"colony.ai/internal/persistence/archive"
	"colony.ai/internal/persistence/indexdb"
	persistlog "colony.ai/internal/persistence/log"
	"colony.ai/internal/persistence/snapshot"
	"colony.ai/internal/processes"
	"colony.ai/internal/transport/observer"
	"colony.ai/internal/transport/ws"
	"colony.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (tick log stays the source of truth)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[colonyd] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	colonyDir := filepath.Join(*dataDir, "colonies", tune.ColonyID)
	if err := os.MkdirAll(colonyDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	reg := kernel.NewRegistry(log.New(os.Stdout, "[registry] ", log.LstdFlags|log.Lmicroseconds))
	if err := processes.Register(reg); err != nil {
		logger.Fatalf("register processes: %v", err)
	}

	// Fresh colony or resume from snapshot.
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(colonyDir)
	}
	var st host.State
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.ColonyID != "" && snap.Header.ColonyID != tune.ColonyID {
			logger.Fatalf("snapshot colony id mismatch: tuning=%s snap=%s", tune.ColonyID, snap.Header.ColonyID)
		}
		st = host.FromSnapshot(snap)
		logger.Printf("resumed from snapshot=%s tick=%d processes=%d", filepath.Base(snapshotToLoad), st.Tick, len(st.Processes.Records))
	} else {
		st, err = host.Fresh(reg, tune.WorldRooms(), host.Launch{Type: processes.BootstrapType, Args: tune.BootstrapArgs()})
		if err != nil {
			logger.Fatalf("fresh colony: %v", err)
		}
		logger.Printf("fresh colony=%s rooms=%d", tune.ColonyID, len(st.World.Rooms))
	}

	h, err := host.New(host.Config{
		ColonyID:           tune.ColonyID,
		TickRateHz:         tune.TickRateHz,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
	}, reg, st, log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("host: %v", err)
	}

	// Optional read-model index (does not affect determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(colonyDir, "index", "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertTuning(tune.ColonyID, tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	tickLog := persistlog.NewTickLogger(colonyDir, tune.LogRotateTicks)
	defer tickLog.Close()
	stats := &lastTick{}
	obs := observer.NewServer(observer.Info{
		ColonyID:     tune.ColonyID,
		TickRateHz:   tune.TickRateHz,
		ProcessTypes: reg.Tags(),
		CurrentTick:  h.CurrentTick,
	}, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
	loggers := multiTickLogger{tickLog, stats, obs}
	if idx != nil {
		loggers = append(loggers, idx)
	}
	h.SetTickLogger(loggers)

	snapCh := make(chan snapshot.SnapshotV1, 2)
	h.SetSnapshotSink(snapCh)
	var snapMu sync.Mutex
	writeSnap := func(snap snapshot.SnapshotV1) (string, error) {
		snapMu.Lock()
		defer snapMu.Unlock()
		path := filepath.Join(colonyDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			logger.Printf("snapshot write: %v", err)
			return "", err
		}
		if idx != nil {
			idx.RecordSnapshot(path, snap)
		}
		if epoch, archived, ok, err := archive.ArchiveEpochSnapshot(colonyDir, path, snap, tune.ArchiveEveryTicks); err != nil {
			logger.Printf("archive epoch snapshot: %v", err)
		} else if ok {
			logger.Printf("archived epoch=%d snapshot=%s", epoch, archived)
		}
		if _, err := archive.PruneSnapshots(filepath.Dir(path), tune.KeepSnapshots); err != nil {
			logger.Printf("prune snapshots: %v", err)
		}
		return path, nil
	}

	console := ws.NewServer(h, log.New(os.Stdout, "[console] ", log.LstdFlags|log.Lmicroseconds))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		e := stats.get()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP colony_tick Last completed tick.\n")
		fmt.Fprintf(rw, "# TYPE colony_tick gauge\n")
		fmt.Fprintf(rw, "colony_tick{colony=%q} %d\n", tune.ColonyID, h.CurrentTick())

		fmt.Fprintf(rw, "# HELP colony_processes Processes in the table after the last tick.\n")
		fmt.Fprintf(rw, "# TYPE colony_processes gauge\n")
		fmt.Fprintf(rw, "colony_processes{colony=%q} %d\n", tune.ColonyID, e.Processes)

		fmt.Fprintf(rw, "# HELP colony_workers Live workers after the last tick.\n")
		fmt.Fprintf(rw, "# TYPE colony_workers gauge\n")
		fmt.Fprintf(rw, "colony_workers{colony=%q} %d\n", tune.ColonyID, e.Workers)

		fmt.Fprintf(rw, "# HELP colony_tick_processes Per-tick hook outcomes.\n")
		fmt.Fprintf(rw, "# TYPE colony_tick_processes gauge\n")
		fmt.Fprintf(rw, "colony_tick_processes{colony=%q,outcome=%q} %d\n", tune.ColonyID, "ran", e.Ran)
		fmt.Fprintf(rw, "colony_tick_processes{colony=%q,outcome=%q} %d\n", tune.ColonyID, "skipped", e.Skipped)
		fmt.Fprintf(rw, "colony_tick_processes{colony=%q,outcome=%q} %d\n", tune.ColonyID, "failed", len(e.Failed))

		fmt.Fprintf(rw, "# HELP colony_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE colony_step_ms gauge\n")
		fmt.Fprintf(rw, "colony_step_ms{colony=%q} %.3f\n", tune.ColonyID, e.StepMS)

		fmt.Fprintf(rw, "# HELP colony_observers Connected tick-stream observers.\n")
		fmt.Fprintf(rw, "# TYPE colony_observers gauge\n")
		fmt.Fprintf(rw, "colony_observers{colony=%q} %d\n", tune.ColonyID, obs.Sessions())
		fmt.Fprintf(rw, "colony_observer_dropped_total{colony=%q} %d\n", tune.ColonyID, obs.Dropped())

		if idx != nil {
			s := idx.Stats()
			fmt.Fprintf(rw, "# HELP colony_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE colony_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "colony_index_queue_depth{colony=%q} %d\n", tune.ColonyID, s.QueueDepth)
			fmt.Fprintf(rw, "# HELP colony_index_dropped_total Index writes dropped because the queue was full.\n")
			fmt.Fprintf(rw, "# TYPE colony_index_dropped_total counter\n")
			fmt.Fprintf(rw, "colony_index_dropped_total{colony=%q,kind=%q} %d\n", tune.ColonyID, "tick", s.DropTickTotal)
			fmt.Fprintf(rw, "colony_index_dropped_total{colony=%q,kind=%q} %d\n", tune.ColonyID, "snapshot", s.DropSnapshotTotal)
		}
	})
	// Local-only admin endpoints (do not affect determinism).
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		snap, err := h.Snapshot()
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(snap)
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		var path string
		snap, err := h.Snapshot()
		if err == nil {
			path, err = writeSnap(snap)
		}
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": snap.Header.Tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": snap.Header.Tick, "path": path})
	})
	mux.HandleFunc("/v1/console", console.Handler())
	mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := h.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Snapshot writer.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap := <-snapCh:
				_, _ = writeSnap(snap)
			}
		}
	})

	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		console.Close()
		h.Stop()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})

	if err := g.Wait(); err != nil {
		logger.Printf("FATAL: %v", err)
	}

	// Final snapshot so a restart resumes exactly where we stopped.
	h.SetSnapshotSink(nil)
	if snap, err := h.Snapshot(); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else if snap.Header.Tick > 0 {
		if path, err := writeSnap(snap); err == nil {
			logger.Printf("final snapshot tick=%d path=%s", snap.Header.Tick, path)
		}
	}
}

func latestSnapshot(colonyDir string) string {
	dir := filepath.Join(colonyDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	addr := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		addr = h
	}
	addr = strings.TrimPrefix(addr, "[")
	addr = strings.TrimSuffix(addr, "]")
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

type multiTickLogger []host.TickLogger

func (m multiTickLogger) WriteTick(entry host.TickLogEntry) error {
	var first error
	for _, l := range m {
		if err := l.WriteTick(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// lastTick keeps the most recent entry for /metrics.
type lastTick struct {
	mu sync.Mutex
	e  host.TickLogEntry
}

func (l *lastTick) WriteTick(entry host.TickLogEntry) error {
	l.mu.Lock()
	l.e = entry
	l.mu.Unlock()
	return nil
}

func (l *lastTick) get() host.TickLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e
}
