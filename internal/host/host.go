package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"colony.ai/internal/console"
	"colony.ai/internal/kernel"
	"colony.ai/internal/persistence/snapshot"
	"colony.ai/internal/pool"
	"colony.ai/internal/world"
)

// State is the host's persistent memory. Nothing else survives between ticks.
type State struct {
	Tick      uint64       `json:"tick"`
	Processes kernel.Table `json:"processes"`
	World     world.State  `json:"world"`
}

type Config struct {
	ColonyID           string
	TickRateHz         int
	SnapshotEveryTicks int
}

// Command is one operator line queued for the next tick boundary. Resp, when
// non-nil, receives the reply; it should be buffered.
type Command struct {
	Line string
	Resp chan Reply
}

// Reply is the console output of a command and the tick it executed in.
type Reply struct {
	Tick uint64
	Text string
}

type CommandRecord struct {
	Line  string `json:"line"`
	Reply string `json:"reply"`
}

type TickLogEntry struct {
	Tick          uint64             `json:"tick"`
	Ran           int                `json:"ran"`
	Skipped       int                `json:"skipped"`
	Failed        []kernel.ProcessID `json:"failed,omitempty"`
	Dropped       int                `json:"dropped,omitempty"`
	Commands      []CommandRecord    `json:"commands,omitempty"`
	Events        []kernel.Event     `json:"events,omitempty"`
	Assignments   []pool.Assignment  `json:"assignments,omitempty"`
	Spawns        []pool.SpawnResult `json:"spawns,omitempty"`
	TasksFinished int                `json:"tasks_finished,omitempty"`
	TasksFailed   int                `json:"tasks_failed,omitempty"`
	Died          []string           `json:"died,omitempty"`
	Processes     int                `json:"processes"`
	Workers       int                `json:"workers"`
	StepMS        float64            `json:"step_ms"`
	Digest        string             `json:"digest"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// Host owns the persisted memory and drives one full tick at a time: decode
// the process table, deliver operator commands, run every hook, resolve the
// pool, run worker tasks, advance the world, re-encode.
type Host struct {
	cfg  Config
	reg  *kernel.Registry
	log  *log.Logger
	klog *log.Logger

	mu     sync.RWMutex
	memory []byte
	tick   atomic.Uint64

	inbox chan Command
	stop  chan struct{}
	once  sync.Once

	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1
}

func New(cfg Config, reg *kernel.Registry, st State, logger *log.Logger) (*Host, error) {
	if reg == nil {
		return nil, fmt.Errorf("host: nil registry")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 1
	}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("host: encode initial state: %w", err)
	}
	h := &Host{
		cfg:    cfg,
		reg:    reg,
		log:    logger,
		klog:   log.New(logger.Writer(), "[kernel] ", logger.Flags()),
		memory: b,
		inbox:  make(chan Command, 256),
		stop:   make(chan struct{}),
	}
	h.tick.Store(st.Tick)
	return h, nil
}

func (h *Host) SetTickLogger(l TickLogger)                    { h.tickLogger = l }
func (h *Host) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { h.snapshotSink = ch }

func (h *Host) Inbox() chan<- Command { return h.inbox }

// CurrentTick is the last completed tick.
func (h *Host) CurrentTick() uint64 { return h.tick.Load() }

// State decodes a copy of the current memory.
func (h *Host) State() (State, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var st State
	if err := json.Unmarshal(h.memory, &st); err != nil {
		return st, fmt.Errorf("decode memory: %w", err)
	}
	return st, nil
}

// Snapshot packages the current memory for the snapshot writer.
func (h *Host) Snapshot() (snapshot.SnapshotV1, error) {
	st, err := h.State()
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	return h.snapshotOf(st), nil
}

func (h *Host) snapshotOf(st State) snapshot.SnapshotV1 {
	return snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: snapshot.Version, ColonyID: h.cfg.ColonyID, Tick: st.Tick},
		TickRateHz: h.cfg.TickRateHz,
		Processes:  st.Processes,
		World:      st.World,
	}
}

func (h *Host) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(h.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []Command
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case cmd := <-h.inbox:
			pending = append(pending, cmd)
		case <-ticker.C:
			if _, err := h.Step(pending); err != nil {
				h.log.Printf("FATAL: tick %d: %v", h.CurrentTick()+1, err)
			}
			pending = pending[:0]
		}
	}
}

func (h *Host) Stop() { h.once.Do(func() { close(h.stop) }) }

// Step runs exactly one tick against the persisted memory. Commands are
// executed at the tick boundary, before any hook runs. When the new state
// cannot be encoded the memory is left untouched and the tick is lost.
func (h *Host) Step(cmds []Command) (TickLogEntry, error) {
	start := time.Now()
	h.mu.RLock()
	var st State
	err := json.Unmarshal(h.memory, &st)
	h.mu.RUnlock()
	if err != nil {
		return TickLogEntry{}, fmt.Errorf("decode memory: %w", err)
	}
	tick := st.Tick + 1

	k := kernel.New(h.klog)
	dropped := k.Load(st.Processes, h.reg, tick)
	if dropped > 0 {
		h.log.Printf("tick %d: dropped %d undecodable processes", tick, dropped)
	}
	w := world.Restore(st.World)

	entry := TickLogEntry{Tick: tick, Dropped: dropped}
	op := console.Operator{Kernel: k, Registry: h.reg, World: w, Tick: tick}
	for _, c := range cmds {
		reply := op.Execute(c.Line)
		entry.Commands = append(entry.Commands, CommandRecord{Line: c.Line, Reply: reply})
		if c.Resp != nil {
			select {
			case c.Resp <- Reply{Tick: tick, Text: reply}:
			default:
			}
		}
	}

	p := pool.New()
	p.BeginTick(w.PoolWorkers())
	rep := k.RunTick(tick, kernel.Services{Pool: p, World: w})
	entry.Assignments = p.ResolveAssignments()
	entry.Spawns = p.ResolveSpawns(w)
	for _, s := range entry.Spawns {
		if s.Err != "" {
			h.log.Printf("tick %d: spawn for %s in %s failed: %s", tick, s.TaskIdentifier, s.Group, s.Err)
		}
	}
	entry.TasksFinished, entry.TasksFailed = w.RunTasks()
	entry.Died = w.Step(tick)

	next := State{Tick: tick, Processes: k.Encode(), World: w.Export()}
	b, err := json.Marshal(next)
	if err != nil {
		return entry, fmt.Errorf("encode memory: %w", err)
	}
	h.mu.Lock()
	h.memory = b
	h.mu.Unlock()
	h.tick.Store(tick)

	entry.Ran = len(rep.Ran)
	entry.Skipped = rep.Skipped
	entry.Failed = rep.Failed
	entry.Events = k.DrainEvents()
	entry.Processes = len(next.Processes.Records)
	entry.Workers = len(next.World.Workers)
	entry.Digest = digest(b)
	entry.StepMS = float64(time.Since(start).Microseconds()) / 1000

	if h.tickLogger != nil {
		if err := h.tickLogger.WriteTick(entry); err != nil {
			h.log.Printf("tick log: %v", err)
		}
	}
	if h.snapshotSink != nil && h.cfg.SnapshotEveryTicks > 0 && tick%uint64(h.cfg.SnapshotEveryTicks) == 0 {
		select {
		case h.snapshotSink <- h.snapshotOf(next):
		default:
			// Drop if the writer is backed up; the next interval retries.
		}
	}
	return entry, nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
