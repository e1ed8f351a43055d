package pool

import (
	"fmt"
	"sort"
	"strings"

	"colony.ai/internal/task"
)

// Priority is an ordered request tier; lower values win.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
	PriorityCancellable
)

var priorityNames = []string{"urgent", "high", "medium", "low", "cancellable"}

func (p Priority) String() string {
	if p >= 0 && int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range priorityNames {
		if n == s {
			return Priority(i), nil
		}
	}
	return PriorityLow, fmt.Errorf("unknown priority %q (want one of %s)", s, strings.Join(priorityNames, ", "))
}

// Worker is the pool's view of a world-owned worker.
type Worker interface {
	Name() string
	Group() string
	TaskIdentifier() string
	// Idle reports whether the worker is spawned and holds no task.
	Idle() bool
	// Assign replaces the worker's task. The previous task is discarded
	// without any cleanup.
	Assign(taskIdentifier string, t *task.Task)
}

type Predicate func(Worker) bool

// WithTaskIdentifier selects workers spawned for (or last assigned by) id.
func WithTaskIdentifier(id string) Predicate {
	return func(w Worker) bool { return w.TaskIdentifier() == id }
}

type SpawnRequest struct {
	Priority Priority
	// Count is the number of workers wanted; each one takes a production slot.
	Count          int
	Body           []string
	TaskIdentifier string
	Codename       string
	ParentGroup    string
	InitialTask    *task.Task
}

// Producer realizes spawn requests. Capacity is the number of workers a group
// can produce in the current cycle.
type Producer interface {
	Capacity(group string) int
	Produce(group string, req SpawnRequest) (name string, err error)
}

type TaskFactory func(w Worker) *task.Task

type spawnEntry struct {
	req SpawnRequest
	seq int
}

type assignEntry struct {
	taskIdentifier string
	priority       Priority
	factory        TaskFactory
	eligible       Predicate
	seq            int
}

type group struct {
	workers []Worker
	spawns  []spawnEntry
	assigns []assignEntry
}

// Pool collects spawn and assignment requests from processes during a tick and
// resolves them at the end of it, strictly by priority and then by submission
// order. It is rebuilt every tick and is not safe for concurrent use.
type Pool struct {
	groups map[string]*group
	seq    int
}

func New() *Pool {
	return &Pool{groups: map[string]*group{}}
}

// BeginTick drops all pending requests and loads this tick's workers.
// Worker order within a group is preserved.
func (p *Pool) BeginTick(workers []Worker) {
	p.groups = map[string]*group{}
	p.seq = 0
	for _, w := range workers {
		g := p.group(w.Group())
		g.workers = append(g.workers, w)
	}
}

func (p *Pool) group(key string) *group {
	g, ok := p.groups[key]
	if !ok {
		g = &group{}
		p.groups[key] = g
	}
	return g
}

// AddSpawnRequest enqueues a production request. Submitting the same task
// identifier twice is a caller bug and is not detected here.
func (p *Pool) AddSpawnRequest(groupKey string, req SpawnRequest) {
	if req.Count <= 0 {
		req.Count = 1
	}
	p.seq++
	g := p.group(groupKey)
	g.spawns = append(g.spawns, spawnEntry{req: req, seq: p.seq})
}

// AssignTasks registers a claim on the idle workers of groupKey. At
// resolution, every idle worker matching eligible and not yet claimed by a
// higher- or equal-priority earlier request is offered to factory; a nil task
// leaves the worker idle for later claimants.
func (p *Pool) AssignTasks(groupKey, taskIdentifier string, priority Priority, factory TaskFactory, eligible Predicate) {
	if factory == nil {
		return
	}
	p.seq++
	g := p.group(groupKey)
	g.assigns = append(g.assigns, assignEntry{
		taskIdentifier: taskIdentifier,
		priority:       priority,
		factory:        factory,
		eligible:       eligible,
		seq:            p.seq,
	})
}

func (p *Pool) CountWorkers(groupKey string, pred Predicate) int {
	return len(p.Workers(groupKey, pred))
}

// Workers returns the workers of groupKey matching pred (all when pred is nil).
func (p *Pool) Workers(groupKey string, pred Predicate) []Worker {
	g, ok := p.groups[groupKey]
	if !ok {
		return nil
	}
	var out []Worker
	for _, w := range g.workers {
		if pred == nil || pred(w) {
			out = append(out, w)
		}
	}
	return out
}

// PendingSpawns is the number of spawn requests queued for groupKey this tick.
func (p *Pool) PendingSpawns(groupKey string) int {
	if g, ok := p.groups[groupKey]; ok {
		return len(g.spawns)
	}
	return 0
}

func (p *Pool) groupKeys() []string {
	keys := make([]string, 0, len(p.groups))
	for k := range p.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Assignment struct {
	Group          string   `json:"group"`
	Worker         string   `json:"worker"`
	TaskIdentifier string   `json:"task_identifier"`
	Priority       Priority `json:"priority"`
}

// ResolveAssignments hands idle workers to claimants, highest priority first,
// ties broken by submission order.
func (p *Pool) ResolveAssignments() []Assignment {
	var out []Assignment
	for _, key := range p.groupKeys() {
		g := p.groups[key]
		reqs := append([]assignEntry(nil), g.assigns...)
		sort.SliceStable(reqs, func(i, j int) bool {
			if reqs[i].priority != reqs[j].priority {
				return reqs[i].priority < reqs[j].priority
			}
			return reqs[i].seq < reqs[j].seq
		})
		claimed := map[string]bool{}
		for _, r := range reqs {
			for _, w := range g.workers {
				if claimed[w.Name()] || !w.Idle() {
					continue
				}
				if r.eligible != nil && !r.eligible(w) {
					continue
				}
				t := r.factory(w)
				if t == nil {
					continue
				}
				w.Assign(r.taskIdentifier, t)
				claimed[w.Name()] = true
				out = append(out, Assignment{Group: key, Worker: w.Name(), TaskIdentifier: r.taskIdentifier, Priority: r.priority})
			}
		}
	}
	return out
}

type SpawnResult struct {
	Group          string   `json:"group"`
	TaskIdentifier string   `json:"task_identifier"`
	Priority       Priority `json:"priority"`
	Worker         string   `json:"worker,omitempty"`
	Err            string   `json:"error,omitempty"`
}

// ResolveSpawns realizes at most producer.Capacity(group) workers per group,
// taking requests in priority then submission order. Unhonored requests are
// dropped; requesters resubmit on a later tick.
func (p *Pool) ResolveSpawns(producer Producer) []SpawnResult {
	var out []SpawnResult
	for _, key := range p.groupKeys() {
		g := p.groups[key]
		if len(g.spawns) == 0 {
			continue
		}
		reqs := append([]spawnEntry(nil), g.spawns...)
		sort.SliceStable(reqs, func(i, j int) bool {
			if reqs[i].req.Priority != reqs[j].req.Priority {
				return reqs[i].req.Priority < reqs[j].req.Priority
			}
			return reqs[i].seq < reqs[j].seq
		})
		slots := producer.Capacity(key)
		for _, r := range reqs {
			for n := 0; n < r.req.Count && slots > 0; n++ {
				slots--
				res := SpawnResult{Group: key, TaskIdentifier: r.req.TaskIdentifier, Priority: r.req.Priority}
				name, err := producer.Produce(key, r.req)
				if err != nil {
					res.Err = err.Error()
				} else {
					res.Worker = name
				}
				out = append(out, res)
			}
			if slots <= 0 {
				break
			}
		}
	}
	return out
}
