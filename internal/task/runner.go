package task

// World is what the runner needs from the game world. Object ids are opaque
// strings; a vanished object simply stops existing.
type World interface {
	Exists(id string) bool
	// InRange reports whether worker is within rng tiles of target.
	InRange(worker, target string, rng int) bool
	// MoveToward steps worker toward target; false when no progress is possible.
	MoveToward(worker, target string) bool
	HostileNear(worker string, rng int) bool
	FleeFrom(worker string, rng int)
	Perform(worker string, action ActionKind, target string) Status
}

// Run evaluates t for one tick on behalf of worker. It mutates the persisted
// cursor state inside t (sequence index) and never panics on missing targets:
// a vanished target is reported as Failed.
func Run(t *Task, worker string, w World) Status {
	if t == nil {
		return Failed
	}
	switch t.Kind {
	case KindAction:
		return runAction(t, worker, w)
	case KindSequence:
		return runSequence(t, worker, w)
	case KindFlee:
		return runFlee(t, worker, w)
	case KindMoveTo:
		return runMoveTo(t, worker, w)
	default:
		return Failed
	}
}

func runAction(t *Task, worker string, w World) Status {
	if t.Target != "" && !w.Exists(t.Target) {
		return Failed
	}
	return w.Perform(worker, t.Action, t.Target)
}

func runSequence(t *Task, worker string, w World) Status {
	if t.Index >= len(t.Children) {
		return Finished
	}
	switch Run(t.Children[t.Index], worker, w) {
	case InProgress:
		return InProgress
	case Finished:
		if t.FinishWhenSucceed {
			t.Index = len(t.Children)
			return Finished
		}
	case Failed:
		if !t.IgnoreFailure {
			return Failed
		}
	}
	t.Index++
	if t.Index >= len(t.Children) {
		return Finished
	}
	return InProgress
}

func runFlee(t *Task, worker string, w World) Status {
	if w.HostileNear(worker, t.Range) {
		w.FleeFrom(worker, t.Range)
		return InProgress
	}
	return Run(t.Inner, worker, w)
}

func runMoveTo(t *Task, worker string, w World) Status {
	if !w.Exists(t.Target) {
		return Failed
	}
	if w.InRange(worker, t.Target, t.Range) {
		if t.Inner == nil {
			return Finished
		}
		return Run(t.Inner, worker, w)
	}
	if !w.MoveToward(worker, t.Target) {
		return Failed
	}
	return InProgress
}
