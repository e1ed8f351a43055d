package task

import (
	"errors"
	"fmt"
)

// Kind tags the variant held by a Task.
type Kind string

const (
	KindAction   Kind = "action"
	KindSequence Kind = "sequence"
	KindFlee     Kind = "flee"
	KindMoveTo   Kind = "move_to"
)

// ActionKind names an atomic worker action.
type ActionKind string

const (
	ActionHarvest  ActionKind = "harvest"
	ActionTransfer ActionKind = "transfer"
	ActionWait     ActionKind = "wait"
)

type Status int

const (
	InProgress Status = iota
	Finished
	Failed
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Task is a closed sum of behavior descriptions. Only the fields of the
// variant named by Kind are meaningful; the zero values of the others are
// omitted on the wire.
type Task struct {
	Kind Kind `json:"k"`

	// action
	Action ActionKind `json:"a,omitempty"`
	// action, move_to
	Target string `json:"tg,omitempty"`

	// sequence
	Children          []*Task `json:"c,omitempty"`
	Index             int     `json:"ix,omitempty"`
	IgnoreFailure     bool    `json:"if,omitempty"`
	FinishWhenSucceed bool    `json:"fs,omitempty"`

	// flee, move_to
	Inner *Task `json:"in,omitempty"`
	Range int   `json:"r,omitempty"`
}

func Action(action ActionKind, target string) *Task {
	return &Task{Kind: KindAction, Action: action, Target: target}
}

type SequenceOptions struct {
	// IgnoreFailure advances past a failed child instead of failing the sequence.
	IgnoreFailure bool
	// FinishWhenSucceed finishes the sequence as soon as any child finishes.
	FinishWhenSucceed bool
}

func Sequence(opts SequenceOptions, children ...*Task) *Task {
	return &Task{
		Kind:              KindSequence,
		Children:          children,
		IgnoreFailure:     opts.IgnoreFailure,
		FinishWhenSucceed: opts.FinishWhenSucceed,
	}
}

// Flee guards inner: while a hostile is within rng of the worker the worker
// flees instead, and inner resumes untouched once it is clear.
func Flee(inner *Task, rng int) *Task {
	return &Task{Kind: KindFlee, Inner: inner, Range: rng}
}

// MoveTo moves the worker within rng of target, then runs then (if any).
func MoveTo(target string, rng int, then *Task) *Task {
	return &Task{Kind: KindMoveTo, Target: target, Range: rng, Inner: then}
}

var ErrInvalidTask = errors.New("invalid task")

// Validate checks the structural invariants of t and its descendants. Decoders
// call it so a corrupt task is rejected at load rather than at run time.
func Validate(t *Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil", ErrInvalidTask)
	}
	switch t.Kind {
	case KindAction:
		if t.Action == "" {
			return fmt.Errorf("%w: action without kind", ErrInvalidTask)
		}
	case KindSequence:
		if len(t.Children) == 0 {
			return fmt.Errorf("%w: empty sequence", ErrInvalidTask)
		}
		if t.Index < 0 || t.Index > len(t.Children) {
			return fmt.Errorf("%w: sequence index %d out of range", ErrInvalidTask, t.Index)
		}
		for _, c := range t.Children {
			if err := Validate(c); err != nil {
				return err
			}
		}
	case KindFlee:
		if t.Range <= 0 {
			return fmt.Errorf("%w: flee range %d", ErrInvalidTask, t.Range)
		}
		return Validate(t.Inner)
	case KindMoveTo:
		if t.Target == "" {
			return fmt.Errorf("%w: move_to without target", ErrInvalidTask)
		}
		if t.Inner != nil {
			return Validate(t.Inner)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, t.Kind)
	}
	return nil
}

// Describe renders t compactly for status lines, e.g.
// "seq[1/3](move_to src1 > harvest src1)".
func Describe(t *Task) string {
	if t == nil {
		return "idle"
	}
	switch t.Kind {
	case KindAction:
		if t.Target == "" {
			return string(t.Action)
		}
		return fmt.Sprintf("%s %s", t.Action, t.Target)
	case KindSequence:
		cur := "done"
		if t.Index < len(t.Children) {
			cur = Describe(t.Children[t.Index])
		}
		return fmt.Sprintf("seq[%d/%d](%s)", t.Index, len(t.Children), cur)
	case KindFlee:
		return fmt.Sprintf("flee(%d){%s}", t.Range, Describe(t.Inner))
	case KindMoveTo:
		if t.Inner == nil {
			return fmt.Sprintf("move_to %s", t.Target)
		}
		return fmt.Sprintf("move_to %s > %s", t.Target, Describe(t.Inner))
	default:
		return string(t.Kind)
	}
}
