package kernel

import (
	"fmt"
	"strings"
)

// Process is a unit of schedulable work. RunOnTick is invoked at most once per
// tick while the process is running; it must not block.
type Process interface {
	ProcessID() ProcessID
	LaunchTick() uint64
	TypeTag() string
	Encode() (Envelope, error)
	RunOnTick(ctx *TickContext)
}

// Describable processes provide a short status line for operators.
type Describable interface {
	ShortDescription() string
}

// Messageable processes accept free-text operator commands. The returned string
// is the reply; errors are reported in it, never panicked.
type Messageable interface {
	DidReceiveMessage(message string) string
}

// Identity is embedded by concrete processes to satisfy the identity half of
// the Process interface.
type Identity struct {
	ID     ProcessID
	Launch uint64
}

func (i Identity) ProcessID() ProcessID { return i.ID }
func (i Identity) LaunchTick() uint64   { return i.Launch }

// Label builds the deterministic operator-facing label of a process from its
// type tag and salient parameters. Empty parameters are skipped.
func Label(tag string, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, tag)
	for _, p := range params {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Describe returns p's short description when it has one, else a label made of
// its type tag and id.
func Describe(p Process) string {
	if d, ok := p.(Describable); ok {
		if s := d.ShortDescription(); s != "" {
			return s
		}
	}
	return fmt.Sprintf("%s #%d", p.TypeTag(), p.ProcessID())
}
