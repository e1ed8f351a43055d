package kernel

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
)

var (
	ErrDuplicateType    = errors.New("duplicate process type")
	ErrUnregisteredType = errors.New("unregistered process type")
)

// DecodeFunc reconstructs a live process from its envelope.
type DecodeFunc func(env Envelope) (Process, error)

// LaunchFunc builds a brand new top-level process for an operator launch.
// args holds the key=value arguments of the launch command.
type LaunchFunc func(id ProcessID, tick uint64, args map[string]string) (Process, error)

// Registry maps envelope type tags to decoders. It is built once at startup and
// shared by the kernel and the loader; every process type registers exactly once.
type Registry struct {
	log       *log.Logger
	decoders  map[string]DecodeFunc
	launchers map[string]LaunchFunc
}

func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		log:       logger,
		decoders:  map[string]DecodeFunc{},
		launchers: map[string]LaunchFunc{},
	}
}

// Register binds tag to fn. A second registration of the same tag is a
// configuration error: it is logged as fatal, the first binding wins and the
// error is returned for callers that care.
func (r *Registry) Register(tag string, fn DecodeFunc) error {
	tag = strings.TrimSpace(tag)
	if tag == "" || fn == nil {
		r.log.Printf("FATAL: register: empty tag or nil decoder (tag=%q)", tag)
		return fmt.Errorf("register %q: invalid registration", tag)
	}
	if _, ok := r.decoders[tag]; ok {
		r.log.Printf("FATAL: register: %s already registered", tag)
		return fmt.Errorf("register %s: %w", tag, ErrDuplicateType)
	}
	r.decoders[tag] = fn
	return nil
}

// RegisterLauncher makes tag launchable from the operator console. The tag must
// already have a decoder.
func (r *Registry) RegisterLauncher(tag string, fn LaunchFunc) error {
	if _, ok := r.decoders[tag]; !ok {
		r.log.Printf("FATAL: register launcher: %s has no decoder", tag)
		return fmt.Errorf("register launcher %s: %w", tag, ErrUnregisteredType)
	}
	if _, ok := r.launchers[tag]; ok {
		r.log.Printf("FATAL: register launcher: %s already registered", tag)
		return fmt.Errorf("register launcher %s: %w", tag, ErrDuplicateType)
	}
	r.launchers[tag] = fn
	return nil
}

// Decode reconstructs the process held by env. Unknown tags and decoder
// failures are logged and reported; the caller drops the process for this tick.
func (r *Registry) Decode(env Envelope) (Process, error) {
	fn, ok := r.decoders[env.Type]
	if !ok {
		r.log.Printf("decode: unregistered type %q (process %d)", env.Type, env.ID)
		return nil, fmt.Errorf("decode %q: %w", env.Type, ErrUnregisteredType)
	}
	p, err := fn(env)
	if err != nil {
		r.log.Printf("decode: %s process %d: %v", env.Type, env.ID, err)
		return nil, err
	}
	if p == nil {
		r.log.Printf("decode: %s process %d: decoder returned nil", env.Type, env.ID)
		return nil, fmt.Errorf("decode %s: nil process", env.Type)
	}
	return p, nil
}

// Launcher returns the launch function for tag, if any.
func (r *Registry) Launcher(tag string) (LaunchFunc, bool) {
	fn, ok := r.launchers[tag]
	return fn, ok
}

// Tags lists registered type tags in sorted order.
func (r *Registry) Tags() []string {
	out := make([]string, 0, len(r.decoders))
	for tag := range r.decoders {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
