package kernel

import (
	"encoding/json"
	"fmt"
)

// ProcessID identifies a live process. Ids are allocated by the kernel and are
// never reused while the process lives. Zero means "no process".
type ProcessID int64

const NoParent ProcessID = 0

// Envelope is the persisted form of a process between ticks.
type Envelope struct {
	Type       string          `json:"t"`
	LaunchTick uint64          `json:"l"`
	ID         ProcessID       `json:"i"`
	Payload    json.RawMessage `json:"p,omitempty"`
}

// NewEnvelope stamps p's identity on an envelope and marshals payload into it.
// A nil payload produces an envelope without a "p" field.
func NewEnvelope(p Process, payload any) (Envelope, error) {
	env := Envelope{
		Type:       p.TypeTag(),
		LaunchTick: p.LaunchTick(),
		ID:         p.ProcessID(),
	}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return env, fmt.Errorf("encode %s payload: %w", env.Type, err)
	}
	env.Payload = b
	return env, nil
}

// DecodePayload unmarshals the type-specific payload into v. An absent payload
// leaves v untouched.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Identity returns the (id, launch tick) pair carried by the envelope.
func (e Envelope) Identity() Identity {
	return Identity{ID: e.ID, Launch: e.LaunchTick}
}
