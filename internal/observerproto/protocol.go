package observerproto

import (
	"colony.ai/internal/kernel"
	"colony.ai/internal/pool"
)

// Version is the observer protocol version (separate from the console protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: only deliver events of this process.
	ProcessID kernel.ProcessID `json:"process_id,omitempty"`
	// Optional: skip ticks without lifecycle events or spawns.
	ChangesOnly bool `json:"changes_only,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	ColonyID        string   `json:"colony_id"`
	Tick            uint64   `json:"tick"`
	TickRateHz      int      `json:"tick_rate_hz"`
	ProcessTypes    []string `json:"process_types"`
}

// Server -> Client. Sent every tick that passes the subscription filter.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Ran       int                `json:"ran"`
	Skipped   int                `json:"skipped"`
	Failed    []kernel.ProcessID `json:"failed,omitempty"`
	Processes int                `json:"processes"`
	Workers   int                `json:"workers"`

	Events []kernel.Event     `json:"events,omitempty"`
	Spawns []pool.SpawnResult `json:"spawns,omitempty"`
	Died   []string           `json:"died,omitempty"`
	Digest string             `json:"digest"`
}
