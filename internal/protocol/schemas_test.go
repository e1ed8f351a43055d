package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"colony.ai/internal/host"
	"colony.ai/internal/kernel"
	"colony.ai/internal/processes"
	"colony.ai/internal/protocol"
	"colony.ai/internal/world"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// toAny round-trips v through JSON so the validator sees plain maps.
func toAny(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	commandSchema := compile(t, "command.schema.json")
	resultSchema := compile(t, "result.schema.json")
	errorSchema := compile(t, "error.schema.json")

	var cmd any
	_ = json.Unmarshal([]byte(`{
	  "type":"COMMAND",
	  "protocol_version":"1.0",
	  "id":"c1",
	  "line":"launch room_keeper room=W1N1 workers=3"
	}`), &cmd)
	validate(commandSchema, cmd)

	validate(commandSchema, toAny(t, protocol.CommandMsg{
		Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, ID: "c2", Line: "ps",
	}))
	validate(resultSchema, toAny(t, protocol.ResultMsg{
		Type: protocol.TypeResult, ProtocolVersion: protocol.Version, ID: "c2", Tick: 12, Text: "PID TYPE",
	}))
	validate(errorSchema, toAny(t, protocol.ErrorMsg{
		Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrBusy, Message: "inbox full",
	}))
}

func TestSchemas_RejectBadCommands(t *testing.T) {
	commandSchema := compile(t, "command.schema.json")
	bad := []string{
		`{"type":"COMMAND","protocol_version":"1.0","id":"c1"}`,
		`{"type":"COMMAND","protocol_version":"1.0","id":"c1","line":""}`,
		`{"type":"RESULT","protocol_version":"1.0","id":"c1","line":"ps"}`,
		`{"type":"COMMAND","protocol_version":"2.0","id":"c1","line":"ps"}`,
		`{"type":"COMMAND","protocol_version":"1.0","id":"c1","line":"ps","extra":1}`,
	}
	for _, raw := range bad {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if err := commandSchema.Validate(v); err == nil {
			t.Fatalf("expected %s to be rejected", raw)
		}
	}
}

func TestSchemas_TickLogEntries(t *testing.T) {
	tickSchema := compile(t, "tick.schema.json")

	reg := kernel.NewRegistry(nil)
	if err := processes.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	st, err := host.Fresh(reg, []world.Room{world.NewRoom("W1N1", true, 1, 1000, 2)},
		host.Launch{Type: processes.BootstrapType})
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	h, err := host.New(host.Config{ColonyID: "colony_1", TickRateHz: 5}, reg, st, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 5; i++ {
		var cmds []host.Command
		if i == 2 {
			cmds = []host.Command{{Line: "ps"}}
		}
		entry, err := h.Step(cmds)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if err := tickSchema.Validate(toAny(t, entry)); err != nil {
			t.Fatalf("tick %d: %v", entry.Tick, err)
		}
	}
}

func TestSchemas_ProcessTable(t *testing.T) {
	envSchema := compile(t, "envelope.schema.json")
	tableSchema := compile(t, "table.schema.json")

	reg := kernel.NewRegistry(nil)
	if err := processes.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	st, err := host.Fresh(reg, []world.Room{world.NewRoom("W1N1", true, 1, 1000, 2)},
		host.Launch{Type: processes.BootstrapType})
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	h, err := host.New(host.Config{ColonyID: "colony_1", TickRateHz: 5}, reg, st, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := h.Step(nil); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	cur, err := h.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(cur.Processes.Records) == 0 {
		t.Fatalf("no processes after bootstrap")
	}
	if err := tableSchema.Validate(toAny(t, cur.Processes)); err != nil {
		t.Fatalf("table: %v", err)
	}
	for _, rec := range cur.Processes.Records {
		if err := envSchema.Validate(toAny(t, rec.Envelope)); err != nil {
			t.Fatalf("envelope %d: %v", rec.Envelope.ID, err)
		}
	}

	var bad any
	_ = json.Unmarshal([]byte(`{"t":"","l":0,"i":0}`), &bad)
	if err := envSchema.Validate(bad); err == nil {
		t.Fatalf("expected empty type and zero id to be rejected")
	}
}
