package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"colony.ai/internal/pool"
	"colony.ai/internal/world"
)

type Tuning struct {
	ColonyID           string `yaml:"colony_id" json:"colony_id"`
	TickRateHz         int    `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int    `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
	LogRotateTicks     int    `yaml:"log_rotate_ticks" json:"log_rotate_ticks"`
	ArchiveEveryTicks  int    `yaml:"archive_every_ticks" json:"archive_every_ticks"`
	KeepSnapshots      int    `yaml:"keep_snapshots" json:"keep_snapshots"`

	Rooms      []RoomSpec     `yaml:"rooms" json:"rooms"`
	RoomKeeper RoomKeeperSpec `yaml:"room_keeper" json:"room_keeper"`
}

type RoomSpec struct {
	Name          string `yaml:"name" json:"name"`
	Owned         bool   `yaml:"owned" json:"owned"`
	SpawnCapacity int    `yaml:"spawn_capacity" json:"spawn_capacity"`
	Energy        int    `yaml:"energy" json:"energy"`
	Sources       int    `yaml:"sources" json:"sources"`
}

type RoomKeeperSpec struct {
	TargetWorkers int    `yaml:"target_workers" json:"target_workers"`
	Priority      string `yaml:"priority" json:"priority"`
}

func Defaults() Tuning {
	return Tuning{
		ColonyID:           "colony_1",
		TickRateHz:         5,
		SnapshotEveryTicks: 300,
		LogRotateTicks:     3000,
		ArchiveEveryTicks:  18000,
		KeepSnapshots:      20,
		Rooms: []RoomSpec{
			{Name: "W1N1", Owned: true, SpawnCapacity: 1, Energy: 300, Sources: 2},
		},
		RoomKeeper: RoomKeeperSpec{TargetWorkers: 2, Priority: "medium"},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.ColonyID = strings.TrimSpace(t.ColonyID)
	t.RoomKeeper.Priority = strings.ToLower(strings.TrimSpace(t.RoomKeeper.Priority))
	if t.RoomKeeper.Priority == "" {
		t.RoomKeeper.Priority = "medium"
	}
	for i := range t.Rooms {
		t.Rooms[i].Name = strings.TrimSpace(t.Rooms[i].Name)
		if t.Rooms[i].SpawnCapacity <= 0 {
			t.Rooms[i].SpawnCapacity = 1
		}
	}
}

func (t Tuning) Validate() error {
	if t.ColonyID == "" {
		return fmt.Errorf("colony_id must not be empty")
	}
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be in [1, 1000]")
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0")
	}
	if t.LogRotateTicks < 0 {
		return fmt.Errorf("log_rotate_ticks must be >= 0")
	}
	if t.ArchiveEveryTicks < 0 || t.KeepSnapshots < 0 {
		return fmt.Errorf("archive_every_ticks and keep_snapshots must be >= 0")
	}
	if t.ArchiveEveryTicks > 0 && (t.SnapshotEveryTicks == 0 || t.ArchiveEveryTicks%t.SnapshotEveryTicks != 0) {
		return fmt.Errorf("archive_every_ticks must be a multiple of snapshot_every_ticks")
	}
	if len(t.Rooms) == 0 {
		return fmt.Errorf("rooms must not be empty")
	}
	seen := map[string]bool{}
	for _, r := range t.Rooms {
		if r.Name == "" {
			return fmt.Errorf("room name must not be empty")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate room: %s", r.Name)
		}
		seen[r.Name] = true
		if r.Energy < 0 || r.Sources < 0 {
			return fmt.Errorf("room %s energy and sources must be >= 0", r.Name)
		}
	}
	if t.RoomKeeper.TargetWorkers < 1 {
		return fmt.Errorf("room_keeper.target_workers must be >= 1")
	}
	if _, err := pool.ParsePriority(t.RoomKeeper.Priority); err != nil {
		return fmt.Errorf("room_keeper.priority: %w", err)
	}
	return nil
}

// WorldRooms lays out the configured rooms for a fresh world.
func (t Tuning) WorldRooms() []world.Room {
	out := make([]world.Room, 0, len(t.Rooms))
	for _, r := range t.Rooms {
		out = append(out, world.NewRoom(r.Name, r.Owned, r.SpawnCapacity, r.Energy, r.Sources))
	}
	return out
}

// BootstrapArgs are the launch arguments of the colony's bootstrap process.
func (t Tuning) BootstrapArgs() map[string]string {
	return map[string]string{
		"workers":  fmt.Sprint(t.RoomKeeper.TargetWorkers),
		"priority": t.RoomKeeper.Priority,
	}
}
