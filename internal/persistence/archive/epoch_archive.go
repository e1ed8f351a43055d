package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"colony.ai/internal/persistence/snapshot"
)

type EpochArchiveMeta struct {
	Epoch     int    `json:"epoch"`
	ColonyID  string `json:"colony_id"`
	EndTick   uint64 `json:"end_tick"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
	Processes int    `json:"processes"`
	Workers   int    `json:"workers"`
	Rooms     int    `json:"rooms"`
}

// ArchiveEpochSnapshot copies a snapshot taken at an epoch boundary into
// `colonyDir/archives/epoch_<NNN>/`. It returns (epoch, archivedPath,
// archived=true) when the snapshot tick is a positive multiple of everyTicks.
func ArchiveEpochSnapshot(colonyDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks int) (epoch int, archivedPath string, archived bool, err error) {
	if everyTicks <= 0 || snap.Header.Tick == 0 {
		return 0, "", false, nil
	}
	if snap.Header.Tick%uint64(everyTicks) != 0 {
		return 0, "", false, nil
	}
	epoch = int(snap.Header.Tick / uint64(everyTicks))

	archiveDir := filepath.Join(colonyDir, "archives", fmt.Sprintf("epoch_%03d", epoch))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := EpochArchiveMeta{
		Epoch:     epoch,
		ColonyID:  snap.Header.ColonyID,
		EndTick:   snap.Header.Tick,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Processes: len(snap.Processes.Records),
		Workers:   len(snap.World.Workers),
		Rooms:     len(snap.World.Rooms),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return epoch, dst, true, nil
}

// PruneSnapshots deletes all but the newest keep `<tick>.snap.zst` files in
// dir and returns the removed paths. keep <= 0 disables pruning.
func PruneSnapshots(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snapFile struct {
		tick uint64
		path string
	}
	var files []snapFile
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, snapFile{tick: tick, path: filepath.Join(dir, e.Name())})
	}
	if len(files) <= keep {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].tick < files[j].tick })

	var removed []string
	for _, f := range files[:len(files)-keep] {
		if err := os.Remove(f.path); err != nil {
			return removed, err
		}
		removed = append(removed, f.path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
