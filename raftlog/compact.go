package raftlog

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Compact removes closed segments of |inv| which end at or before index
// |through|, and all but the |keepSnapshots| most recent snapshots. Snapshot
// metadata is removed before its data, so that a crash mid-way leaves only
// data files which the scanner ignores. The returned Inventory reflects the
// removals.
func Compact(fs afero.Fs, dir string, inv Inventory, through uint64, keepSnapshots int) (Inventory, error) {
	var out Inventory
	var removed int

	for _, seg := range inv.Segments {
		if seg.Open || seg.End > through {
			out.Segments = append(out.Segments, seg)
			continue
		}
		if err := removeFile(fs, dir, seg.Filename, "compacted"); err != nil {
			return Inventory{}, err
		}
		removed++
	}

	var drop = len(inv.Snapshots) - keepSnapshots
	for i, snap := range inv.Snapshots {
		if i >= drop {
			out.Snapshots = append(out.Snapshots, snap)
			continue
		}
		if err := removeSnapshot(fs, dir, snap); err != nil {
			return Inventory{}, err
		}
		removed++
	}

	if removed != 0 {
		if err := SyncDir(fs, dir); err != nil {
			return Inventory{}, err
		}
		log.WithFields(log.Fields{
			"dir":     dir,
			"through": through,
			"removed": removed,
		}).Info("compacted log")
	}
	return out, nil
}

func removeSnapshot(fs afero.Fs, dir string, snap Snapshot) error {
	if err := removeFile(fs, dir, snap.MetaFilename, "compacted"); err != nil {
		return err
	}
	for _, name := range snap.DataFilenames() {
		if err := removeFile(fs, dir, name, "compacted"); err != nil {
			return err
		}
	}
	return nil
}
