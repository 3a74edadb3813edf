package raftlog

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// List scans |dir| once, and returns an Inventory of its snapshots and
// segments ordered for replay. Entries which are reserved, malformed, or
// belong to incomplete snapshots are skipped. Any I/O fault or corruption
// aborts the scan, and no partial Inventory is returned.
func List(fs afero.Fs, dir string) (Inventory, error) {
	var inv, err = list(fs, dir)
	if err != nil {
		scansTotal.WithLabelValues("error").Inc()
		return Inventory{}, err
	}
	scansTotal.WithLabelValues("ok").Inc()
	return inv, nil
}

func list(fs afero.Fs, dir string) (Inventory, error) {
	var infos, err = afero.ReadDir(fs, dir)
	if err != nil {
		return Inventory{}, errors.WithMessage(err, "scan data directory")
	}
	var inv Inventory

	for _, info := range infos {
		var name = info.Name()

		if !info.Mode().IsRegular() {
			log.WithFields(log.Fields{"dir": dir, "name": name}).Debug("ignore non-regular")
			continue
		}

		switch c := Classify(name); c.Kind {
		case KindSnapshot:
			if ok, err := appendSnapshotIfMatch(fs, dir, info, &inv.Snapshots); err != nil {
				return Inventory{}, err
			} else if ok {
				log.WithFields(log.Fields{"dir": dir, "name": name}).Debug("snapshot")
				continue
			}
		case KindSegment:
			if appendSegmentIfMatch(info, &inv.Segments) {
				log.WithFields(log.Fields{"dir": dir, "name": name}).Debug("segment")
				continue
			}
		}
		log.WithFields(log.Fields{"dir": dir, "name": name}).Debug("ignore")
	}

	if err = SortSnapshots(inv.Snapshots); err != nil {
		return Inventory{}, err
	}
	SortSegments(inv.Segments)

	return inv, nil
}
