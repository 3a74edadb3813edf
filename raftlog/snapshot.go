package raftlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.raftlite.dev/core/codecs"
)

const (
	snapshotMetaFormat = 1
	// snapshotMetaSize is the exact size of an encoded SnapshotMeta.
	snapshotMetaSize = 40
)

// SnapshotMeta is the content of a snapshot metadata file.
type SnapshotMeta struct {
	// Codec with which snapshot data is compressed.
	Codec codecs.Codec
	// Number of parts into which data is split, or zero if data is
	// held in a single unsplit file.
	Parts int
	// Uncompressed length of the snapshot content.
	ContentLength int64
}

func (m SnapshotMeta) marshal() []byte {
	var b = make([]byte, snapshotMetaSize)
	binary.LittleEndian.PutUint64(b[0:8], snapshotMetaFormat)
	binary.LittleEndian.PutUint64(b[16:24], uint64(m.Codec))
	binary.LittleEndian.PutUint64(b[24:32], uint64(m.Parts))
	binary.LittleEndian.PutUint64(b[32:40], uint64(m.ContentLength))
	binary.LittleEndian.PutUint64(b[8:16], xxhash.Sum64(b[16:]))
	return b
}

func unmarshalSnapshotMeta(b []byte) (SnapshotMeta, error) {
	if len(b) != snapshotMetaSize {
		return SnapshotMeta{}, fmt.Errorf("invalid metadata length %d", len(b))
	} else if f := binary.LittleEndian.Uint64(b[0:8]); f != snapshotMetaFormat {
		return SnapshotMeta{}, fmt.Errorf("unknown metadata format %d", f)
	} else if sum := binary.LittleEndian.Uint64(b[8:16]); sum != xxhash.Sum64(b[16:]) {
		return SnapshotMeta{}, fmt.Errorf("metadata checksum mismatch")
	}
	var m = SnapshotMeta{
		Codec:         codecs.Codec(binary.LittleEndian.Uint64(b[16:24])),
		Parts:         int(binary.LittleEndian.Uint64(b[24:32])),
		ContentLength: int64(binary.LittleEndian.Uint64(b[32:40])),
	}
	if err := m.Codec.Validate(); err != nil {
		return SnapshotMeta{}, err
	} else if m.Parts < 0 || m.Parts > maxSnapshotParts {
		return SnapshotMeta{}, fmt.Errorf("invalid parts count %d", m.Parts)
	}
	return m, nil
}

// maxSnapshotParts bounds the number of data parts of a single snapshot.
const maxSnapshotParts = 1 << 16

// Snapshot describes a complete snapshot found in a data directory.
type Snapshot struct {
	SnapshotKey
	Meta SnapshotMeta
	// MetaFilename is the name of the snapshot metadata file.
	MetaFilename string
	// DataSize is the total size of all data files, in bytes.
	DataSize int64
}

// DataFilenames returns the names of the snapshot's data files, in order.
func (s Snapshot) DataFilenames() []string {
	if s.Meta.Parts == 0 {
		return []string{s.DataName()}
	}
	var out = make([]string, s.Meta.Parts)
	for i := range out {
		out[i] = s.PartName(i)
	}
	return out
}

// appendSnapshotIfMatch appends a Snapshot to |snapshots| if |info| names a
// snapshot metadata file which is well-formed, and all data files the
// metadata requires are present and non-empty. Candidates failing these
// checks are dropped without error, as they're expected after a crash
// mid-way through snapshot creation or removal. I/O errors are returned.
func appendSnapshotIfMatch(fs afero.Fs, dir string, info os.FileInfo, snapshots *[]Snapshot) (bool, error) {
	var key, ok = ParseSnapshotMetaName(info.Name())
	if !ok {
		return false, nil
	}
	var dropped = func(reason string) (bool, error) {
		log.WithFields(log.Fields{"dir": dir, "name": info.Name(), "reason": reason}).
			Debug("dropped snapshot candidate")
		droppedSnapshotsTotal.Inc()
		return false, nil
	}

	if info.Size() != snapshotMetaSize {
		return dropped(fmt.Sprintf("metadata has size %d", info.Size()))
	}
	var b, err = afero.ReadFile(fs, filepath.Join(dir, info.Name()))
	if os.IsNotExist(err) {
		return dropped("metadata removed")
	} else if err != nil {
		return false, errors.WithMessagef(err, "read snapshot metadata %s", info.Name())
	}
	meta, err := unmarshalSnapshotMeta(b)
	if err != nil {
		return dropped(err.Error())
	}

	var snap = Snapshot{
		SnapshotKey:  key,
		Meta:         meta,
		MetaFilename: info.Name(),
	}
	// A split snapshot must not also have an unsplit data file.
	if meta.Parts != 0 {
		if _, found, err := statRegular(fs, filepath.Join(dir, key.DataName())); err != nil {
			return false, errors.WithMessagef(err, "stat snapshot data %s", key.DataName())
		} else if found {
			return dropped("both unsplit and split data files exist")
		}
	}
	for _, name := range snap.DataFilenames() {
		var size, found, err = statRegular(fs, filepath.Join(dir, name))
		if err != nil {
			return false, errors.WithMessagef(err, "stat snapshot data %s", name)
		} else if !found {
			return dropped("missing data file " + name)
		} else if size == 0 {
			return dropped("empty data file " + name)
		}
		snap.DataSize += size
	}

	*snapshots = append(*snapshots, snap)
	return true, nil
}

// SortSnapshots orders Snapshots on ascending (term, index, timestamp), such
// that the most recent Snapshot is last. Keys are unique by construction,
// and a duplicated key is reported as corruption.
func SortSnapshots(s []Snapshot) error {
	sort.Slice(s, func(i, j int) bool { return s[i].SnapshotKey.Less(s[j].SnapshotKey) })

	for i := 1; i < len(s); i++ {
		if s[i-1].SnapshotKey == s[i].SnapshotKey {
			return errors.WithMessagef(ErrCorrupt, "duplicate snapshot key %s (%s and %s)",
				s[i].SnapshotKey, s[i-1].MetaFilename, s[i].MetaFilename)
		}
	}
	return nil
}

// statRegular returns the size of the regular file at |path|, and whether
// it exists. A non-regular file is treated as absent.
func statRegular(fs afero.Fs, path string) (int64, bool, error) {
	var info, err = fs.Stat(path)
	if os.IsNotExist(err) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	} else if !info.Mode().IsRegular() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}
