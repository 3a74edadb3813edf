package node

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.raftlite.dev/core/raftlog"
)

const (
	metadataFormat = 1
	// metadataSize is the size of an encoded hardState:
	//  format | version | term | voted for | block size | xxhash64.
	metadataSize = 48
)

// hardState is the durable state of a Node, which alternates between
// metadata files by the parity of its Version. Writes of one file
// therefore never disturb the prior state held by the other.
type hardState struct {
	Version   uint64
	Term      uint64
	VotedFor  uint64
	BlockSize uint64
}

func (hs hardState) marshal() []byte {
	var b = make([]byte, metadataSize)
	binary.LittleEndian.PutUint64(b[0:8], metadataFormat)
	binary.LittleEndian.PutUint64(b[8:16], hs.Version)
	binary.LittleEndian.PutUint64(b[16:24], hs.Term)
	binary.LittleEndian.PutUint64(b[24:32], hs.VotedFor)
	binary.LittleEndian.PutUint64(b[32:40], hs.BlockSize)
	binary.LittleEndian.PutUint64(b[40:48], xxhash.Sum64(b[:40]))
	return b
}

func unmarshalHardState(b []byte) (hardState, error) {
	if len(b) != metadataSize {
		return hardState{}, fmt.Errorf("invalid length %d", len(b))
	} else if f := binary.LittleEndian.Uint64(b[0:8]); f != metadataFormat {
		return hardState{}, fmt.Errorf("unknown format %d", f)
	} else if sum := binary.LittleEndian.Uint64(b[40:48]); sum != xxhash.Sum64(b[:40]) {
		return hardState{}, fmt.Errorf("checksum mismatch")
	}
	var hs = hardState{
		Version:   binary.LittleEndian.Uint64(b[8:16]),
		Term:      binary.LittleEndian.Uint64(b[16:24]),
		VotedFor:  binary.LittleEndian.Uint64(b[24:32]),
		BlockSize: binary.LittleEndian.Uint64(b[32:40]),
	}
	if hs.Version == 0 {
		return hardState{}, fmt.Errorf("invalid version 0")
	}
	return hs, nil
}

func metadataFilename(version uint64) string {
	if version%2 == 1 {
		return raftlog.MetadataFilename1
	}
	return raftlog.MetadataFilename2
}

// loadHardState returns the valid hardState of |dir| having the greatest
// Version, and whether one was found. If metadata files exist but none is
// valid, an error is returned.
func loadHardState(fs afero.Fs, dir string) (hardState, bool, error) {
	var out hardState
	var found, invalid bool

	for _, name := range []string{raftlog.MetadataFilename1, raftlog.MetadataFilename2} {
		var b, err = afero.ReadFile(fs, filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return hardState{}, false, errors.WithMessagef(err, "read %s", name)
		}

		hs, err := unmarshalHardState(b)
		if err == nil && metadataFilename(hs.Version) != name {
			err = fmt.Errorf("version %d in wrong file", hs.Version)
		}
		if err != nil {
			log.WithFields(log.Fields{"dir": dir, "name": name, "err": err}).Warn("invalid metadata file")
			invalid = true
			continue
		}
		if !found || hs.Version > out.Version {
			out, found = hs, true
		}
	}
	if !found && invalid {
		return hardState{}, false, fmt.Errorf("no valid metadata in %s", dir)
	}
	return out, found, nil
}

// storeHardState writes |hs| with its Version incremented, and returns it.
func storeHardState(fs afero.Fs, dir string, hs hardState) (hardState, error) {
	hs.Version++
	var name = metadataFilename(hs.Version)

	if err := raftlog.WriteFileSync(fs, filepath.Join(dir, name), hs.marshal()); err != nil {
		return hardState{}, errors.WithMessagef(err, "write %s", name)
	} else if err = raftlog.SyncDir(fs, dir); err != nil {
		return hardState{}, err
	}
	return hs, nil
}
