package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.raftlite.dev/core/codecs"
	"go.raftlite.dev/core/raftlog"
	"gopkg.in/yaml.v2"
)

const (
	// ClusterFilename holds the persisted cluster membership of a Node.
	ClusterFilename = "cluster.yaml"
	// InfoFilename holds a description of the Node which last ran in a directory.
	InfoFilename = "info.yaml"
)

// Role of a cluster member.
type Role int

const (
	// Voter members replicate the log and vote in elections.
	Voter Role = iota
	// StandBy members replicate the log, but don't vote.
	StandBy
	// Spare members neither replicate nor vote.
	Spare
)

var roleNames = []string{"voter", "stand-by", "spare"}

func (r Role) String() string {
	if r >= 0 && int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Validate returns an error if the Role is not known.
func (r Role) Validate() error {
	if r < 0 || int(r) >= len(roleNames) {
		return NewValidationError("unknown role (%d)", int(r))
	}
	return nil
}

// ParseRole parses a case-insensitive Role name.
func ParseRole(s string) (Role, error) {
	for i, n := range roleNames {
		if strings.EqualFold(n, s) {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("%q is not a valid role (options are %s)", s, strings.Join(roleNames, ", "))
}

// MarshalYAML encodes the Role by name.
func (r Role) MarshalYAML() (interface{}, error) { return r.String(), nil }

// UnmarshalYAML decodes a Role name.
func (r *Role) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	var parsed, err = ParseRole(str)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// NodeInfo describes a member of the cluster.
type NodeInfo struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
	Role    Role   `yaml:"role"`
}

// Validate returns an error if the NodeInfo is not well-formed.
func (ni NodeInfo) Validate() error {
	if ni.ID == 0 {
		return NewValidationError("invalid ID (expected != 0)")
	} else if ni.Address == "" {
		return NewValidationError("expected Address")
	} else if err := ni.Role.Validate(); err != nil {
		return ExtendContext(err, "Role")
	}
	return nil
}

// Cluster is the persisted membership of a Node's cluster.
type Cluster struct {
	Nodes []NodeInfo `yaml:"nodes"`
}

// Validate returns an error if the Cluster is empty, or has invalid or
// duplicated members.
func (c Cluster) Validate() error {
	if len(c.Nodes) == 0 {
		return NewValidationError("expected at least one node")
	}
	var seen = make(map[uint64]struct{}, len(c.Nodes))

	for i, n := range c.Nodes {
		if err := n.Validate(); err != nil {
			return ExtendContext(err, "Nodes[%d]", i)
		} else if _, ok := seen[n.ID]; ok {
			return ExtendContext(NewValidationError("duplicate ID %d", n.ID), "Nodes[%d]", i)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// info is the content of InfoFilename.
type info struct {
	ID                  uint64        `yaml:"id"`
	Address             string        `yaml:"address"`
	BlockSize           int           `yaml:"block_size"`
	NetworkLatency      time.Duration `yaml:"network_latency"`
	SnapshotThreshold   uint64        `yaml:"snapshot_threshold"`
	SnapshotTrailing    uint64        `yaml:"snapshot_trailing"`
	SnapshotCompression codecs.Codec  `yaml:"snapshot_compression"`
	Term                uint64        `yaml:"term"`
	StartedAt           time.Time     `yaml:"started_at"`
}

// ReadCluster reads the Cluster of |dir|, and whether it exists.
func ReadCluster(fs afero.Fs, dir string) (Cluster, bool, error) {
	var b, err = afero.ReadFile(fs, filepath.Join(dir, ClusterFilename))
	if os.IsNotExist(err) {
		return Cluster{}, false, nil
	} else if err != nil {
		return Cluster{}, false, errors.WithMessagef(err, "read %s", ClusterFilename)
	}

	var c Cluster
	if err = yaml.UnmarshalStrict(b, &c); err != nil {
		return Cluster{}, false, errors.WithMessagef(err, "decode %s", ClusterFilename)
	} else if err = c.Validate(); err != nil {
		return Cluster{}, false, errors.WithMessagef(err, "validate %s", ClusterFilename)
	}
	return c, true, nil
}

func writeCluster(fs afero.Fs, dir string, c Cluster) error {
	var b, err = yaml.Marshal(c)
	if err != nil {
		return err
	}
	return raftlog.WriteFileAtomic(fs, dir, ClusterFilename, b)
}

func writeInfo(fs afero.Fs, dir string, i info) error {
	var b, err = yaml.Marshal(i)
	if err != nil {
		return err
	}
	return raftlog.WriteFileAtomic(fs, dir, InfoFilename, b)
}
