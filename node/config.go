package node

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.raftlite.dev/core/codecs"
)

const (
	// MinBlockSize and MaxBlockSize bound the I/O block size of a Node.
	MinBlockSize = 4096
	MaxBlockSize = 256 * 1024
	// DefaultBlockSize is used when no block size was set or persisted.
	DefaultBlockSize = 4096
	// MaxNetworkLatency bounds the configured network latency.
	MaxNetworkLatency = time.Hour
	// MinSnapshotTrailing is the smallest number of entries which may be
	// retained behind a snapshot.
	MinSnapshotTrailing = 4
)

// Config of a Node.
type Config struct {
	Dir         string `long:"dir" env:"DIR" default:"/var/lib/raftlite" description:"Data directory of the node"`
	ID          uint64 `long:"id" env:"ID" description:"Unique, non-zero ID of the node. Generated from the bind address if not set"`
	BindAddress string `long:"bind" env:"BIND" default:"127.0.0.1:9001" description:"Address advertised to cluster members"`
	BlockSize   int    `long:"block-size" env:"BLOCK_SIZE" description:"I/O block size, in bytes. A power of two between 4KiB and 256KiB. Uses the persisted size (or 4KiB) if not set"`

	NetworkLatency      time.Duration `long:"network-latency" env:"NETWORK_LATENCY" default:"20ms" description:"Expected one-way network latency between members"`
	SnapshotThreshold   uint64        `long:"snapshot-threshold" env:"SNAPSHOT_THRESHOLD" default:"1024" description:"Number of applied entries between snapshots"`
	SnapshotTrailing    uint64        `long:"snapshot-trailing" env:"SNAPSHOT_TRAILING" default:"8192" description:"Number of entries retained behind a snapshot"`
	SnapshotCompression codecs.Codec  `long:"snapshot-compression" env:"SNAPSHOT_COMPRESSION" default:"SNAPPY" choice:"NONE" choice:"GZIP" choice:"SNAPPY" choice:"ZSTANDARD" description:"Compression of snapshot data"`
	BusyTimeout         time.Duration `long:"busy-timeout" env:"BUSY_TIMEOUT" default:"5s" description:"Timeout of SQLite busy handlers, and of quiescing writes at stop"`

	// ConnectHook is invoked with each new SQLite connection.
	ConnectHook func(*sqlite3.SQLiteConn) error `no-flag:"t"`
}

// Validate returns an error if the Config is not well-formed. A zero
// BlockSize or ID is valid, and is resolved as the Node starts.
func (cfg *Config) Validate() error {
	if cfg.Dir == "" {
		return NewValidationError("expected Dir")
	} else if cfg.BindAddress == "" {
		return ExtendContext(validateBindAddress(cfg.BindAddress), "BindAddress")
	} else if cfg.BlockSize != 0 {
		if err := validateBlockSize(cfg.BlockSize); err != nil {
			return ExtendContext(err, "BlockSize")
		}
	}
	if err := validateNetworkLatency(cfg.NetworkLatency); err != nil {
		return ExtendContext(err, "NetworkLatency")
	} else if err = validateSnapshotParams(cfg.SnapshotThreshold, cfg.SnapshotTrailing); err != nil {
		return ExtendContext(err, "SnapshotParams")
	} else if err = cfg.SnapshotCompression.Validate(); err != nil {
		return ExtendContext(&ValidationError{Err: err}, "SnapshotCompression")
	} else if cfg.BusyTimeout <= 0 {
		return NewValidationError("invalid BusyTimeout (%s; expected > 0)", cfg.BusyTimeout)
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.NetworkLatency == 0 {
		cfg.NetworkLatency = 20 * time.Millisecond
	}
	if cfg.SnapshotThreshold == 0 && cfg.SnapshotTrailing == 0 {
		cfg.SnapshotThreshold, cfg.SnapshotTrailing = 1024, 8192
	}
	if cfg.SnapshotCompression == codecs.INVALID {
		cfg.SnapshotCompression = codecs.SNAPPY
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
}

func validateBlockSize(n int) error {
	if n < MinBlockSize || n > MaxBlockSize {
		return NewValidationError("invalid block size (%d; expected %d <= size <= %d)", n, MinBlockSize, MaxBlockSize)
	} else if n&(n-1) != 0 {
		return NewValidationError("invalid block size (%d; expected a power of two)", n)
	}
	return nil
}

func validateNetworkLatency(d time.Duration) error {
	if d <= 0 || d > MaxNetworkLatency {
		return NewValidationError("invalid network latency (%s; expected 0 < latency <= %s)", d, MaxNetworkLatency)
	}
	return nil
}

func validateSnapshotParams(threshold, trailing uint64) error {
	if trailing < MinSnapshotTrailing {
		return NewValidationError("invalid trailing (%d; expected >= %d)", trailing, MinSnapshotTrailing)
	} else if threshold == 0 || threshold > trailing {
		return NewValidationError("invalid threshold (%d; expected 1 <= threshold <= trailing %d)", threshold, trailing)
	}
	return nil
}

func validateBindAddress(addr string) error {
	if addr == "" {
		return NewValidationError("expected address")
	}
	return nil
}

// ValidationError is an error which captures its validation context.
type ValidationError struct {
	Context []string
	Err     error
}

func (ve *ValidationError) Error() string {
	if len(ve.Context) != 0 {
		return strings.Join(ve.Context, ".") + ": " + ve.Err.Error()
	}
	return ve.Err.Error()
}

// Unwrap returns the cause of the ValidationError.
func (ve *ValidationError) Unwrap() error { return ve.Err }

// ExtendContext type-checks |err| to a *ValidationError, and if matched extends
// it with |context|. In all cases the value of |err| is returned.
func ExtendContext(err error, format string, args ...interface{}) error {
	if ve, ok := err.(*ValidationError); ok {
		ve.Context = append([]string{fmt.Sprintf(format, args...)}, ve.Context...)
	}
	return err
}

// NewValidationError parallels fmt.Errorf to return a new ValidationError.
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}
