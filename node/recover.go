package node

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// NodeInfoExtSizeOrig is the declared Size of a NodeInfoExt having no
// extension fields.
const NodeInfoExtSizeOrig = 32

// nodeInfoExtAlign is the required alignment of a NodeInfoExt Size.
const nodeInfoExtAlign = 8

// NodeInfoExt is a forward-compatible NodeInfo recovery record. Size declares
// the size of the record in bytes, and Ext holds fields beyond the base
// layout which must be zero until a newer layout is understood.
type NodeInfoExt struct {
	Size    uint64
	ID      uint64
	Address string
	Role    Role
	Ext     []byte
}

// NewNodeInfoExt returns the NodeInfoExt of a NodeInfo.
func NewNodeInfoExt(ni NodeInfo) NodeInfoExt {
	return NodeInfoExt{Size: NodeInfoExtSizeOrig, ID: ni.ID, Address: ni.Address, Role: ni.Role}
}

// Validate returns an error if the record is misaligned, declares a size
// inconsistent with its extension, or has non-zero extension bytes.
func (ne NodeInfoExt) Validate() error {
	if ne.Size < NodeInfoExtSizeOrig {
		return NewValidationError("invalid Size (%d; expected >= %d)", ne.Size, NodeInfoExtSizeOrig)
	} else if ne.Size%nodeInfoExtAlign != 0 {
		return NewValidationError("invalid Size (%d; expected a multiple of %d)", ne.Size, nodeInfoExtAlign)
	} else if ne.Size != NodeInfoExtSizeOrig+uint64(len(ne.Ext)) {
		return NewValidationError("invalid Size (%d; extension implies %d)", ne.Size, NodeInfoExtSizeOrig+len(ne.Ext))
	}
	for i, b := range ne.Ext {
		if b != 0 {
			return NewValidationError("unknown extension (non-zero byte at offset %d)", NodeInfoExtSizeOrig+i)
		}
	}
	return ne.NodeInfo().Validate()
}

// NodeInfo returns the NodeInfo of the record.
func (ne NodeInfoExt) NodeInfo() NodeInfo {
	return NodeInfo{ID: ne.ID, Address: ne.Address, Role: ne.Role}
}

// GenerateNodeID returns a random, non-zero node ID for |address|.
func GenerateNodeID(address string) uint64 {
	for {
		var u = uuid.New()
		var id = binary.LittleEndian.Uint64(u[:8]) ^ xxhash.Sum64String(address)
		if id != 0 {
			return id
		}
	}
}
