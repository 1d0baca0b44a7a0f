// Copyright 2023 The BucketDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package proto

import (
	"fmt"
	"strings"
)

// BucketCopy is one storage node's reported state for a bucket.
type BucketCopy struct {
	NodeID    uint32
	Checksum  uint32
	DocCount  uint32
	TotalSize uint32
	Trusted   bool
}

func (c BucketCopy) String() string {
	return fmt.Sprintf("node %d: checksum 0x%x, docs %d, size %d, trusted %t",
		c.NodeID, c.Checksum, c.DocCount, c.TotalSize, c.Trusted)
}

// BucketInfo is the ordered set of replica copies known for a bucket, one
// per node. Insertion order is fixed metadata order: replacing a node's
// copy keeps its slot.
type BucketInfo struct {
	copies []BucketCopy
}

// NewBucketInfo builds an info from an initial list of copies.
func NewBucketInfo(copies ...BucketCopy) BucketInfo {
	info := BucketInfo{}
	for _, c := range copies {
		info.AddNode(c, nil)
	}
	return info
}

// AddNode inserts or replaces the copy for its node index. The copy is
// marked trusted when its node is in trustedNodes.
func (i *BucketInfo) AddNode(c BucketCopy, trustedNodes []uint32) {
	for _, n := range trustedNodes {
		if n == c.NodeID {
			c.Trusted = true
			break
		}
	}
	for idx := range i.copies {
		if i.copies[idx].NodeID == c.NodeID {
			i.copies[idx] = c
			return
		}
	}
	i.copies = append(i.copies, c)
}

// RemoveNode drops the copy for nodeID, if present.
func (i *BucketInfo) RemoveNode(nodeID uint32) bool {
	for idx := range i.copies {
		if i.copies[idx].NodeID == nodeID {
			i.copies = append(i.copies[:idx], i.copies[idx+1:]...)
			return true
		}
	}
	return false
}

// Merge combines two views of the same bucket. Conflicting copies for the
// same node resolve last-writer-wins: other supersedes the receiver. The
// result is a new info; neither input is modified.
func (i BucketInfo) Merge(other BucketInfo) BucketInfo {
	merged := i.Clone()
	for _, c := range other.copies {
		merged.AddNode(c, nil)
	}
	return merged
}

// GetNode returns the copy reported by nodeID.
func (i BucketInfo) GetNode(nodeID uint32) (BucketCopy, bool) {
	for _, c := range i.copies {
		if c.NodeID == nodeID {
			return c, true
		}
	}
	return BucketCopy{}, false
}

// HasNode reports whether nodeID holds a copy.
func (i BucketInfo) HasNode(nodeID uint32) bool {
	_, ok := i.GetNode(nodeID)
	return ok
}

// NodeCount returns the number of replica copies.
func (i BucketInfo) NodeCount() int {
	return len(i.copies)
}

// Nodes returns the copies in metadata order. The slice is caller-owned.
func (i BucketInfo) Nodes() []BucketCopy {
	if len(i.copies) == 0 {
		return nil
	}
	out := make([]BucketCopy, len(i.copies))
	copy(out, i.copies)
	return out
}

// Clone returns an info sharing no storage with the receiver.
func (i BucketInfo) Clone() BucketInfo {
	return BucketInfo{copies: i.Nodes()}
}

// Equal compares two infos structurally, including metadata order.
func (i BucketInfo) Equal(other BucketInfo) bool {
	if len(i.copies) != len(other.copies) {
		return false
	}
	for idx := range i.copies {
		if i.copies[idx] != other.copies[idx] {
			return false
		}
	}
	return true
}

func (i BucketInfo) String() string {
	if len(i.copies) == 0 {
		return "BucketInfo(empty)"
	}
	parts := make([]string, 0, len(i.copies))
	for _, c := range i.copies {
		parts = append(parts, c.String())
	}
	return "BucketInfo(" + strings.Join(parts, "; ") + ")"
}
