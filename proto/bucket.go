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
	"math/bits"
)

const (
	// MaxUsedBits is the deepest split level a bucket can reach.
	MaxUsedBits = 58

	usedBitsShift = 58
	usedBitsMask  = uint64(0x3f)
)

// BucketID identifies a bucket's position in the split tree.
//
// Raw layout: the top 6 bits hold the used-bits count (0..58), the low
// used-bits bits hold the split pattern. Bit 0 of the pattern is the first
// split decision, bit 1 the second, and so on. The zero value is the
// invalid sentinel used for "not found".
type BucketID uint64

// NewBucketID builds a bucket id from a split depth and a bit pattern.
// Pattern bits above usedBits are discarded. usedBits above MaxUsedBits is
// a caller contract violation and panics.
func NewBucketID(usedBits uint8, pattern uint64) BucketID {
	if usedBits > MaxUsedBits {
		panic(fmt.Sprintf("proto: bucket used bits %d out of range", usedBits))
	}
	return BucketID(uint64(usedBits)<<usedBitsShift | pattern&patternMask(usedBits))
}

func patternMask(usedBits uint8) uint64 {
	if usedBits == 0 {
		return 0
	}
	return (uint64(1) << usedBits) - 1
}

// UsedBits returns the split depth of the bucket.
func (b BucketID) UsedBits() uint8 {
	return uint8(uint64(b) >> usedBitsShift)
}

// Pattern returns the significant split bits, LSB first.
func (b BucketID) Pattern() uint64 {
	return uint64(b) & patternMask(b.UsedBits())
}

// Valid reports whether b denotes a concrete bucket. The zero value, the
// synthetic root at depth 0, never names a stored bucket.
func (b BucketID) Valid() bool {
	return b != 0
}

// ToKey returns the canonical ordering encoding: the split bits reversed
// into the top 58 bits, the used-bits count in the low 6 bits. Under this
// encoding a bucket's strict descendants occupy the contiguous key
// interval (key, key|suffixOnes], directly above the bucket itself.
func (b BucketID) ToKey() uint64 {
	return bits.Reverse64(b.Pattern()) | uint64(b.UsedBits())
}

// FromKey is the inverse of ToKey. The low 6 bits of key must decode to a
// used-bits count within range; anything else is a contract violation.
func FromKey(key uint64) BucketID {
	usedBits := uint8(key & usedBitsMask)
	return NewBucketID(usedBits, bits.Reverse64(key&^usedBitsMask))
}

// Contains reports whether b is c or an ancestor of c.
func (b BucketID) Contains(c BucketID) bool {
	return b.UsedBits() <= c.UsedBits() &&
		c.Pattern()&patternMask(b.UsedBits()) == b.Pattern()
}

// Parent returns the bucket one split level up. Parent of a depth<=1
// bucket is the invalid zero id.
func (b BucketID) Parent() BucketID {
	if b.UsedBits() == 0 {
		return 0
	}
	return NewBucketID(b.UsedBits()-1, b.Pattern())
}

// Child returns the bucket one split level down, with the new split bit
// set to bit (0 or 1).
func (b BucketID) Child(bit uint8) BucketID {
	return NewBucketID(b.UsedBits()+1, b.Pattern()|uint64(bit&1)<<b.UsedBits())
}

// AncestorsAndSelf returns every candidate ancestor id from depth 1 down
// to b itself, in root-to-leaf order. The synthetic depth-0 root is
// omitted: it is never a storable bucket.
func (b BucketID) AncestorsAndSelf() []BucketID {
	ids := make([]BucketID, 0, b.UsedBits())
	for depth := uint8(1); depth <= b.UsedBits(); depth++ {
		ids = append(ids, NewBucketID(depth, b.Pattern()))
	}
	return ids
}

// DescendantKeyRange returns the half-open key interval (lo, hi] holding
// every strict descendant of b under the ToKey encoding.
func (b BucketID) DescendantKeyRange() (lo, hi uint64) {
	lo = b.ToKey()
	if b.UsedBits() == 0 {
		return lo, ^uint64(0)
	}
	prefixMask := ^uint64(0) << (64 - b.UsedBits())
	return lo, lo&prefixMask | ^prefixMask
}

func (b BucketID) String() string {
	return fmt.Sprintf("BucketID(0x%016x)", uint64(b))
}
