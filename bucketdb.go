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

package bucketdb

import (
	"fmt"

	apierrors "github.com/contentstore/bucketdb/errors"
	"github.com/contentstore/bucketdb/proto"
)

type Engine string

const (
	// EngineBTree is the production engine: an immutable B-tree with
	// path-copy-on-write and lock-free readers.
	EngineBTree = Engine("btree")
	// EngineClone keeps entries in a mutex-guarded B-tree and snapshots
	// by cloning; the simpler strategy for single-threaded contexts.
	EngineClone = Engine("clone")
)

type Config struct {
	Engine Engine `json:"engine"`
}

// Entry pairs a bucket id with its replica info. It is the unit of
// mutation and of query results. The zero Entry is the not-found
// sentinel. Entries returned by queries share no storage with the
// database and may be retained indefinitely.
type Entry struct {
	BucketID proto.BucketID
	Info     proto.BucketInfo
}

func NewEntry(id proto.BucketID, info proto.BucketInfo) Entry {
	return Entry{BucketID: id, Info: info}
}

func (e Entry) Valid() bool {
	return e.BucketID.Valid()
}

// Key returns the entry's canonical ordering key. Iteration yields
// entries in ascending Key order; passing Key()+1 as a ForEach start
// resumes a scan directly after this entry.
func (e Entry) Key() uint64 {
	return e.BucketID.ToKey()
}

func (e Entry) String() string {
	if !e.Valid() {
		return "Entry(invalid)"
	}
	return fmt.Sprintf("Entry(%s, %s)", e.BucketID, e.Info)
}

// Database is the distributor's bucket index: a mapping from bucket id to
// replica info, ordered by the canonical key encoding.
//
// Writers must be serialized by the caller (a single logical writer
// stream). Readers never block: queries against the live database always
// observe some committed state, and AcquireReadGuard captures the exact
// committed state at acquisition for multi-step consistent traversal.
type Database interface {
	// Update inserts or overwrites the entry at entry.BucketID. Updating
	// with an invalid entry is a caller contract violation and panics.
	Update(entry Entry)
	// Remove deletes the entry at id; removing an absent id is a no-op.
	Remove(id proto.BucketID)

	ReadView

	// AcquireReadGuard captures the current committed state in O(1). The
	// guard stays valid regardless of later mutation and must be closed
	// when done.
	AcquireReadGuard() ReadGuard
	// Len returns the number of entries in the live database.
	Len() int
}

// ReadView is the query surface shared by the live database and by read
// guards.
type ReadView interface {
	// Get returns the entry stored at exactly id, or the invalid Entry.
	Get(id proto.BucketID) Entry
	// FindParentsAndSelf returns every stored entry whose id is an
	// ancestor of id or id itself, in root-to-leaf order.
	FindParentsAndSelf(id proto.BucketID) []Entry
	// FindAll extends FindParentsAndSelf with the stored strict
	// descendants of id. Results are in ascending key order.
	FindAll(id proto.BucketID) []Entry
	// ForEach walks entries with Key() >= fromKey in ascending key order
	// until fn returns false. Pass 0 to scan from the start. The walk
	// observes one committed state even if writers keep mutating.
	ForEach(fromKey uint64, fn func(Entry) bool)
}

// ReadGuard is a point-in-time view of the database. All queries observe
// exactly the entry set committed before acquisition.
type ReadGuard interface {
	ReadView
	Close()
}

// New constructs a database for the configured engine. An empty engine
// selects EngineBTree.
func New(cfg Config) (Database, error) {
	switch cfg.Engine {
	case EngineBTree, "":
		return newBTreeDatabase(), nil
	case EngineClone:
		return newCloneDatabase(), nil
	default:
		return nil, apierrors.ErrUnknownEngine
	}
}

// view is the engine-internal snapshot contract the generic queries run
// against.
type view interface {
	get(id proto.BucketID) Entry
	ascend(fromKey uint64, fn func(Entry) bool)
}

func findParentsAndSelf(v view, id proto.BucketID) []Entry {
	var out []Entry
	for _, candidate := range id.AncestorsAndSelf() {
		if e := v.get(candidate); e.Valid() {
			out = append(out, e)
		}
	}
	return out
}

func findAll(v view, id proto.BucketID) []Entry {
	out := findParentsAndSelf(v, id)
	lo, hi := id.DescendantKeyRange()
	v.ascend(lo+1, func(e Entry) bool {
		if e.Key() > hi {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}
