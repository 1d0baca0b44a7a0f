package bucketdb

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contentstore/bucketdb/proto"
)

func treeKeys(root *bnode) []uint64 {
	var keys []uint64
	if root == nil {
		return keys
	}
	root.ascend(0, func(it item) bool {
		keys = append(keys, it.key)
		return true
	})
	return keys
}

func sortedKeys(ref map[uint64]uint32) []uint64 {
	keys := make([]uint64, 0, len(ref))
	for k := range ref {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Exercise the tree against a reference map through a long random
// workload of inserts, overwrites and deletes.
func TestBTreeRandomWorkload(t *testing.T) {
	rnd := rand.New(rand.NewSource(0x7ee))
	ref := make(map[uint64]uint32)
	var root *bnode
	count := 0

	checksum := func(key uint64) uint32 { return uint32(key)*2654435761 + 1 }

	for round := 0; round < 20; round++ {
		for op := 0; op < 500; op++ {
			key := uint64(rnd.Intn(800))*64 + 16 // tight space forces collisions
			if rnd.Intn(3) == 0 {
				newRoot, removed := treeDelete(root, key)
				_, inRef := ref[key]
				require.Equal(t, inRef, removed)
				root = newRoot
				if removed {
					delete(ref, key)
					count--
				}
			} else {
				c := checksum(key) + uint32(round)
				newRoot, added := treeInsert(root, item{
					key:  key,
					info: proto.NewBucketInfo(proto.BucketCopy{NodeID: 1, Checksum: c}),
				})
				_, inRef := ref[key]
				require.Equal(t, !inRef, added)
				root = newRoot
				ref[key] = c
				if added {
					count++
				}
			}
		}

		require.Equal(t, len(ref), count)
		require.Equal(t, sortedKeys(ref), treeKeys(root))
		for key, c := range ref {
			it, ok := root.get(key)
			require.True(t, ok)
			nodes := it.info.Nodes()
			require.Len(t, nodes, 1)
			require.Equal(t, c, nodes[0].Checksum)
		}
	}
}

// Published versions are immutable: arbitrary later mutation must leave a
// previously captured root untouched.
func TestBTreeVersionsAreIndependent(t *testing.T) {
	rnd := rand.New(rand.NewSource(99))
	var root *bnode
	for i := 0; i < 1000; i++ {
		root, _ = treeInsert(root, item{key: rnd.Uint64()})
	}
	captured := root
	capturedKeys := treeKeys(captured)

	mutated := root
	for _, key := range capturedKeys[:500] {
		mutated, _ = treeDelete(mutated, key)
	}
	for i := 0; i < 500; i++ {
		mutated, _ = treeInsert(mutated, item{key: rnd.Uint64()})
	}

	require.Equal(t, capturedKeys, treeKeys(captured))
	for _, key := range capturedKeys {
		_, ok := captured.get(key)
		require.True(t, ok)
	}
}

func TestBTreeDeleteToEmpty(t *testing.T) {
	var root *bnode
	keys := rand.New(rand.NewSource(7)).Perm(2000)
	for _, k := range keys {
		root, _ = treeInsert(root, item{key: uint64(k)})
	}
	for _, k := range keys {
		var removed bool
		root, removed = treeDelete(root, uint64(k))
		require.True(t, removed)
	}
	require.Nil(t, root)

	root, removed := treeDelete(root, 1)
	require.Nil(t, root)
	require.False(t, removed)
}

func TestBTreeAscendFrom(t *testing.T) {
	var root *bnode
	for i := 0; i < 1000; i++ {
		root, _ = treeInsert(root, item{key: uint64(i * 3)})
	}

	var got []uint64
	// start between two keys
	root.ascend(1500+1, func(it item) bool {
		got = append(got, it.key)
		return true
	})
	require.Equal(t, uint64(1503), got[0])
	require.Len(t, got, 499)

	// start exactly on a key
	got = got[:0]
	root.ascend(1503, func(it item) bool {
		got = append(got, it.key)
		return false
	})
	require.Equal(t, []uint64{1503}, got)
}
