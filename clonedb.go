package bucketdb

import (
	"sync"

	"github.com/cubefs/cubefs/util/btree"

	"github.com/contentstore/bucketdb/metrics"
	"github.com/contentstore/bucketdb/proto"
)

const cloneTreeDegree = 32

// bucketItem adapts an entry to the shared-tree item contract.
type bucketItem struct {
	key  uint64
	info proto.BucketInfo
}

func (b *bucketItem) Less(than btree.Item) bool {
	return b.key < than.(*bucketItem).key
}

func (b *bucketItem) Copy() btree.Item {
	return &bucketItem{key: b.key, info: b.info.Clone()}
}

// cloneDatabase keeps entries in a lazily copy-on-write B-tree behind a
// mutex. Guards and iteration snapshots are taken with Clone(): O(1), and
// later writes to the live tree copy shared nodes instead of touching
// them, so a clone keeps observing acquisition-time state.
type cloneDatabase struct {
	lock sync.RWMutex
	tree *btree.BTree
}

func newCloneDatabase() *cloneDatabase {
	return &cloneDatabase{tree: btree.New(cloneTreeDegree)}
}

func (d *cloneDatabase) Update(entry Entry) {
	if !entry.Valid() {
		panic("bucketdb: update with invalid bucket id")
	}
	d.lock.Lock()
	d.tree.ReplaceOrInsert(&bucketItem{key: entry.Key(), info: entry.Info.Clone()})
	count := d.tree.Len()
	d.lock.Unlock()

	metrics.Updates.Inc()
	metrics.Entries.Set(float64(count))
}

func (d *cloneDatabase) Remove(id proto.BucketID) {
	d.lock.Lock()
	removed := d.tree.Delete(&bucketItem{key: id.ToKey()})
	count := d.tree.Len()
	d.lock.Unlock()

	if removed != nil {
		metrics.Removes.Inc()
		metrics.Entries.Set(float64(count))
	}
}

func (d *cloneDatabase) Get(id proto.BucketID) Entry {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return cloneView{tree: d.tree}.get(id)
}

func (d *cloneDatabase) FindParentsAndSelf(id proto.BucketID) []Entry {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return findParentsAndSelf(cloneView{tree: d.tree}, id)
}

func (d *cloneDatabase) FindAll(id proto.BucketID) []Entry {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return findAll(cloneView{tree: d.tree}, id)
}

// ForEach iterates a clone so that fn may mutate the database without
// deadlocking or disturbing the walk.
func (d *cloneDatabase) ForEach(fromKey uint64, fn func(Entry) bool) {
	cloneView{tree: d.snapshot()}.ascend(fromKey, fn)
}

func (d *cloneDatabase) Len() int {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.tree.Len()
}

func (d *cloneDatabase) AcquireReadGuard() ReadGuard {
	metrics.GuardAcquires.Inc()
	metrics.ActiveGuards.Inc()
	return &cloneReadGuard{view: cloneView{tree: d.snapshot()}}
}

// snapshot clones the live tree under the write lock: Clone installs a new
// copy-on-write context on both trees, which is a mutation of the live
// tree's bookkeeping.
func (d *cloneDatabase) snapshot() *btree.BTree {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.tree.Clone()
}

type cloneView struct {
	tree *btree.BTree
}

func (v cloneView) get(id proto.BucketID) Entry {
	if !id.Valid() {
		return Entry{}
	}
	found := v.tree.Get(&bucketItem{key: id.ToKey()})
	if found == nil {
		return Entry{}
	}
	return Entry{BucketID: id, Info: found.(*bucketItem).info.Clone()}
}

func (v cloneView) ascend(fromKey uint64, fn func(Entry) bool) {
	v.tree.AscendGreaterOrEqual(&bucketItem{key: fromKey}, func(i btree.Item) bool {
		it := i.(*bucketItem)
		return fn(Entry{BucketID: proto.FromKey(it.key), Info: it.info.Clone()})
	})
}

type cloneReadGuard struct {
	view      cloneView
	closeOnce sync.Once
}

func (g *cloneReadGuard) Get(id proto.BucketID) Entry {
	return g.view.get(id)
}

func (g *cloneReadGuard) FindParentsAndSelf(id proto.BucketID) []Entry {
	return findParentsAndSelf(g.view, id)
}

func (g *cloneReadGuard) FindAll(id proto.BucketID) []Entry {
	return findAll(g.view, id)
}

func (g *cloneReadGuard) ForEach(fromKey uint64, fn func(Entry) bool) {
	g.view.ascend(fromKey, fn)
}

func (g *cloneReadGuard) Close() {
	g.closeOnce.Do(func() {
		metrics.ActiveGuards.Dec()
	})
}
