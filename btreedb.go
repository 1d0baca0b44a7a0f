package bucketdb

import (
	"sync"
	"sync/atomic"

	"github.com/contentstore/bucketdb/metrics"
	"github.com/contentstore/bucketdb/proto"
)

// btreeDatabase publishes immutable tree versions through an atomic
// pointer. Writers serialize on writeMu, build a new version by copying
// the root-to-leaf path they touch, and publish it with a single store.
// Readers (live queries and guards) load the current version and walk it
// without locks; a guard simply retains the version it loaded.
type btreeDatabase struct {
	writeMu sync.Mutex
	current atomic.Value // *treeVersion
}

type treeVersion struct {
	root  *bnode
	count int
}

func newBTreeDatabase() *btreeDatabase {
	db := &btreeDatabase{}
	db.current.Store(&treeVersion{})
	return db
}

func (d *btreeDatabase) loadVersion() *treeVersion {
	return d.current.Load().(*treeVersion)
}

func (d *btreeDatabase) Update(entry Entry) {
	if !entry.Valid() {
		panic("bucketdb: update with invalid bucket id")
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	v := d.loadVersion()
	root, added := treeInsert(v.root, item{key: entry.Key(), info: entry.Info.Clone()})
	count := v.count
	if added {
		count++
	}
	d.current.Store(&treeVersion{root: root, count: count})

	metrics.Updates.Inc()
	metrics.Entries.Set(float64(count))
}

func (d *btreeDatabase) Remove(id proto.BucketID) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	v := d.loadVersion()
	root, removed := treeDelete(v.root, id.ToKey())
	if !removed {
		return
	}
	count := v.count - 1
	d.current.Store(&treeVersion{root: root, count: count})

	metrics.Removes.Inc()
	metrics.Entries.Set(float64(count))
}

func (d *btreeDatabase) Get(id proto.BucketID) Entry {
	return d.loadVersion().get(id)
}

func (d *btreeDatabase) FindParentsAndSelf(id proto.BucketID) []Entry {
	return findParentsAndSelf(d.loadVersion(), id)
}

func (d *btreeDatabase) FindAll(id proto.BucketID) []Entry {
	return findAll(d.loadVersion(), id)
}

func (d *btreeDatabase) ForEach(fromKey uint64, fn func(Entry) bool) {
	d.loadVersion().ascend(fromKey, fn)
}

func (d *btreeDatabase) Len() int {
	return d.loadVersion().count
}

func (d *btreeDatabase) AcquireReadGuard() ReadGuard {
	metrics.GuardAcquires.Inc()
	metrics.ActiveGuards.Inc()
	return &btreeReadGuard{v: d.loadVersion()}
}

func (v *treeVersion) get(id proto.BucketID) Entry {
	if v.root == nil || !id.Valid() {
		return Entry{}
	}
	it, ok := v.root.get(id.ToKey())
	if !ok {
		return Entry{}
	}
	return Entry{BucketID: id, Info: it.info.Clone()}
}

func (v *treeVersion) ascend(fromKey uint64, fn func(Entry) bool) {
	if v.root == nil {
		return
	}
	v.root.ascend(fromKey, func(it item) bool {
		return fn(Entry{BucketID: proto.FromKey(it.key), Info: it.info.Clone()})
	})
}

// btreeReadGuard pins one published version. The version keeps itself
// alive for the guard's lifetime even if the owning database is long
// gone, so a guard can never observe teardown.
type btreeReadGuard struct {
	v         *treeVersion
	closeOnce sync.Once
}

func (g *btreeReadGuard) Get(id proto.BucketID) Entry {
	return g.v.get(id)
}

func (g *btreeReadGuard) FindParentsAndSelf(id proto.BucketID) []Entry {
	return findParentsAndSelf(g.v, id)
}

func (g *btreeReadGuard) FindAll(id proto.BucketID) []Entry {
	return findAll(g.v, id)
}

func (g *btreeReadGuard) ForEach(fromKey uint64, fn func(Entry) bool) {
	g.v.ascend(fromKey, fn)
}

func (g *btreeReadGuard) Close() {
	g.closeOnce.Do(func() {
		metrics.ActiveGuards.Dec()
	})
}
