package bucketdb

import "github.com/contentstore/bucketdb/proto"

// Immutable B-tree keyed on the canonical bucket-key encoding.
//
// Nodes are never modified once a version is published: a writer clones
// every node on the root-to-leaf path it touches (at most the tree height,
// bounded by the 58-level split depth of the key space) and publishes a
// fresh root. Versions captured by read guards therefore stay intact for
// as long as anything references them; superseded nodes are reclaimed by
// the garbage collector once the last referencing version goes away.
//
// Every method that mutates a node requires the node to be writer-owned:
// either freshly allocated or cloned during the current mutation. Shared
// nodes are only ever read.

const (
	btreeDegree = 16
	maxItems    = 2*btreeDegree - 1
	minItems    = btreeDegree - 1
)

type item struct {
	key  uint64
	info proto.BucketInfo
}

type bnode struct {
	items    []item
	children []*bnode
}

func (n *bnode) leaf() bool {
	return len(n.children) == 0
}

// find returns the first index whose key is >= key, and whether that index
// holds key itself.
func (n *bnode) find(key uint64) (int, bool) {
	lo, hi := 0, len(n.items)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if n.items[mid].key < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(n.items) && n.items[lo].key == key {
		return lo, true
	}
	return lo, false
}

func (n *bnode) clone() *bnode {
	c := &bnode{items: make([]item, len(n.items), maxItems+1)}
	copy(c.items, n.items)
	if len(n.children) > 0 {
		c.children = make([]*bnode, len(n.children), maxItems+2)
		copy(c.children, n.children)
	}
	return c
}

func (n *bnode) get(key uint64) (item, bool) {
	for {
		i, found := n.find(key)
		if found {
			return n.items[i], true
		}
		if n.leaf() {
			return item{}, false
		}
		n = n.children[i]
	}
}

// treeInsert inserts or replaces it in the tree rooted at root and returns
// the new root. The second result reports whether a new key was added
// (false on replacement). root is left untouched.
func treeInsert(root *bnode, it item) (*bnode, bool) {
	if root == nil {
		n := &bnode{items: make([]item, 1, maxItems+1)}
		n.items[0] = it
		return n, true
	}
	r := root.clone()
	if len(r.items) >= maxItems {
		parent := &bnode{
			items:    make([]item, 0, maxItems+1),
			children: append(make([]*bnode, 0, maxItems+2), r),
		}
		parent.splitChild(0)
		r = parent
	}
	added := r.insert(it)
	return r, added
}

// insert places it into the subtree rooted at n. n must be writer-owned
// and not full.
func (n *bnode) insert(it item) bool {
	i, found := n.find(it.key)
	if found {
		n.items[i] = it
		return false
	}
	if n.leaf() {
		n.items = append(n.items, item{})
		copy(n.items[i+1:], n.items[i:])
		n.items[i] = it
		return true
	}
	child := n.children[i].clone()
	n.children[i] = child
	if len(child.items) >= maxItems {
		n.splitChild(i)
		switch {
		case it.key > n.items[i].key:
			i++
		case it.key == n.items[i].key:
			n.items[i] = it
			return false
		}
		child = n.children[i]
	}
	return child.insert(it)
}

// splitChild splits the full, writer-owned child at index i, lifting its
// median item into n.
func (n *bnode) splitChild(i int) {
	child := n.children[i]
	mid := len(child.items) / 2
	median := child.items[mid]

	left := &bnode{items: make([]item, mid, maxItems+1)}
	copy(left.items, child.items[:mid])
	right := &bnode{items: make([]item, len(child.items)-mid-1, maxItems+1)}
	copy(right.items, child.items[mid+1:])
	if !child.leaf() {
		left.children = make([]*bnode, mid+1, maxItems+2)
		copy(left.children, child.children[:mid+1])
		right.children = make([]*bnode, len(child.children)-mid-1, maxItems+2)
		copy(right.children, child.children[mid+1:])
	}

	n.items = append(n.items, item{})
	copy(n.items[i+1:], n.items[i:])
	n.items[i] = median
	n.children = append(n.children, nil)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i] = left
	n.children[i+1] = right
}

// treeDelete removes key from the tree rooted at root and returns the new
// root. When the key is absent the original root is returned unchanged.
func treeDelete(root *bnode, key uint64) (*bnode, bool) {
	if root == nil {
		return nil, false
	}
	r := root.clone()
	if !r.remove(key) {
		return root, false
	}
	if len(r.items) == 0 {
		if r.leaf() {
			return nil, true
		}
		r = r.children[0]
	}
	return r, true
}

// remove deletes key from the subtree rooted at the writer-owned n.
func (n *bnode) remove(key uint64) bool {
	i, found := n.find(key)
	if n.leaf() {
		if !found {
			return false
		}
		n.items = append(n.items[:i], n.items[i+1:]...)
		return true
	}
	child := n.children[i].clone()
	n.children[i] = child
	if found {
		// Replace the separator with its predecessor, pulled out of the
		// left subtree.
		n.items[i] = child.removeMax()
		n.rebalance(i)
		return true
	}
	if !child.remove(key) {
		return false
	}
	n.rebalance(i)
	return true
}

// removeMax extracts the largest item below the writer-owned n.
func (n *bnode) removeMax() item {
	if n.leaf() {
		it := n.items[len(n.items)-1]
		n.items = n.items[:len(n.items)-1]
		return it
	}
	i := len(n.children) - 1
	child := n.children[i].clone()
	n.children[i] = child
	it := child.removeMax()
	n.rebalance(i)
	return it
}

// rebalance restores the minimum fill of the writer-owned child at index i
// after a removal below it, by rotation when a sibling can spare an item
// and by merging otherwise.
func (n *bnode) rebalance(i int) {
	child := n.children[i]
	if len(child.items) >= minItems {
		return
	}

	if i > 0 && len(n.children[i-1].items) > minItems {
		left := n.children[i-1].clone()
		n.children[i-1] = left
		child.items = append(child.items, item{})
		copy(child.items[1:], child.items)
		child.items[0] = n.items[i-1]
		n.items[i-1] = left.items[len(left.items)-1]
		left.items = left.items[:len(left.items)-1]
		if !left.leaf() {
			child.children = append(child.children, nil)
			copy(child.children[1:], child.children)
			child.children[0] = left.children[len(left.children)-1]
			left.children = left.children[:len(left.children)-1]
		}
		return
	}

	if i < len(n.children)-1 && len(n.children[i+1].items) > minItems {
		right := n.children[i+1].clone()
		n.children[i+1] = right
		child.items = append(child.items, n.items[i])
		n.items[i] = right.items[0]
		copy(right.items, right.items[1:])
		right.items = right.items[:len(right.items)-1]
		if !right.leaf() {
			child.children = append(child.children, right.children[0])
			copy(right.children, right.children[1:])
			right.children = right.children[:len(right.children)-1]
		}
		return
	}

	if i > 0 {
		// Merge child into a clone of its left sibling. The separator and
		// child contents are copied by value; child itself is dropped.
		left := n.children[i-1].clone()
		left.items = append(left.items, n.items[i-1])
		left.items = append(left.items, child.items...)
		left.children = append(left.children, child.children...)
		n.items = append(n.items[:i-1], n.items[i:]...)
		n.children = append(n.children[:i], n.children[i+1:]...)
		n.children[i-1] = left
		return
	}

	// Merge the right sibling into child. The sibling is shared and only
	// read; its contents are copied by value.
	right := n.children[i+1]
	child.items = append(child.items, n.items[i])
	child.items = append(child.items, right.items...)
	child.children = append(child.children, right.children...)
	n.items = append(n.items[:i], n.items[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
}

// ascend walks items with key >= from in ascending key order until fn
// returns false.
func (n *bnode) ascend(from uint64, fn func(item) bool) bool {
	i, found := n.find(from)
	if !found && !n.leaf() {
		if !n.children[i].ascend(from, fn) {
			return false
		}
	}
	for ; i < len(n.items); i++ {
		if !fn(n.items[i]) {
			return false
		}
		if !n.leaf() {
			if !n.children[i+1].ascendAll(fn) {
				return false
			}
		}
	}
	return true
}

func (n *bnode) ascendAll(fn func(item) bool) bool {
	if n.leaf() {
		for i := range n.items {
			if !fn(n.items[i]) {
				return false
			}
		}
		return true
	}
	for i := range n.items {
		if !n.children[i].ascendAll(fn) {
			return false
		}
		if !fn(n.items[i]) {
			return false
		}
	}
	return n.children[len(n.items)].ascendAll(fn)
}
