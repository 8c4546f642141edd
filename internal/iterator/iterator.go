// Package iterator implements the k-way merging iterator (spec §4.E)
// used to combine the active memtable, the immutable memtable, and
// per-level file iterators into one internal-key-ordered stream.
//
// Grounded on the teacher's heap-based mergingIterator (db_iterator.go)
// for the "child iterators + current position" shape, but rewritten
// around a linear scan of children rather than a container/heap, because
// spec §4.E requires Prev to reverse direction — a heap can't reposition
// every child to "just before the current key" without being rebuilt
// anyway, so a direct scan (as plsm's iterators/merge_iterator.go and
// the original LevelDB MergingIterator both do) is both simpler and
// exercises the same handful-of-children case the engine actually needs
// (memtables + one iterator per level).
package iterator

// Iterator is the bidirectional capability set every child of a merge
// (and the merge itself) implements.
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next() bool
	Prev() bool
	SeekToFirst() bool
	SeekToLast() bool
	Seek(target []byte) bool
	Error() error
	Close() error
}

// Comparator orders two internal keys.
type Comparator func(a, b []byte) int

type direction int

const (
	forward direction = iota
	reverse
)

// Merging is a k-way merge over child iterators using an internal-key
// comparator (spec §4.E). Not safe for concurrent use.
type Merging struct {
	cmp      Comparator
	children []Iterator
	current  int // index into children, or -1 if invalid
	dir      direction
}

func NewMerging(cmp Comparator, children []Iterator) *Merging {
	return &Merging{cmp: cmp, children: children, current: -1}
}

func (m *Merging) Valid() bool { return m.current >= 0 }

func (m *Merging) Key() []byte {
	return m.children[m.current].Key()
}

func (m *Merging) Value() []byte {
	return m.children[m.current].Value()
}

func (m *Merging) Error() error {
	for _, c := range m.children {
		if err := c.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Merging) Close() error {
	var first error
	for _, c := range m.children {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Merging) SeekToFirst() bool {
	for _, c := range m.children {
		c.SeekToFirst()
	}
	m.dir = forward
	m.findSmallest()
	return m.Valid()
}

func (m *Merging) SeekToLast() bool {
	for _, c := range m.children {
		c.SeekToLast()
	}
	m.dir = reverse
	m.findLargest()
	return m.Valid()
}

func (m *Merging) Seek(target []byte) bool {
	for _, c := range m.children {
		c.Seek(target)
	}
	m.dir = forward
	m.findSmallest()
	return m.Valid()
}

// Next advances the current (smallest) child. Reversing direction first
// requires every other child to catch up to just past the current key,
// so a subsequent forward scan doesn't re-yield an entry already emitted
// while iterating backward (spec §4.E).
func (m *Merging) Next() bool {
	if !m.Valid() {
		return false
	}
	if m.dir != forward {
		key := m.Key()
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			if c.Seek(key) {
				if m.cmp(key, c.Key()) == 0 {
					c.Next()
				}
			}
		}
		m.dir = forward
	}
	m.children[m.current].Next()
	m.findSmallest()
	return m.Valid()
}

// Prev is the symmetric reversal for backward iteration (spec §4.E).
func (m *Merging) Prev() bool {
	if !m.Valid() {
		return false
	}
	if m.dir != reverse {
		key := m.Key()
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			if c.Seek(key) {
				c.Prev()
			} else {
				c.SeekToLast()
			}
		}
		m.dir = reverse
	}
	m.children[m.current].Prev()
	m.findLargest()
	return m.Valid()
}

func (m *Merging) findSmallest() {
	best := -1
	for i, c := range m.children {
		if !c.Valid() {
			continue
		}
		if best == -1 || m.cmp(c.Key(), m.children[best].Key()) < 0 {
			best = i
		}
	}
	m.current = best
}

func (m *Merging) findLargest() {
	best := -1
	for i, c := range m.children {
		if !c.Valid() {
			continue
		}
		if best == -1 || m.cmp(c.Key(), m.children[best].Key()) > 0 {
			best = i
		}
	}
	m.current = best
}
