package ctree

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
)

// MovedProxies is the ordered set of proxy keys whose bounds changed this
// step. Order is insertion order, kept stable for deterministic pair output.
type MovedProxies struct {
	keys []ProxyKey
	set  *roaring.Bitmap
}

// NewMovedProxies returns an empty set.
func NewMovedProxies() *MovedProxies {
	return &MovedProxies{set: roaring.New()}
}

// Insert adds key and reports whether it was new.
func (m *MovedProxies) Insert(key ProxyKey) bool {
	if !m.set.CheckedAdd(uint32(key)) {
		return false
	}
	m.keys = append(m.keys, key)
	return true
}

// Remove drops key. The last key takes its place in the order.
func (m *MovedProxies) Remove(key ProxyKey) bool {
	if !m.set.CheckedRemove(uint32(key)) {
		return false
	}
	for i, k := range m.keys {
		if k == key {
			last := len(m.keys) - 1
			m.keys[i] = m.keys[last]
			m.keys = m.keys[:last]
			break
		}
	}
	return true
}

func (m *MovedProxies) Contains(key ProxyKey) bool {
	return m.set.Contains(uint32(key))
}

// Keys returns the keys in order. The slice is owned by m.
func (m *MovedProxies) Keys() []ProxyKey { return m.keys }

func (m *MovedProxies) Len() int { return len(m.keys) }

func (m *MovedProxies) IsEmpty() bool { return len(m.keys) == 0 }

// Clear empties the set and keeps the key buffer.
func (m *MovedProxies) Clear() {
	m.keys = m.keys[:0]
	m.set.Clear()
}

// EnlargedProxies marks, per tree, the proxies whose enlarged bound was
// recomputed in the current update.
type EnlargedProxies struct {
	bits [4]*bitset.BitSet
}

func NewEnlargedProxies() *EnlargedProxies {
	e := &EnlargedProxies{}
	for i := range e.bits {
		e.bits[i] = bitset.New(0)
	}
	return e
}

// Mark flags the proxy behind key.
func (e *EnlargedProxies) Mark(key ProxyKey) {
	e.bits[key.Category()].Set(uint(key.Id()))
}

// IsMarked reports whether the proxy behind key is flagged.
func (e *EnlargedProxies) IsMarked(key ProxyKey) bool {
	return e.bits[key.Category()].Test(uint(key.Id()))
}

// Count returns how many proxies of category c are flagged.
func (e *EnlargedProxies) Count(c TreeCategory) int {
	return int(e.bits[c].Count())
}

// Each calls fn for every flagged id of category c in ascending order.
func (e *EnlargedProxies) Each(c TreeCategory, fn func(ProxyId)) {
	b := e.bits[c]
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		fn(ProxyId(i))
	}
}

// Reset clears category c and sizes it for capacity ids.
func (e *EnlargedProxies) Reset(c TreeCategory, capacity int) {
	b := e.bits[c]
	b.ClearAll()
	if b.Len() < uint(capacity) {
		e.bits[c] = bitset.New(uint(capacity))
	}
}
