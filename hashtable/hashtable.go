// Package hashtable is the generic hash-table utility spec.md names as an
// external collaborator (frame table: kva -> frame; SPT: va -> descriptor).
// Adapted from the teacher kernel's hashtable package: same bucket-chain
// design (per-bucket RWMutex, sorted-by-hash insertion; Get and Del still
// walk the whole chain) but expressed with Go generics instead
// of `interface{}` key/value pairs, matching the direction the teacher's own
// util package had already moved in (util.Min/Rounddown/Roundup are
// generic).
package hashtable

import "sync"

// Table is a fixed-bucket-count hash table from K to V, safe for concurrent
// use. K must be comparable; a Hash function supplies bucket placement.
type Table[K comparable, V any] struct {
	hash    func(K) uint32
	buckets []bucket[K, V]
}

type elem[K comparable, V any] struct {
	key     K
	value   V
	keyHash uint32
	next    *elem[K, V]
}

type bucket[K comparable, V any] struct {
	sync.RWMutex
	first *elem[K, V]
}

// New allocates a Table with the given bucket count and hash function.
func New[K comparable, V any](buckets int, hash func(K) uint32) *Table[K, V] {
	if buckets <= 0 {
		buckets = 1
	}
	t := &Table[K, V]{
		hash:    hash,
		buckets: make([]bucket[K, V], buckets),
	}
	return t
}

func (t *Table[K, V]) bucketFor(kh uint32) *bucket[K, V] {
	return &t.buckets[kh%uint32(len(t.buckets))]
}

// Get looks up key and returns its value and whether it was found.
func (t *Table[K, V]) Get(key K) (V, bool) {
	kh := t.hash(key)
	b := t.bucketFor(kh)
	b.RLock()
	defer b.RUnlock()
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Set inserts key/value, returning false without modifying the table if the
// key is already present (callers that want upsert semantics should Del
// first).
func (t *Table[K, V]) Set(key K, value V) bool {
	kh := t.hash(key)
	b := t.bucketFor(kh)
	b.Lock()
	defer b.Unlock()

	var last *elem[K, V]
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && e.key == key {
			return false
		}
		if kh < e.keyHash {
			break
		}
		last = e
	}
	n := &elem[K, V]{key: key, value: value, keyHash: kh}
	if last == nil {
		n.next = b.first
		b.first = n
	} else {
		n.next = last.next
		last.next = n
	}
	return true
}

// Del removes key from the table. It is a no-op if the key is absent.
func (t *Table[K, V]) Del(key K) {
	kh := t.hash(key)
	b := t.bucketFor(kh)
	b.Lock()
	defer b.Unlock()

	var last *elem[K, V]
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && e.key == key {
			if last == nil {
				b.first = e.next
			} else {
				last.next = e.next
			}
			return
		}
		last = e
	}
}

// Len returns the total number of stored entries.
func (t *Table[K, V]) Len() int {
	n := 0
	for i := range t.buckets {
		b := &t.buckets[i]
		b.RLock()
		for e := b.first; e != nil; e = e.next {
			n++
		}
		b.RUnlock()
	}
	return n
}

// Iter calls f for every stored key/value pair. Iteration stops early if f
// returns false. Iter takes each bucket's read lock only for the duration of
// that bucket's walk, so f must not call back into the same Table.
func (t *Table[K, V]) Iter(f func(K, V) bool) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.RLock()
		cont := true
		for e := b.first; e != nil && cont; e = e.next {
			cont = f(e.key, e.value)
		}
		b.RUnlock()
		if !cont {
			return
		}
	}
}

// Keys returns a snapshot slice of all keys currently stored.
func (t *Table[K, V]) Keys() []K {
	keys := make([]K, 0, len(t.buckets))
	t.Iter(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// HashUintptr is a convenience hash function for pointer-sized keys (kernel
// virtual addresses, page numbers), matching the teacher's fnv-style
// dispersion but specialized to avoid interface boxing.
func HashUintptr(v uintptr) uint32 {
	h := uint64(2166136261)
	x := uint64(v)
	for i := 0; i < 8; i++ {
		h ^= x & 0xff
		h *= 16777619
		x >>= 8
	}
	return uint32(h)
}
