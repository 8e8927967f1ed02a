package activityz

import (
	"iter"
	"sync"
	"sync/atomic"
)

// KeyValue is a tag: a string key with an arbitrary value.
type KeyValue struct {
	Value any    `json:"value"`
	Key   string `json:"key"`
}

// BaggageItem is a string pair propagated to descendants.
type BaggageItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type listNode[T any] struct {
	value atomic.Pointer[T]
	next  atomic.Pointer[listNode[T]]
}

func newListNode[T any](v T) *listNode[T] {
	n := &listNode[T]{}
	n.value.Store(&v)
	return n
}

// linkedList is a singly linked list with locked writers and lock-free
// readers. A node's value is replaced as a whole, never partially, and a
// reader that already passed a node is unaffected by later unlinks.
type linkedList[T any] struct {
	head  atomic.Pointer[listNode[T]]
	tail  *listNode[T] // guarded by mu
	mu    sync.Mutex
	count int // guarded by mu
}

func newLinkedList[T any](first T) *linkedList[T] {
	l := &linkedList[T]{}
	n := newListNode(first)
	l.head.Store(n)
	l.tail = n
	l.count = 1
	return l
}

// Add appends v.
func (l *linkedList[T]) Add(v T) {
	n := newListNode(v)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.addLocked(n)
}

func (l *linkedList[T]) addLocked(n *listNode[T]) {
	if l.tail == nil {
		l.head.Store(n)
	} else {
		l.tail.next.Store(n)
	}
	l.tail = n
	l.count++
}

// AddFront links v before the current head.
func (l *linkedList[T]) AddFront(v T) {
	n := newListNode(v)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.addFrontLocked(n)
}

func (l *linkedList[T]) addFrontLocked(n *listNode[T]) {
	n.next.Store(l.head.Load())
	l.head.Store(n)
	if l.tail == nil {
		l.tail = n
	}
	l.count++
}

// upsert replaces the value of the first node matching, or links v as a new
// node (at the front when front is set) if nothing matches.
func (l *linkedList[T]) upsert(match func(*T) bool, v T, front bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for n := l.head.Load(); n != nil; n = n.next.Load() {
		if match(n.value.Load()) {
			n.value.Store(&v)
			return
		}
	}
	if front {
		l.addFrontLocked(newListNode(v))
	} else {
		l.addLocked(newListNode(v))
	}
}

// Remove unlinks the first node matching. It reports whether one was found.
func (l *linkedList[T]) Remove(match func(*T) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev *listNode[T]
	for n := l.head.Load(); n != nil; n = n.next.Load() {
		if !match(n.value.Load()) {
			prev = n
			continue
		}
		next := n.next.Load()
		if prev == nil {
			l.head.Store(next)
		} else {
			prev.next.Store(next)
		}
		if l.tail == n {
			l.tail = prev
		}
		l.count--
		return true
	}
	return false
}

// Find returns the first value matching.
func (l *linkedList[T]) Find(match func(*T) bool) (T, bool) {
	for n := l.head.Load(); n != nil; n = n.next.Load() {
		if v := n.value.Load(); match(v) {
			return *v, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of linked nodes.
func (l *linkedList[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// All walks the list from the head captured when iteration begins.
func (l *linkedList[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for n := l.head.Load(); n != nil; n = n.next.Load() {
			if !yield(*n.value.Load()) {
				return
			}
		}
	}
}

// Slice copies the current contents.
func (l *linkedList[T]) Slice() []T {
	var out []T
	for v := range l.All() {
		out = append(out, v)
	}
	return out
}

// tagList holds tags in insertion order. Duplicates are allowed through
// Add; Set keeps a single entry per key.
type tagList struct {
	linkedList[KeyValue]
}

func newTagList(first KeyValue) *tagList {
	l := &tagList{}
	n := newListNode(first)
	l.head.Store(n)
	l.tail = n
	l.count = 1
	return l
}

func keyIs(key string) func(*KeyValue) bool {
	return func(kv *KeyValue) bool { return kv.Key == key }
}

// Set replaces the first entry with key, appends one, or removes it when
// value is nil.
func (l *tagList) Set(key string, value any) {
	if value == nil {
		l.Remove(keyIs(key))
		return
	}
	l.upsert(keyIs(key), KeyValue{Key: key, Value: value}, false)
}

// Get returns the first value stored under key.
func (l *tagList) Get(key string) (any, bool) {
	kv, ok := l.Find(keyIs(key))
	return kv.Value, ok
}

// baggageList keeps the newest keys first.
type baggageList struct {
	linkedList[BaggageItem]
}

func newBaggageList(first BaggageItem) *baggageList {
	l := &baggageList{}
	n := newListNode(first)
	l.head.Store(n)
	l.tail = n
	l.count = 1
	return l
}

func baggageKeyIs(key string) func(*BaggageItem) bool {
	return func(b *BaggageItem) bool { return b.Key == key }
}

// Set updates key in place or links it at the front.
func (l *baggageList) Set(key, value string) {
	l.upsert(baggageKeyIs(key), BaggageItem{Key: key, Value: value}, true)
}

// Get returns the value stored under key.
func (l *baggageList) Get(key string) (string, bool) {
	b, ok := l.Find(baggageKeyIs(key))
	return b.Value, ok
}
