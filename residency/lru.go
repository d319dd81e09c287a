package residency

import "container/list"

// lru is a doubly-linked list of evictable heaps in MRU-to-LRU order
// (head = most recently used, per spec §3). Grounded on
// joshuapare-hivekit/hive/namecache's container/list-based LRU cache —
// the only LRU implementation in the retrieved corpus, and no
// third-party LRU library appears anywhere in it either.
type lru struct {
	list     *list.List
	elements map[Heap]*list.Element
}

func newLRU() *lru {
	return &lru{
		list:     list.New(),
		elements: make(map[Heap]*list.Element),
	}
}

func (l *lru) insertHead(h Heap) {
	if _, ok := l.elements[h]; ok {
		return
	}
	l.elements[h] = l.list.PushFront(h)
}

func (l *lru) remove(h Heap) {
	if elem, ok := l.elements[h]; ok {
		l.list.Remove(elem)
		delete(l.elements, h)
	}
}

func (l *lru) contains(h Heap) bool {
	_, ok := l.elements[h]
	return ok
}

func (l *lru) tail() (Heap, bool) {
	back := l.list.Back()
	if back == nil {
		return nil, false
	}
	return back.Value.(Heap), true
}

// evictionCandidate walks from the LRU tail towards the head looking
// for the first heap that isn't referenced by in-flight GPU work
// (LastUsedFence() <= completedFence). A heap with work still in
// flight is, per spec §4.7, "effectively locked" even though it isn't
// lockCount-locked, so it is skipped rather than evicted.
func (l *lru) evictionCandidate(completedFence uint64) (Heap, bool) {
	for elem := l.list.Back(); elem != nil; elem = elem.Prev() {
		h := elem.Value.(Heap)
		if h.LastUsedFence() <= completedFence {
			return h, true
		}
	}
	return nil, false
}

func (l *lru) len() int { return l.list.Len() }
