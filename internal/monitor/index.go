package monitor

import "github.com/couchcryptid/p2pquake-service/internal/domain"

// idIndex is a bounded event-id index with least-recently-written eviction.
// Writes for an existing id replace the message and refresh its position.
// Not safe for concurrent use; Cache guards it.
type idIndex struct {
	maxEntries int
	entries    map[string]*indexEntry
	head       *indexEntry // most recently written
	tail       *indexEntry // least recently written
}

type indexEntry struct {
	id   string
	msg  domain.Message
	prev *indexEntry
	next *indexEntry
}

func newIDIndex(maxEntries int) *idIndex {
	return &idIndex{
		maxEntries: maxEntries,
		entries:    make(map[string]*indexEntry),
	}
}

func (x *idIndex) get(id string) (domain.Message, bool) {
	e, ok := x.entries[id]
	if !ok {
		return nil, false
	}
	return e.msg, true
}

func (x *idIndex) put(id string, msg domain.Message) {
	if e, ok := x.entries[id]; ok {
		e.msg = msg
		x.moveToFront(e)
		return
	}

	e := &indexEntry{id: id, msg: msg}
	x.entries[id] = e
	x.addToFront(e)

	if len(x.entries) > x.maxEntries {
		x.evictTail()
	}
}

func (x *idIndex) len() int { return len(x.entries) }

func (x *idIndex) moveToFront(e *indexEntry) {
	if e == x.head {
		return
	}
	x.remove(e)
	x.addToFront(e)
}

func (x *idIndex) addToFront(e *indexEntry) {
	e.next = x.head
	e.prev = nil
	if x.head != nil {
		x.head.prev = e
	}
	x.head = e
	if x.tail == nil {
		x.tail = e
	}
}

func (x *idIndex) remove(e *indexEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		x.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		x.tail = e.prev
	}
}

func (x *idIndex) evictTail() {
	if x.tail == nil {
		return
	}
	delete(x.entries, x.tail.id)
	x.remove(x.tail)
}
