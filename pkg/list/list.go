// Package list implements a generic doubly-linked list whose links can
// be removed in O(1) given a handle, without searching the list. It
// backs the LRU replacer's candidate ordering and the buffer pool's
// free frame list.
package list

// List is a doubly-linked list of arbitrary values.
type List struct {
	head *Link
	tail *Link
}

// NewList constructs an empty list.
func NewList() *List {
	return &List{}
}

// PeekHead returns the list's head link, or nil if the list is empty.
func (l *List) PeekHead() *Link {
	return l.head
}

// PeekTail returns the list's tail link, or nil if the list is empty.
func (l *List) PeekTail() *Link {
	return l.tail
}

// PushTail appends value to the end of the list, returning its link.
func (l *List) PushTail(value interface{}) *Link {
	newLink := &Link{list: l, prev: l.tail, value: value}
	if l.tail != nil {
		l.tail.next = newLink
	}
	l.tail = newLink
	if l.head == nil {
		l.head = newLink
	}
	return newLink
}

// Link is one node of a List.
type Link struct {
	list  *List
	prev  *Link
	next  *Link
	value interface{}
}

// GetList returns the list this link currently belongs to, or nil if
// it has been popped.
func (link *Link) GetList() *List {
	return link.list
}

// GetValue returns the link's stored value.
func (link *Link) GetValue() interface{} {
	return link.value
}

// PopSelf removes this link from its list in O(1).
func (link *Link) PopSelf() {
	switch {
	case link.prev == nil && link.next == nil:
		link.list.head = nil
		link.list.tail = nil
	case link.prev == nil:
		link.next.prev = nil
		link.list.head = link.next
	case link.next == nil:
		link.prev.next = nil
		link.list.tail = link.prev
	default:
		link.prev.next = link.next
		link.next.prev = link.prev
	}
	link.list = nil
	link.prev = nil
	link.next = nil
}
