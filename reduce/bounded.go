package reduce

import (
	"golang.org/x/exp/maps"

	"github.com/nostrcore/relaysession/event"
)

// OrderedStatuses is a bounded, insertion-ordered map of event id ->
// PublishStatus (spec §3 "ordered (insertion order = arrival order);
// bounded by configured limit"). It is copy-on-write: every mutating
// method returns a new value, never mutates the receiver, keeping
// SessionState's persistent-value semantics (spec §9).
type OrderedStatuses struct {
	order []event.ID
	byID  map[event.ID]PublishStatus
}

func newOrderedStatuses(capacityHint int) *OrderedStatuses {
	return &OrderedStatuses{
		order: make([]event.ID, 0, capacityHint),
		byID:  make(map[event.ID]PublishStatus, capacityHint),
	}
}

// Clone returns a deep copy suitable for embedding in a new SessionState.
func (o *OrderedStatuses) Clone() *OrderedStatuses {
	if o == nil {
		return newOrderedStatuses(0)
	}
	cp := &OrderedStatuses{
		order: append([]event.ID(nil), o.order...),
		byID:  maps.Clone(o.byID),
	}
	return cp
}

// Put inserts or replaces the status for id, moving it to the end of
// insertion order, then evicts the oldest entries until the size is at
// most limit (spec §4.1 "Publish-status insertion").
func (o *OrderedStatuses) Put(id event.ID, status PublishStatus, limit int) *OrderedStatuses {
	cp := o.Clone()
	if _, exists := cp.byID[id]; exists {
		cp.order = removeID(cp.order, id)
	}
	cp.order = append(cp.order, id)
	cp.byID[id] = status
	for limit >= 0 && len(cp.order) > limit {
		oldest := cp.order[0]
		cp.order = cp.order[1:]
		delete(cp.byID, oldest)
	}
	return cp
}

// Get returns the status recorded for id, if any.
func (o *OrderedStatuses) Get(id event.ID) (PublishStatus, bool) {
	if o == nil {
		return PublishStatus{}, false
	}
	s, ok := o.byID[id]
	return s, ok
}

// Len reports how many statuses are currently retained.
func (o *OrderedStatuses) Len() int {
	if o == nil {
		return 0
	}
	return len(o.order)
}

// Keys returns the retained ids, oldest first.
func (o *OrderedStatuses) Keys() []event.ID {
	if o == nil {
		return nil
	}
	return append([]event.ID(nil), o.order...)
}

func removeID(ids []event.ID, target event.ID) []event.ID {
	out := make([]event.ID, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// appendDedup implements the dedupe-append helper from spec §4.1: remove
// any prior occurrence of id, append to the end, then drop from the front
// while the size exceeds limit. limit == 0 disables dedupe entirely (the
// buffer is always returned empty, so every event is treated as new);
// limit == 1 keeps exactly the latest id.
func appendDedup(ids []event.ID, id event.ID, limit int) []event.ID {
	if limit == 0 {
		return nil
	}
	out := make([]event.ID, 0, len(ids)+1)
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	out = append(out, id)
	for len(out) > limit {
		out = out[1:]
	}
	return out
}

func containsID(ids []event.ID, id event.ID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
