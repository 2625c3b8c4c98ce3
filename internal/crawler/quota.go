package crawler

import (
	"sync"
)

// ItemQuota is the single authority on how many records a run may emit.
// Detail fan-out reserves slots ahead of time so that a category page never
// spawns more detail visits than the quota can still absorb.
type ItemQuota struct {
	mu       sync.Mutex
	limit    int
	emitted  int
	reserved int
}

// NewItemQuota creates a governor; limit <= 0 means unbounded
func NewItemQuota(limit int) *ItemQuota {
	if limit < 0 {
		limit = 0
	}
	return &ItemQuota{limit: limit}
}

// Limited reports whether a quota is set
func (q *ItemQuota) Limited() bool {
	return q.limit > 0
}

// Limit returns the configured quota, 0 when unbounded
func (q *ItemQuota) Limit() int {
	return q.limit
}

// Reserve claims a slot for a record that will be emitted later
func (q *ItemQuota) Reserve() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && q.emitted+q.reserved >= q.limit {
		return false
	}
	q.reserved++
	return true
}

// Release gives back a reservation whose record will never be emitted
func (q *ItemQuota) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reserved > 0 {
		q.reserved--
	}
}

// Acquire counts one emitted record, consuming a reservation when reserved
// is set. ok is false when the record must not be emitted; reached reports
// whether the quota is exhausted after this call. Check and increment happen
// under one lock so concurrent emitters never overshoot.
func (q *ItemQuota) Acquire(reserved bool) (ok bool, reached bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if reserved && q.reserved > 0 {
		q.reserved--
	} else if q.limit > 0 && q.emitted+q.reserved >= q.limit {
		return false, q.reachedLocked()
	}
	if q.limit > 0 && q.emitted >= q.limit {
		return false, true
	}
	q.emitted++
	return true, q.reachedLocked()
}

func (q *ItemQuota) reachedLocked() bool {
	return q.limit > 0 && q.emitted >= q.limit
}

// Reached reports whether the quota has been met
func (q *ItemQuota) Reached() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reachedLocked()
}

// Available reports whether unreserved room remains for more records
func (q *ItemQuota) Available() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit == 0 || q.emitted+q.reserved < q.limit
}

// Emitted returns the number of records counted so far
func (q *ItemQuota) Emitted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.emitted
}
