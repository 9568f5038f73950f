package urb

import (
	"errors"
	"sync"
)

// MaxInFlight is the per-session bound on concurrently tracked URBs
// (spec.md §4.E).
const MaxInFlight = 64

// ErrDuplicateRequest is returned by Insert when seqnum is already tracked.
var ErrDuplicateRequest = errors.New("urb: duplicate seqnum")

// ErrConcurrentRequestLimit is returned by Insert when the tracker is full.
var ErrConcurrentRequestLimit = errors.New("urb: concurrent request limit reached")

// Tracker is a mapping from seqnum to Urb, serialized under a single mutex.
// One Tracker exists per session; there is no cross-session sharing.
type Tracker struct {
	mu      sync.Mutex
	entries map[uint32]*Urb
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[uint32]*Urb)}
}

// Insert admits u into the tracker. Fails with ErrDuplicateRequest if
// u.Seqnum is already present, or ErrConcurrentRequestLimit if the tracker
// already holds MaxInFlight entries.
func (t *Tracker) Insert(u *Urb) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[u.Seqnum]; ok {
		return ErrDuplicateRequest
	}
	if len(t.entries) >= MaxInFlight {
		return ErrConcurrentRequestLimit
	}
	t.entries[u.Seqnum] = u
	return nil
}

// Get returns the tracked Urb for seqnum, if any.
func (t *Tracker) Get(seqnum uint32) (*Urb, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.entries[seqnum]
	return u, ok
}

// Remove deletes seqnum from the tracker, returning the removed entry if
// present. A URB leaves the tracker only on completion, cancellation, or
// connection teardown (spec.md §3).
func (t *Tracker) Remove(seqnum uint32) (*Urb, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.entries[seqnum]
	if ok {
		delete(t.entries, seqnum)
	}
	return u, ok
}

// SetStatus updates the status of a tracked Urb in place. Reports false if
// seqnum is not currently tracked.
func (t *Tracker) SetStatus(seqnum uint32, status Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.entries[seqnum]
	if !ok {
		return false
	}
	u.Status = status
	return true
}

// Len reports the number of in-flight entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Drain removes and returns every tracked entry, used on teardown to issue
// cancellations for each still-outstanding URB (spec.md §4.E).
func (t *Tracker) Drain() []*Urb {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Urb, 0, len(t.entries))
	for seq, u := range t.entries {
		out = append(out, u)
		delete(t.entries, seq)
	}
	return out
}
