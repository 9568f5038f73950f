// Package claim implements the Claim Arbiter: the process-wide table that
// brokers exclusive ownership of a USB device to one importing session at a
// time.
package claim

import (
	"fmt"
	"sync"
	"time"

	"github.com/usbipd-go/usbipd/backend"
)

// Entry records one device's exclusive grant.
type Entry struct {
	DeviceKey string
	SessionID string
	ClaimedAt time.Time
	handle    backend.ClaimHandle
}

// ErrorKind is the closed sum of arbiter-level failures.
type ErrorKind int

const (
	ErrAlreadyClaimed ErrorKind = iota
	ErrBackendRefused
)

// ClaimError reports why TryClaim failed.
type ClaimError struct {
	Kind  ErrorKind
	Cause error
}

func (e *ClaimError) Error() string {
	if e.Kind == ErrAlreadyClaimed {
		return "claim: device already claimed by another session"
	}
	return fmt.Sprintf("claim: backend refused claim: %v", e.Cause)
}

func (e *ClaimError) Unwrap() error { return e.Cause }

// Token is returned by TryClaim and passed to Release.
type Token struct {
	DeviceKey string
	SessionID string
}

// Arbiter owns the global claim table. All transitions run under a single
// mutex with short critical sections — the teacher's busesMu pattern
// generalized to exclusivity instead of mere registration.
type Arbiter struct {
	backend backend.Backend

	mu      sync.Mutex
	entries map[string]*Entry // device_key -> entry
}

// New creates an Arbiter backed by b.
func New(b backend.Backend) *Arbiter {
	return &Arbiter{backend: b, entries: make(map[string]*Entry)}
}

// TryClaim attempts to grant exclusive ownership of deviceKey to sessionID.
// If an entry already exists for a different session, it fails with
// ErrAlreadyClaimed. If the same session already holds it, the existing
// token is returned (idempotent re-claim). On backend failure no entry is
// recorded.
func (a *Arbiter) TryClaim(busID, deviceID, sessionID string) (Token, error) {
	deviceKey := busID + "-" + deviceID
	a.mu.Lock()
	if existing, ok := a.entries[deviceKey]; ok {
		defer a.mu.Unlock()
		if existing.SessionID == sessionID {
			return Token{DeviceKey: deviceKey, SessionID: sessionID}, nil
		}
		return Token{}, &ClaimError{Kind: ErrAlreadyClaimed}
	}
	a.mu.Unlock()

	handle, err := a.backend.Claim(busID, deviceID)
	if err != nil {
		return Token{}, &ClaimError{Kind: ErrBackendRefused, Cause: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Re-check: another goroutine may have won the race while we were
	// outside the lock waiting on the backend.
	if existing, ok := a.entries[deviceKey]; ok {
		_ = a.backend.Release(handle)
		if existing.SessionID == sessionID {
			return Token{DeviceKey: deviceKey, SessionID: sessionID}, nil
		}
		return Token{}, &ClaimError{Kind: ErrAlreadyClaimed}
	}
	a.entries[deviceKey] = &Entry{
		DeviceKey: deviceKey,
		SessionID: sessionID,
		ClaimedAt: time.Now(),
		handle:    handle,
	}
	return Token{DeviceKey: deviceKey, SessionID: sessionID}, nil
}

// Release drops the claim identified by tok. Idempotent: releasing an
// unknown or already-released token is a no-op.
func (a *Arbiter) Release(tok Token) error {
	a.mu.Lock()
	entry, ok := a.entries[tok.DeviceKey]
	if !ok || entry.SessionID != tok.SessionID {
		a.mu.Unlock()
		return nil
	}
	delete(a.entries, tok.DeviceKey)
	a.mu.Unlock()
	return a.backend.Release(entry.handle)
}

// ReleaseSession releases every claim owned by sessionID — called on
// connection teardown, cascading per spec.md §4.D.
func (a *Arbiter) ReleaseSession(sessionID string) {
	a.mu.Lock()
	var toRelease []*Entry
	for key, e := range a.entries {
		if e.SessionID == sessionID {
			toRelease = append(toRelease, e)
			delete(a.entries, key)
		}
	}
	a.mu.Unlock()
	for _, e := range toRelease {
		_ = a.backend.Release(e.handle)
	}
}

// IsClaimed reports whether deviceKey currently has an owner.
func (a *Arbiter) IsClaimed(deviceKey string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[deviceKey]
	return ok
}

// Handle returns the backend claim handle for an active entry, used by the
// Submit/Unlink Processors to dispatch transfers. Returns false if the
// session does not currently hold the claim.
func (a *Arbiter) Handle(deviceKey, sessionID string) (backend.ClaimHandle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[deviceKey]
	if !ok || e.SessionID != sessionID {
		return nil, false
	}
	return e.handle, true
}

// Snapshot returns a copy of every active entry, used for restart
// persistence and the `status` CLI subcommand.
func (a *Arbiter) Snapshot() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, *e)
	}
	return out
}

// Reconcile attempts to re-claim every persisted (device_key, sessionID)
// pair against the backend at startup, dropping any that fail. This keeps
// the invariant from spec.md §4.D: on-disk claim state is always a superset
// of (or equal to) the in-memory table, reconciled down to what the backend
// will actually still grant.
func (a *Arbiter) Reconcile(persisted []PersistedClaim) {
	for _, p := range persisted {
		busID, deviceID := splitDeviceKey(p.DeviceKey)
		if busID == "" {
			continue
		}
		if _, err := a.TryClaim(busID, deviceID, p.SessionID); err != nil {
			continue
		}
	}
}

// PersistedClaim is the on-disk shape of a claim entry (spec.md §6).
type PersistedClaim struct {
	DeviceKey string    `json:"device_key"`
	SessionID string    `json:"session_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

func splitDeviceKey(key string) (busID, deviceID string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '-' {
			return key[:i], key[i+1:]
		}
	}
	return "", ""
}
