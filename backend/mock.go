package backend

import (
	"context"
	"sync"
)

// MockBackend is an in-memory test double for Backend, grounded on the
// teacher's internal/testing/mocks.go pattern: a small struct with
// overridable function fields, constructed with sensible defaults so tests
// only need to override the behavior they care about.
type MockBackend struct {
	mu      sync.Mutex
	devices []DeviceInfo
	claims  map[string]bool // device_key -> claimed

	// TransferFunc, when set, overrides the default echo/ack behavior.
	TransferFunc func(ctx context.Context, key string, req TransferRequest) (TransferResult, error)
	// CancelFunc, when set, overrides the default no-op cancel.
	CancelFunc func(key string, seqnum uint32) error
}

// NewMockBackend builds a MockBackend exposing the given devices.
func NewMockBackend(devices ...DeviceInfo) *MockBackend {
	return &MockBackend{
		devices: devices,
		claims:  make(map[string]bool),
	}
}

type mockClaim struct{ key string }

// AddDevice registers an additional device the mock reports.
func (m *MockBackend) AddDevice(d DeviceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, d)
}

func (m *MockBackend) ListDevices() ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeviceInfo, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

func (m *MockBackend) Claim(busID, deviceID string) (ClaimHandle, error) {
	key := busID + "-" + deviceID
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[key] {
		return nil, &BackendError{Kind: ErrBusy, Detail: "already claimed"}
	}
	found := false
	for _, d := range m.devices {
		if d.BusID == busID && d.DeviceID == deviceID {
			found = true
			break
		}
	}
	if !found {
		return nil, &BackendError{Kind: ErrNotFound, Detail: "no such device"}
	}
	m.claims[key] = true
	return &mockClaim{key: key}, nil
}

func (m *MockBackend) Release(handle ClaimHandle) error {
	c, ok := handle.(*mockClaim)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, c.key)
	return nil
}

func (m *MockBackend) OpenInterface(handle ClaimHandle, interfaceNumber uint8) error {
	if _, ok := handle.(*mockClaim); !ok {
		return &BackendError{Kind: ErrInvalidArgument, Detail: "not a mock claim handle"}
	}
	return nil
}

func (m *MockBackend) Transfer(ctx context.Context, handle ClaimHandle, req TransferRequest) (TransferResult, error) {
	c, ok := handle.(*mockClaim)
	if !ok {
		return TransferResult{}, &BackendError{Kind: ErrInvalidArgument, Detail: "not a mock claim handle"}
	}
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, c.key, req)
	}
	if req.Direction == DirectionOut {
		return TransferResult{Status: StatusOK, ActualLen: uint32(len(req.OutData))}, nil
	}
	data := make([]byte, req.BufferLength)
	return TransferResult{Status: StatusOK, ActualLen: uint32(len(data)), Data: data}, nil
}

func (m *MockBackend) Cancel(handle ClaimHandle, seqnum uint32) error {
	c, ok := handle.(*mockClaim)
	if !ok {
		return &BackendError{Kind: ErrInvalidArgument, Detail: "not a mock claim handle"}
	}
	if m.CancelFunc != nil {
		return m.CancelFunc(c.key, seqnum)
	}
	return nil
}
