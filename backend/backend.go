// Package backend defines the narrow capability the protocol core uses to
// reach a physical (or simulated) USB device: enumerate, claim exclusivity,
// open an interface, run a transfer, and cancel one in flight. The core
// never imports anything platform-specific — only this interface.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// DeviceInfo is the backend's view of one locally attached device, enough
// for the Device Registry to build a UsbDevice from it.
type DeviceInfo struct {
	BusID         string
	DeviceID      string
	VendorID      uint16
	ProductID     uint16
	Class         uint8
	SubClass      uint8
	Protocol      uint8
	Speed         uint32
	Manufacturer  string
	Product       string
	Serial        string
	NumConfigs    uint8
	NumInterfaces uint8
}

// TransferDirection mirrors protocol.DirIn/DirOut without importing the wire
// package into the backend capability.
type TransferDirection uint8

const (
	DirectionOut TransferDirection = 0
	DirectionIn  TransferDirection = 1
)

// TransferType classifies the kind of USB transfer a Urb requests.
type TransferType uint8

const (
	TransferControl TransferType = iota
	TransferBulk
	TransferInterrupt
	TransferIsochronous
)

// IsoParams carries isochronous-specific scheduling fields, present only
// when TransferType == TransferIsochronous.
type IsoParams struct {
	StartFrame    uint32
	NumPackets    uint32
	Interval      uint32
}

// TransferRequest is everything the backend needs to execute one transfer.
type TransferRequest struct {
	Seqnum       uint32
	Endpoint     uint8
	Direction    TransferDirection
	Type         TransferType
	Setup        [8]byte
	OutData      []byte // present iff Direction == DirectionOut
	BufferLength uint32
	TimeoutMs    uint32
	Iso          *IsoParams
}

// TransferResult is what the backend hands back once a transfer completes,
// fails, or is cancelled.
type TransferResult struct {
	Status     TransferStatus
	ActualLen  uint32
	Data       []byte // populated for IN transfers
	ErrorCount uint32
	StartFrame uint32
}

// TransferStatus is the backend-level outcome of a transfer, translated by
// the Submit Processor into the wire's negative-errno status.
type TransferStatus int

const (
	StatusOK TransferStatus = iota
	StatusTimeout
	StatusDeviceGone
	StatusInvalidArgument
	StatusStalled
	StatusCancelled
	StatusShortPacket
	StatusProtocolError
	StatusMemory
	StatusBufferError
)

// ClaimHandle opaquely identifies a backend-level exclusive claim on one
// device. The core never inspects its contents.
type ClaimHandle interface{}

// BackendError is the closed sum of failures a Backend may report. The core
// never leaks it to the wire verbatim — every BackendError maps to exactly
// one negative wire status (spec.md §4.F/§7).
type BackendError struct {
	Kind   BackendErrorKind
	Detail string
}

type BackendErrorKind int

const (
	ErrNotFound BackendErrorKind = iota
	ErrAccessDenied
	ErrBusy
	ErrTimeout
	ErrStalled
	ErrDisconnected
	ErrInvalidArgument
	ErrUnsupported
	ErrInternal
)

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend: %s: %s", e.Kind, e.Detail)
}

func (k BackendErrorKind) String() string {
	switch k {
	case ErrNotFound:
		return "not found"
	case ErrAccessDenied:
		return "access denied"
	case ErrBusy:
		return "busy"
	case ErrTimeout:
		return "timeout"
	case ErrStalled:
		return "stalled"
	case ErrDisconnected:
		return "disconnected"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrUnsupported:
		return "unsupported"
	default:
		return "internal"
	}
}

// AsBackendError unwraps err into a *BackendError if possible.
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Backend is the capability interface spec.md §4.I/§1 names "UsbBackend":
// the only way the protocol core touches a physical or simulated device.
type Backend interface {
	// ListDevices enumerates locally attached devices, whether or not they
	// are currently claimed.
	ListDevices() ([]DeviceInfo, error)

	// Claim acquires platform-level exclusive access to busID/deviceID.
	Claim(busID, deviceID string) (ClaimHandle, error)

	// Release drops exclusivity previously acquired by Claim. Idempotent.
	Release(handle ClaimHandle) error

	// OpenInterface ensures the given interface number is configured/open
	// for transfers on the claimed device.
	OpenInterface(handle ClaimHandle, interfaceNumber uint8) error

	// Transfer executes req against the device identified by handle and
	// blocks (respecting ctx) until it completes, fails, or is cancelled.
	Transfer(ctx context.Context, handle ClaimHandle, req TransferRequest) (TransferResult, error)

	// Cancel best-effort cancels the in-flight transfer with the given
	// seqnum. The core tolerates a "already completed" response silently.
	Cancel(handle ClaimHandle, seqnum uint32) error
}
