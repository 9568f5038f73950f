// Package urb implements the URB Tracker (spec.md §4.E): the bounded,
// per-session index of in-flight USB Request Blocks keyed by seqnum.
package urb

import "github.com/usbipd-go/usbipd/backend"

// Status is the lifecycle state of a tracked Urb.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
	StatusCancelled
	StatusFailed
)

// Iso carries isochronous-specific scheduling fields, present only when
// Type == backend.TransferIsochronous.
type Iso struct {
	StartFrame uint32
	NumPackets uint32
	Interval   uint32
}

// Urb is one in-flight USB Request Block, as described in spec.md §3.
type Urb struct {
	Seqnum        uint32
	Devid         uint32
	Direction     backend.TransferDirection
	Endpoint      uint8
	Type          backend.TransferType
	TransferFlags uint32
	BufferLen     uint32
	Setup         [8]byte
	OutBuffer     []byte // present iff Direction == DirectionOut && BufferLen > 0
	TimeoutMs     uint32
	Iso           *Iso
	Status        Status
}
