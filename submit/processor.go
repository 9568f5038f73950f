// Package submit implements the Submit Processor (spec.md §4.F): validates
// a decoded CMD_SUBMIT, admits it into the session's URB Tracker, dispatches
// it to the Backend, and translates the result into a RET_SUBMIT reply.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/protocol"
	"github.com/usbipd-go/usbipd/urb"
)

// Wire status codes for RET_SUBMIT, per spec.md §4.F.
const (
	statusOK                  int32 = 0
	statusTimeout             int32 = -110
	statusDeviceGone          int32 = -19
	statusInvalidParams       int32 = -22
	statusConcurrentLimit     int32 = -11
	statusDuplicateRequest    int32 = -17
	statusCancelled           int32 = -2
	statusStalled             int32 = -32
	statusShortPacket         int32 = -121
	statusGenericProtoFailure int32 = -71
	statusMemory              int32 = -12
	statusBufferError         int32 = -90
)

// InvalidUrbError reports a validation failure that never touches the
// backend (spec.md §4.F step 1 / §7 RequestError.InvalidUrb).
type InvalidUrbError struct {
	Reason string
}

func (e *InvalidUrbError) Error() string { return "submit: invalid urb: " + e.Reason }

// Dependencies the processor needs to turn a decoded CMD_SUBMIT into bytes.
// ClaimHandle/OpenInterface/Transfer are satisfied by a backend.Backend
// bound to one already-claimed device.
type Dependencies struct {
	Backend     backend.Backend
	ClaimHandle backend.ClaimHandle
	Tracker     *urb.Tracker
	Devid       uint32
	// TimeoutMs is the per-URB deadline armed at dispatch (spec.md §5). The
	// wire's CMD_SUBMIT carries no explicit timeout field, so the session
	// supplies one from ServerConfig; 0 falls back to the 30s ceiling.
	TimeoutMs uint32
}

// Process validates, admits, dispatches, and replies to one CMD_SUBMIT
// message. It always returns RET_SUBMIT bytes: backend and validation
// failures become a RET_SUBMIT with a negative status per spec.md §4.F.
func Process(ctx context.Context, deps Dependencies, msg protocol.CmdSubmitMsg, outBuffer []byte) []byte {
	u, verr := validateAndBuild(msg, deps.Devid, deps.TimeoutMs)
	if verr != nil {
		return encodeReply(msg.Basic.Seqnum, invalidUrbStatus(verr), nil, 0, 0, 0, 0)
	}
	u.OutBuffer = outBuffer

	var numPackets uint32
	if u.Iso != nil {
		numPackets = u.Iso.NumPackets
	}

	if err := deps.Tracker.Insert(u); err != nil {
		if errors.Is(err, urb.ErrConcurrentRequestLimit) {
			return encodeReply(msg.Basic.Seqnum, statusConcurrentLimit, nil, 0, 0, 0, numPackets)
		}
		// ErrDuplicateRequest: spec.md §7 RequestError.DuplicateRequest.
		return encodeReply(msg.Basic.Seqnum, statusDuplicateRequest, nil, 0, 0, 0, numPackets)
	}

	deps.Tracker.SetStatus(u.Seqnum, urb.StatusInProgress)

	ifaceNum := interfaceForEndpoint(u.Endpoint)
	if err := deps.Backend.OpenInterface(deps.ClaimHandle, ifaceNum); err != nil {
		deps.Tracker.Remove(u.Seqnum)
		return encodeReply(msg.Basic.Seqnum, translateBackendErr(err), nil, 0, 0, 0, numPackets)
	}

	transferCtx := ctx
	var cancel context.CancelFunc
	if u.TimeoutMs > 0 {
		transferCtx, cancel = context.WithTimeout(ctx, time.Duration(u.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	req := backend.TransferRequest{
		Seqnum:       u.Seqnum,
		Endpoint:     u.Endpoint,
		Direction:    u.Direction,
		Type:         u.Type,
		Setup:        u.Setup,
		OutData:      u.OutBuffer,
		BufferLength: u.BufferLen,
		TimeoutMs:    u.TimeoutMs,
	}
	if u.Iso != nil {
		req.Iso = &backend.IsoParams{StartFrame: u.Iso.StartFrame, NumPackets: u.Iso.NumPackets, Interval: u.Iso.Interval}
	}

	result, err := deps.Backend.Transfer(transferCtx, deps.ClaimHandle, req)
	deps.Tracker.Remove(u.Seqnum)

	if err != nil {
		if transferCtx.Err() != nil && !errors.Is(transferCtx.Err(), context.Canceled) {
			return encodeReply(msg.Basic.Seqnum, statusTimeout, nil, 0, 0, 0, numPackets)
		}
		return encodeReply(msg.Basic.Seqnum, translateBackendErr(err), nil, 0, 0, 0, numPackets)
	}

	return encodeReply(msg.Basic.Seqnum, translateStatus(result.Status), resultData(u, result), result.ActualLen, result.ErrorCount, result.StartFrame, numPackets)
}

func resultData(u *urb.Urb, result backend.TransferResult) []byte {
	if u.Direction == backend.DirectionIn {
		return result.Data
	}
	return nil
}

// validateAndBuild implements spec.md §4.F step 1 (validate) and step 2
// (infer transfer type), producing the in-flight Urb to track.
func validateAndBuild(msg protocol.CmdSubmitMsg, devid uint32, configuredTimeoutMs uint32) (*urb.Urb, error) {
	if msg.Basic.Ep > 0xFF {
		return nil, &InvalidUrbError{Reason: fmt.Sprintf("endpoint %d exceeds 0xFF", msg.Basic.Ep)}
	}

	dir := backend.TransferDirection(msg.Basic.Dir)
	if dir != backend.DirectionIn && dir != backend.DirectionOut {
		return nil, &InvalidUrbError{Reason: fmt.Sprintf("direction %d not in {0,1}", msg.Basic.Dir)}
	}

	if msg.TransferBufferLen > protocol.MaxTransferBufferLen {
		return nil, &InvalidUrbError{Reason: fmt.Sprintf("transfer_buffer_length %d exceeds cap %d", msg.TransferBufferLen, protocol.MaxTransferBufferLen)}
	}

	epAddr := uint8(msg.Basic.Ep) & 0x7F

	if epAddr == 0 && isZeroSetup(msg.Setup) {
		return nil, &InvalidUrbError{Reason: "setup packet required for endpoint 0"}
	}

	// CMD_SUBMIT carries no explicit timeout_ms field on the wire; the
	// server arms the per-URB timer (spec.md §5) from its own configured
	// default rather than client input.
	timeoutMs := configuredTimeoutMs
	if timeoutMs == 0 {
		timeoutMs = 30000
	}
	if timeoutMs < 1 || timeoutMs > 30000 {
		return nil, &InvalidUrbError{Reason: fmt.Sprintf("timeout_ms %d out of [1,30000]", timeoutMs)}
	}

	xferType := inferTransferType(epAddr, msg.NumberOfPackets)

	u := &urb.Urb{
		Seqnum:        msg.Basic.Seqnum,
		Devid:         devid,
		Direction:     dir,
		Endpoint:      epAddr,
		Type:          xferType,
		TransferFlags: msg.TransferFlags,
		BufferLen:     msg.TransferBufferLen,
		Setup:         msg.Setup,
		TimeoutMs:     timeoutMs,
		Status:        urb.StatusPending,
	}
	if xferType == backend.TransferIsochronous {
		u.Iso = &urb.Iso{StartFrame: msg.StartFrame, NumPackets: msg.NumberOfPackets, Interval: msg.Interval}
	}
	return u, nil
}

func isZeroSetup(setup [8]byte) bool {
	for _, b := range setup {
		if b != 0 {
			return false
		}
	}
	return true
}

// inferTransferType implements spec.md §4.F step 2 / §9: endpoint 0 is
// always Control; NumberOfPackets > 0 selects Isochronous; everything else
// defaults to Bulk. Interrupt is unreachable through inference alone — a
// fuller implementation would need cached endpoint descriptors from import
// time, which this core does not retain (§9 open question, treated as a
// known gap rather than silently "solved").
func inferTransferType(epAddr uint8, numPackets uint32) backend.TransferType {
	if epAddr == 0 {
		return backend.TransferControl
	}
	if numPackets > 0 {
		return backend.TransferIsochronous
	}
	return backend.TransferBulk
}

// interfaceForEndpoint derives the interface number to open before
// dispatch. §9 admits the source's default-0 mapping is a known
// simplification; a real implementation would cache endpoint->interface
// from descriptors fetched at first SUBMIT.
// TODO: cache endpoint->interface mapping from descriptors retrieved at
// import time instead of always opening interface 0.
func interfaceForEndpoint(epAddr uint8) uint8 {
	return 0
}

func invalidUrbStatus(err error) int32 {
	return statusInvalidParams
}

func translateBackendErr(err error) int32 {
	be, ok := backend.AsBackendError(err)
	if !ok {
		return statusGenericProtoFailure
	}
	switch be.Kind {
	case backend.ErrTimeout:
		return statusTimeout
	case backend.ErrDisconnected, backend.ErrNotFound:
		return statusDeviceGone
	case backend.ErrInvalidArgument:
		return statusInvalidParams
	case backend.ErrBusy:
		return statusConcurrentLimit
	case backend.ErrStalled:
		return statusStalled
	case backend.ErrAccessDenied:
		return statusGenericProtoFailure
	case backend.ErrUnsupported:
		return statusGenericProtoFailure
	default:
		return statusMemory
	}
}

// translateStatus implements the status-mapping totality property of
// spec.md §8.8: every backend.TransferStatus maps to exactly one signed
// wire status.
func translateStatus(status backend.TransferStatus) int32 {
	switch status {
	case backend.StatusOK:
		return statusOK
	case backend.StatusTimeout:
		return statusTimeout
	case backend.StatusDeviceGone:
		return statusDeviceGone
	case backend.StatusInvalidArgument:
		return statusInvalidParams
	case backend.StatusStalled:
		return statusStalled
	case backend.StatusCancelled:
		return statusCancelled
	case backend.StatusShortPacket:
		return statusShortPacket
	case backend.StatusProtocolError:
		return statusGenericProtoFailure
	case backend.StatusMemory:
		return statusMemory
	case backend.StatusBufferError:
		return statusBufferError
	default:
		return statusGenericProtoFailure
	}
}

// encodeReply builds a RET_SUBMIT reply. numberOfPackets is only meaningful
// for Isochronous URBs (spec.md §4.F step 6: "echo start_frame and
// number_of_packets"); callers pass 0 for every other transfer type.
// actualLength is the backend-reported length, which for OUT transfers is
// set even though no data follows the header.
func encodeReply(seqnum uint32, status int32, data []byte, actualLength, errorCount, startFrame, numberOfPackets uint32) []byte {
	ret := protocol.RetSubmitMsg{
		Basic:           protocol.HeaderBasic{Command: protocol.RetSubmit, Seqnum: seqnum},
		Status:          status,
		ActualLength:    actualLength,
		StartFrame:      startFrame,
		NumberOfPackets: numberOfPackets,
		ErrorCount:      errorCount,
	}
	buf := ret.Encode()
	if len(data) > 0 {
		buf = append(buf, data...)
	}
	return buf
}
