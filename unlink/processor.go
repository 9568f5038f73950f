// Package unlink implements the Unlink Processor (spec.md §4.G): looks up
// the URB named by CMD_UNLINK, best-effort cancels it, and produces the
// RET_UNLINK reply.
package unlink

import (
	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/protocol"
	"github.com/usbipd-go/usbipd/urb"
)

const (
	statusOK         int32 = 0
	statusENOENT     int32 = -2
	statusInvalidArg int32 = -22
)

// Dependencies the processor needs to cancel a tracked URB.
type Dependencies struct {
	Backend     backend.Backend
	ClaimHandle backend.ClaimHandle
	Tracker     *urb.Tracker
}

// Process handles one CMD_UNLINK message and returns the RET_UNLINK bytes.
//
// Per spec.md §4.G: the UNLINK either observes the tracked URB (marks it
// Cancelled, asks the backend to cancel, replies 0) or finds it already
// gone (replies ENOENT because the SUBMIT side already completed and
// removed it) — the tracker mutex makes these mutually exclusive, never
// both.
func Process(deps Dependencies, msg protocol.CmdUnlinkMsg) []byte {
	target, ok := deps.Tracker.Get(msg.UnlinkSeqnum)
	if !ok {
		return encodeReply(msg.Basic.Seqnum, statusENOENT)
	}

	deps.Tracker.SetStatus(target.Seqnum, urb.StatusCancelled)

	if err := deps.Backend.Cancel(deps.ClaimHandle, target.Seqnum); err != nil {
		return encodeReply(msg.Basic.Seqnum, statusInvalidArg)
	}
	return encodeReply(msg.Basic.Seqnum, statusOK)
}

func encodeReply(seqnum uint32, status int32) []byte {
	ret := protocol.RetUnlinkMsg{
		Basic:  protocol.HeaderBasic{Command: protocol.RetUnlink, Seqnum: seqnum},
		Status: status,
	}
	return ret.Encode()
}
