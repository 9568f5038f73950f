package unlink_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/protocol"
	"github.com/usbipd-go/usbipd/unlink"
	"github.com/usbipd-go/usbipd/urb"
)

func TestProcessUnlinkFound(t *testing.T) {
	be := backend.NewMockBackend(backend.DeviceInfo{BusID: "1-1", DeviceID: "1"})
	handle, err := be.Claim("1-1", "1")
	require.NoError(t, err)

	tracker := urb.NewTracker()
	require.NoError(t, tracker.Insert(&urb.Urb{Seqnum: 3, Status: urb.StatusInProgress}))

	deps := unlink.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker}
	msg := protocol.CmdUnlinkMsg{Basic: protocol.HeaderBasic{Command: protocol.CmdUnlink, Seqnum: 4}, UnlinkSeqnum: 3}

	reply := unlink.Process(deps, msg)
	ret, err := protocol.DecodeRetUnlink(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(0), ret.Status)

	tracked, _ := tracker.Get(3)
	require.NotNil(t, tracked)
	assert.Equal(t, urb.StatusCancelled, tracked.Status)
}

// S5 (UNLINK arrives after the SUBMIT side already removed the entry).
func TestProcessUnlinkNotFound(t *testing.T) {
	be := backend.NewMockBackend(backend.DeviceInfo{BusID: "1-1", DeviceID: "1"})
	handle, err := be.Claim("1-1", "1")
	require.NoError(t, err)

	tracker := urb.NewTracker()
	deps := unlink.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker}
	msg := protocol.CmdUnlinkMsg{Basic: protocol.HeaderBasic{Command: protocol.CmdUnlink, Seqnum: 9}, UnlinkSeqnum: 3}

	reply := unlink.Process(deps, msg)
	ret, err := protocol.DecodeRetUnlink(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(-2), ret.Status)
}

func TestProcessUnlinkBackendRefusesCancel(t *testing.T) {
	be := backend.NewMockBackend(backend.DeviceInfo{BusID: "1-1", DeviceID: "1"})
	handle, err := be.Claim("1-1", "1")
	require.NoError(t, err)
	be.CancelFunc = func(key string, seqnum uint32) error {
		return &backend.BackendError{Kind: backend.ErrInvalidArgument, Detail: "already completing"}
	}

	tracker := urb.NewTracker()
	require.NoError(t, tracker.Insert(&urb.Urb{Seqnum: 3}))

	deps := unlink.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker}
	msg := protocol.CmdUnlinkMsg{Basic: protocol.HeaderBasic{Command: protocol.CmdUnlink, Seqnum: 9}, UnlinkSeqnum: 3}

	reply := unlink.Process(deps, msg)
	ret, err := protocol.DecodeRetUnlink(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(-22), ret.Status)
}
