package submit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/protocol"
	"github.com/usbipd-go/usbipd/submit"
	"github.com/usbipd-go/usbipd/urb"
)

func newClaimedBackend(t *testing.T) (*backend.MockBackend, backend.ClaimHandle) {
	t.Helper()
	be := backend.NewMockBackend(backend.DeviceInfo{BusID: "1-1", DeviceID: "1"})
	handle, err := be.Claim("1-1", "1")
	require.NoError(t, err)
	return be, handle
}

// S3: control GET_DESCRIPTOR on ep0, 18-byte device descriptor.
func TestProcessControlGetDescriptor(t *testing.T) {
	be, handle := newClaimedBackend(t)
	tracker := urb.NewTracker()

	msg := protocol.CmdSubmitMsg{
		Basic:             protocol.HeaderBasic{Command: protocol.CmdSubmit, Seqnum: 1, Dir: protocol.DirIn, Ep: 0},
		TransferBufferLen: 18,
		Setup:             [8]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
	}
	deps := submit.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker, TimeoutMs: 30000}

	reply := submit.Process(context.Background(), deps, msg, nil)
	require.Len(t, reply, 52+18)

	ret, err := protocol.DecodeRetSubmitHeader(reply[:52])
	require.NoError(t, err)
	assert.Equal(t, int32(0), ret.Status)
	assert.Equal(t, uint32(18), ret.ActualLength)
	assert.Equal(t, 0, tracker.Len())
}

// S4: bulk OUT 512 bytes, full-length ack, no trailing buffer on reply.
func TestProcessBulkOut(t *testing.T) {
	be, handle := newClaimedBackend(t)
	tracker := urb.NewTracker()

	out := make([]byte, 512)
	for i := range out {
		out[i] = 0x42
	}
	msg := protocol.CmdSubmitMsg{
		Basic:             protocol.HeaderBasic{Command: protocol.CmdSubmit, Seqnum: 2, Dir: protocol.DirOut, Ep: 0x02},
		TransferBufferLen: 512,
	}
	deps := submit.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker, TimeoutMs: 30000}

	reply := submit.Process(context.Background(), deps, msg, out)
	require.Len(t, reply, 52)

	ret, err := protocol.DecodeRetSubmitHeader(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(0), ret.Status)
	assert.Equal(t, uint32(512), ret.ActualLength)
}

func TestProcessInvalidDirection(t *testing.T) {
	be, handle := newClaimedBackend(t)
	tracker := urb.NewTracker()

	msg := protocol.CmdSubmitMsg{
		Basic: protocol.HeaderBasic{Command: protocol.CmdSubmit, Seqnum: 7, Dir: 9, Ep: 0},
	}
	deps := submit.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker, TimeoutMs: 30000}

	reply := submit.Process(context.Background(), deps, msg, nil)
	ret, err := protocol.DecodeRetSubmitHeader(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(-22), ret.Status)
	assert.Equal(t, 0, tracker.Len(), "validation failures never touch the tracker")
}

func TestProcessMissingSetupOnEp0(t *testing.T) {
	be, handle := newClaimedBackend(t)
	tracker := urb.NewTracker()

	msg := protocol.CmdSubmitMsg{
		Basic:             protocol.HeaderBasic{Command: protocol.CmdSubmit, Seqnum: 8, Dir: protocol.DirIn, Ep: 0},
		TransferBufferLen: 18,
	}
	deps := submit.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker, TimeoutMs: 30000}

	reply := submit.Process(context.Background(), deps, msg, nil)
	ret, err := protocol.DecodeRetSubmitHeader(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(-22), ret.Status)
}

// S6: 65th concurrent SUBMIT is rejected with -EAGAIN and never tracked.
func TestProcessConcurrentLimit(t *testing.T) {
	be, handle := newClaimedBackend(t)
	tracker := urb.NewTracker()
	for i := uint32(0); i < urb.MaxInFlight; i++ {
		require.NoError(t, tracker.Insert(&urb.Urb{Seqnum: 1000 + i}))
	}

	msg := protocol.CmdSubmitMsg{
		Basic:             protocol.HeaderBasic{Command: protocol.CmdSubmit, Seqnum: 65, Dir: protocol.DirIn, Ep: 0x81},
		TransferBufferLen: 64,
	}
	deps := submit.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker, TimeoutMs: 30000}

	reply := submit.Process(context.Background(), deps, msg, nil)
	ret, err := protocol.DecodeRetSubmitHeader(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(-11), ret.Status)
	assert.Equal(t, urb.MaxInFlight, tracker.Len())
}

// spec.md §5 Resource bounds: transfer_buffer_length above the codec's cap
// is rejected as InvalidUrb without ever reaching the backend.
func TestProcessTransferBufferLenExceedsCap(t *testing.T) {
	be, handle := newClaimedBackend(t)
	tracker := urb.NewTracker()

	msg := protocol.CmdSubmitMsg{
		Basic:             protocol.HeaderBasic{Command: protocol.CmdSubmit, Seqnum: 9, Dir: protocol.DirIn, Ep: 0x81},
		TransferBufferLen: protocol.MaxTransferBufferLen + 1,
	}
	deps := submit.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker, TimeoutMs: 30000}

	reply := submit.Process(context.Background(), deps, msg, nil)
	ret, err := protocol.DecodeRetSubmitHeader(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(-22), ret.Status)
	assert.Equal(t, 0, tracker.Len())
}

// spec.md §4.F step 1: endpoint must fit in a byte; a wire value above 0xFF
// must not be silently truncated into a valid-looking endpoint 0.
func TestProcessEndpointExceedsByte(t *testing.T) {
	be, handle := newClaimedBackend(t)
	tracker := urb.NewTracker()

	msg := protocol.CmdSubmitMsg{
		Basic:             protocol.HeaderBasic{Command: protocol.CmdSubmit, Seqnum: 10, Dir: protocol.DirIn, Ep: 0x100},
		TransferBufferLen: 8,
		Setup:             [8]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
	}
	deps := submit.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker, TimeoutMs: 30000}

	reply := submit.Process(context.Background(), deps, msg, nil)
	ret, err := protocol.DecodeRetSubmitHeader(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(-22), ret.Status)
	assert.Equal(t, 0, tracker.Len())
}

func TestProcessBackendErrorTranslation(t *testing.T) {
	be, handle := newClaimedBackend(t)
	be.TransferFunc = func(ctx context.Context, key string, req backend.TransferRequest) (backend.TransferResult, error) {
		return backend.TransferResult{}, &backend.BackendError{Kind: backend.ErrDisconnected, Detail: "unplugged"}
	}
	tracker := urb.NewTracker()

	msg := protocol.CmdSubmitMsg{
		Basic:             protocol.HeaderBasic{Command: protocol.CmdSubmit, Seqnum: 3, Dir: protocol.DirIn, Ep: 0x81},
		TransferBufferLen: 64,
	}
	deps := submit.Dependencies{Backend: be, ClaimHandle: handle, Tracker: tracker, TimeoutMs: 30000}

	reply := submit.Process(context.Background(), deps, msg, nil)
	ret, err := protocol.DecodeRetSubmitHeader(reply)
	require.NoError(t, err)
	assert.Equal(t, int32(-19), ret.Status)
	assert.Equal(t, 0, tracker.Len())
}
