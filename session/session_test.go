package session_test

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/claim"
	"github.com/usbipd-go/usbipd/internal/log"
	"github.com/usbipd-go/usbipd/protocol"
	"github.com/usbipd-go/usbipd/registry"
	"github.com/usbipd-go/usbipd/session"
)

func newDeps(be backend.Backend, allow []string) session.Deps {
	return session.Deps{
		Registry:     registry.New(be, allow),
		Arbiter:      claim.New(be),
		Backend:      be,
		Logger:       slog.New(slog.NewTextHandler(discard{}, nil)),
		RawLogger:    log.NewRaw(nil),
		URBTimeoutMs: 30000,
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// S1: empty allow-list, DEVLIST replies with zero devices.
func TestSessionDevListEmpty(t *testing.T) {
	be := backend.NewMockBackend()
	client, serverConn := net.Pipe()
	defer client.Close()

	deps := newDeps(be, nil)
	sess := session.New("s1", serverConn, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Serve(ctx) }()

	req := protocol.DevListRequest{}.Encode()
	_, err := client.Write(req)
	require.NoError(t, err)

	reply := make([]byte, 12)
	_, err = readFull(client, reply)
	require.NoError(t, err)

	decoded, err := protocol.DecodeDevListReply(reply)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), decoded.Status)
	assert.Empty(t, decoded.Devices)
}

// S2: IMPORT success transitions the session into the Imported phase and
// returns a 320-byte REP_IMPORT.
func TestSessionImportSuccess(t *testing.T) {
	be := backend.NewMockBackend(backend.DeviceInfo{BusID: "1-1", DeviceID: "1", VendorID: 0x1234, ProductID: 0xabcd})
	client, serverConn := net.Pipe()
	defer client.Close()

	deps := newDeps(be, nil)
	sess := session.New("s2", serverConn, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Serve(ctx) }()

	req := protocol.ImportRequest{BusID: "1-1"}.Encode()
	_, err := client.Write(req)
	require.NoError(t, err)

	reply := make([]byte, protocol.RepImportOkSize)
	_, err = readFull(client, reply)
	require.NoError(t, err)

	decoded, err := protocol.DecodeImportReply(reply)
	require.NoError(t, err)
	require.Equal(t, uint32(0), decoded.Status)
	require.NotNil(t, decoded.Device)
	assert.Equal(t, "1-1", decoded.Device.BusID)
}

// A second import attempt for an already-claimed device fails (exclusivity).
func TestSessionImportAlreadyClaimed(t *testing.T) {
	be := backend.NewMockBackend(backend.DeviceInfo{BusID: "1-1", DeviceID: "1"})
	arb := claim.New(be)
	_, err := arb.TryClaim("1-1", "1", "other-session")
	require.NoError(t, err)

	client, serverConn := net.Pipe()
	defer client.Close()

	deps := session.Deps{
		Registry:     registry.New(be, nil),
		Arbiter:      arb,
		Backend:      be,
		Logger:       slog.New(slog.NewTextHandler(discard{}, nil)),
		RawLogger:    log.NewRaw(nil),
		URBTimeoutMs: 30000,
	}
	sess := session.New("s3", serverConn, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Serve(ctx) }()

	req := protocol.ImportRequest{BusID: "1-1"}.Encode()
	_, err = client.Write(req)
	require.NoError(t, err)

	reply := make([]byte, protocol.MgmtHeaderSize)
	_, err = readFull(client, reply)
	require.NoError(t, err)

	decoded, err := protocol.DecodeImportReply(reply)
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0), decoded.Status)
}

func readFull(r net.Conn, buf []byte) (int, error) {
	_ = r.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
