package server_test

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
	"github.com/usbipd-go/usbipd/server"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestServer(t *testing.T, maxConn int) (*server.Server, context.Context, context.CancelFunc) {
	t.Helper()
	be := backend.NewMockBackend(backend.DeviceInfo{BusID: "1-1", DeviceID: "1"})
	reg := registry.New(be, nil)
	arb := claim.New(be)
	logger := slog.New(slog.NewTextHandler(discard{}, nil))

	cfg := server.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.MaxConnections = maxConn

	srv := server.New(cfg, reg, arb, be, logger, log.NewRaw(nil))
	ctx, cancel := context.WithCancel(context.Background())
	return srv, ctx, cancel
}

func TestServerAcceptsAndServesDevList(t *testing.T) {
	srv, ctx, cancel := newTestServer(t, 10)
	defer cancel()

	go func() { _ = srv.ListenAndServe(ctx) }()
	<-srv.Ready()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(protocol.DevListRequest{}.Encode())
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.MgmtHeaderSize+protocol.DevListCountSize+protocol.ExportedDeviceSize)
	_, err = readFull(conn, buf)
	require.NoError(t, err)

	reply, err := protocol.DecodeDevListReply(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), reply.Status)
	assert.Len(t, reply.Devices, 1)
}

// §4.H: connections beyond max_connections are accepted, then closed.
func TestServerRejectsOverCapacity(t *testing.T) {
	srv, ctx, cancel := newTestServer(t, 1)
	defer cancel()

	go func() { _ = srv.ListenAndServe(ctx) }()
	<-srv.Ready()

	blocker, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer blocker.Close()

	// Give the accept loop a moment to register the first connection as active.
	time.Sleep(50 * time.Millisecond)

	excess, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer excess.Close()

	_ = excess.SetReadDeadline(time.Now().Add(2 * time.Second))
	one := make([]byte, 1)
	_, err = excess.Read(one)
	assert.Error(t, err, "excess connection should be closed by the server")
}

func TestServerShutdownDrains(t *testing.T) {
	srv, ctx, cancel := newTestServer(t, 10)
	defer cancel()

	go func() { _ = srv.ListenAndServe(ctx) }()
	<-srv.Ready()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	err = srv.Shutdown(500 * time.Millisecond)
	assert.NoError(t, err)
}

func readFull(r net.Conn, buf []byte) (int, error) {
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
