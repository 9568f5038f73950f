// Package session implements the Connection FSM (spec.md §4.B): one Session
// per accepted TCP connection, advancing from the Op phase (device-list/
// import) into the Imported phase (SUBMIT/UNLINK), with teardown cascading
// to claim release and URB cancellation.
package session

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/claim"
	"github.com/usbipd-go/usbipd/internal/log"
	"github.com/usbipd-go/usbipd/protocol"
	"github.com/usbipd-go/usbipd/registry"
	"github.com/usbipd-go/usbipd/submit"
	"github.com/usbipd-go/usbipd/unlink"
	"github.com/usbipd-go/usbipd/urb"
)

// Phase is the Connection FSM's state, per spec.md §4.B.
type Phase int

const (
	PhaseOp Phase = iota
	PhaseImported
)

// Deps bundles the collaborators a Session needs, shared across every
// connection the Listener accepts.
type Deps struct {
	Registry          *registry.Registry
	Arbiter           *claim.Arbiter
	Backend           backend.Backend
	Logger            *slog.Logger
	RawLogger         log.RawLogger
	ConnectionTimeout time.Duration
	URBTimeoutMs      uint32
}

// Session is the per-connection state described in spec.md §3: a phase, an
// optional URB tracker (only once Imported), and the underlying socket.
type Session struct {
	ID    string
	deps  Deps
	conn  net.Conn
	r     *bufio.Reader
	wmu   sync.Mutex // serializes all writes to conn (spec.md §4.B / §5)
	phase Phase

	deviceKey   string
	claimToken  claim.Token
	claimHandle backend.ClaimHandle
	devid       uint32
	tracker     *urb.Tracker

	wg sync.WaitGroup // in-flight SUBMIT goroutines, joined on teardown
}

// New constructs a Session wrapping conn. id should be unique per
// connection (the Listener assigns it, e.g. from a counter or conn addr).
func New(id string, conn net.Conn, deps Deps) *Session {
	return &Session{
		ID:    id,
		deps:  deps,
		conn:  conn,
		r:     bufio.NewReader(conn),
		phase: PhaseOp,
	}
}

// Serve runs the Connection FSM until the peer disconnects, ctx is
// cancelled, or a protocol violation forces the connection closed. Teardown
// (claim release + tracker drain) always runs before Serve returns.
func (s *Session) Serve(ctx context.Context) error {
	defer s.teardown()

	for {
		s.resetDeadline()

		first8, err := s.readExactly(8)
		if err != nil {
			return err
		}

		version, _ := protocol.PeekVersion(first8[0:2])
		switch s.phase {
		case PhaseOp:
			if version != protocol.Version {
				return fmt.Errorf("session %s: protocol violation: non-op message while in Op phase", s.ID)
			}
			command := binary.BigEndian.Uint16(first8[2:4])
			if err := s.handleOpMessage(command, first8); err != nil {
				return err
			}
		case PhaseImported:
			command := binary.BigEndian.Uint32(first8[0:4])
			switch command {
			case protocol.CmdSubmit:
				if err := s.handleSubmit(ctx, first8); err != nil {
					return err
				}
			case protocol.CmdUnlink:
				if err := s.handleUnlink(first8); err != nil {
					return err
				}
			default:
				return fmt.Errorf("session %s: protocol violation: unexpected command 0x%x in Imported phase", s.ID, command)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (s *Session) resetDeadline() {
	if s.deps.ConnectionTimeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.deps.ConnectionTimeout))
	}
}

func (s *Session) readExactly(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	if s.deps.RawLogger != nil {
		s.deps.RawLogger.Log(true, buf)
	}
	return buf, nil
}

func (s *Session) write(buf []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.deps.RawLogger != nil {
		s.deps.RawLogger.Log(false, buf)
	}
	_, err := s.conn.Write(buf)
	return err
}

func (s *Session) handleOpMessage(command uint16, first8 []byte) error {
	switch command {
	case protocol.OpReqDevlist:
		return s.handleDevList()
	case protocol.OpReqImport:
		return s.handleImport(first8)
	default:
		// spec.md §4.B: Op phase accepts exactly DEVLIST or IMPORT; any
		// other op-versioned command is a protocol violation.
		return fmt.Errorf("session %s: protocol violation: unexpected op command 0x%x", s.ID, command)
	}
}

func (s *Session) handleDevList() error {
	devices, err := s.deps.Registry.List()
	if err != nil {
		s.deps.Logger.Error("devlist: registry error", "session", s.ID, "error", err)
		devices = nil
	}
	reply := protocol.DevListReply{Status: 0, Devices: toExportedDevices(devices)}
	return s.write(reply.Encode())
}

func (s *Session) handleImport(first8 []byte) error {
	rest, err := s.readExactly(protocol.ReqImportBodySize)
	if err != nil {
		return err
	}
	full := append(append([]byte{}, first8...), rest...)
	req, err := protocol.DecodeImportRequest(full)
	if err != nil {
		return err
	}

	busID, deviceID, ok := splitBusID(req.BusID, s.deps.Registry)
	if !ok {
		return s.write(protocol.ImportReply{Status: 1}.Encode())
	}

	dev, found, err := s.deps.Registry.Lookup(busID, deviceID)
	if err != nil || !found {
		return s.write(protocol.ImportReply{Status: 1}.Encode())
	}

	token, err := s.deps.Arbiter.TryClaim(busID, deviceID, s.ID)
	if err != nil {
		s.deps.Logger.Info("import: claim failed", "session", s.ID, "busid", req.BusID, "error", err)
		return s.write(protocol.ImportReply{Status: 1}.Encode())
	}

	handle, ok := s.deps.Arbiter.Handle(dev.Key(), s.ID)
	if !ok {
		return s.write(protocol.ImportReply{Status: 1}.Encode())
	}

	exp := toExportedDevice(dev)
	if err := s.write(protocol.ImportReply{Status: 0, Device: &exp}.Encode()); err != nil {
		_ = s.deps.Arbiter.Release(token)
		return err
	}

	s.phase = PhaseImported
	s.deviceKey = dev.Key()
	s.claimToken = token
	s.claimHandle = handle
	s.devid = packDevid(busID, deviceID)
	s.tracker = urb.NewTracker()
	s.deps.Logger.Info("import succeeded", "session", s.ID, "busid", req.BusID)
	return nil
}

// splitBusID resolves a bus_id string from the wire (e.g. "1-1") into the
// (bus_id, device_id) pair the registry indexes by. The wire carries a
// single busid token; the registry's device_key space is bus_id + "-" +
// device_id, so this matches against every allowed device's own bus_id.
func splitBusID(wireBusID string, reg *registry.Registry) (busID, deviceID string, ok bool) {
	devices, err := reg.List()
	if err != nil {
		return "", "", false
	}
	for _, d := range devices {
		if d.BusID == wireBusID {
			return d.BusID, d.DeviceID, true
		}
	}
	return "", "", false
}

func (s *Session) handleSubmit(ctx context.Context, first8 []byte) error {
	rest, err := s.readExactly(protocol.CmdSubmitMinSize - 8)
	if err != nil {
		return err
	}
	full := append(append([]byte{}, first8...), rest...)
	msg, err := protocol.DecodeCmdSubmitHeader(full)
	if err != nil {
		return err
	}

	var outBuf []byte
	if msg.Basic.Dir == protocol.DirOut && msg.TransferBufferLen > 0 {
		if msg.TransferBufferLen > protocol.MaxTransferBufferLen {
			// Resource bounds (spec.md §5): never allocate a buffer sized
			// directly off an attacker-controlled wire field. Drain the
			// declared payload with a small fixed-size copy buffer instead
			// of s.readExactly's make([]byte, n); submit.Process still
			// rejects the oversized length as an InvalidUrb (-22) once it
			// re-validates the decoded header.
			if _, err := io.CopyN(io.Discard, s.r, int64(msg.TransferBufferLen)); err != nil {
				return err
			}
		} else {
			outBuf, err = s.readExactly(int(msg.TransferBufferLen))
			if err != nil {
				return err
			}
		}
	}

	deps := submit.Dependencies{
		Backend:     s.deps.Backend,
		ClaimHandle: s.claimHandle,
		Tracker:     s.tracker,
		Devid:       s.devid,
		TimeoutMs:   s.deps.URBTimeoutMs,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reply := submit.Process(ctx, deps, msg, outBuf)
		if err := s.write(reply); err != nil {
			s.deps.Logger.Warn("submit: write reply failed", "session", s.ID, "seqnum", msg.Basic.Seqnum, "error", err)
		}
	}()
	return nil
}

func (s *Session) handleUnlink(first8 []byte) error {
	rest, err := s.readExactly(protocol.CmdUnlinkSize - 8)
	if err != nil {
		return err
	}
	full := append(append([]byte{}, first8...), rest...)
	msg, err := protocol.DecodeCmdUnlink(full)
	if err != nil {
		return err
	}

	deps := unlink.Dependencies{
		Backend:     s.deps.Backend,
		ClaimHandle: s.claimHandle,
		Tracker:     s.tracker,
	}
	reply := unlink.Process(deps, msg)
	return s.write(reply)
}

// teardown cascades connection loss to claim release and URB cancellation,
// per spec.md §4.B/§4.D/§5(b).
func (s *Session) teardown() {
	if s.tracker != nil {
		for _, u := range s.tracker.Drain() {
			if s.claimHandle != nil {
				_ = s.deps.Backend.Cancel(s.claimHandle, u.Seqnum)
			}
		}
	}
	s.wg.Wait()
	_ = s.conn.Close()

	if s.phase == PhaseImported {
		s.deps.Arbiter.ReleaseSession(s.ID)
	}
}

// packDevid builds the USB/IP devid word (busnum<<16 | devnum) from the
// decimal leading components of busID/deviceID, falling back to 0 for
// identities that don't parse (the core tolerates non-numeric bus_ids
// elsewhere; devid is purely an echoed, opaque field on the wire).
func packDevid(busID, deviceID string) uint32 {
	busNum, _ := strconv.ParseUint(leadingDigits(busID), 10, 16)
	devNum, _ := strconv.ParseUint(leadingDigits(deviceID), 10, 16)
	return uint32(busNum)<<16 | uint32(devNum)
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

func toExportedDevices(devices []registry.UsbDevice) []protocol.ExportedDevice {
	out := make([]protocol.ExportedDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, toExportedDevice(d))
	}
	return out
}

func toExportedDevice(d registry.UsbDevice) protocol.ExportedDevice {
	return protocol.ExportedDevice{
		Path:                "/sys/devices/" + d.Key(),
		BusID:               d.BusID,
		BusNum:              0,
		DevNum:              0,
		Speed:               uint32(d.Speed),
		IDVendor:            d.VendorID,
		IDProduct:           d.ProductID,
		BcdDevice:           0,
		BDeviceClass:        d.Class,
		BDeviceSubClass:     d.SubClass,
		BDeviceProtocol:     d.Protocol,
		BConfigurationValue: 1,
		BNumConfigurations:  d.NumConfigs,
		BNumInterfaces:      d.NumInterfaces,
	}
}

// isClientDisconnect reports whether err represents an ordinary peer
// disconnect (EOF, ECONNRESET, broken pipe), grounded on the teacher's
// internal/server/usb/server.go helper of the same name/shape.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errno, ok := opErr.Err.(syscall.Errno); ok {
			if errno == syscall.ECONNRESET || errno == syscall.EPIPE {
				return true
			}
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "forcibly closed") ||
		strings.Contains(msg, "aborted")
}

// IsClientDisconnect is the exported form the Listener uses to decide log
// severity for a Serve error.
func IsClientDisconnect(err error) bool { return isClientDisconnect(err) }
