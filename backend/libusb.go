package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gousb"
)

// LibusbBackend is the default Backend implementation, wrapping libusb via
// gousb. Grounded on the guiperry-HASHER driver's usb_device.go: a
// gousb.Context opens devices by filter, claims a config+interface, and
// reads/writes endpoints under a context deadline.
type LibusbBackend struct {
	ctx *gousb.Context

	mu      sync.Mutex
	claimed map[string]*libusbClaim // device_key -> claim
}

type libusbClaim struct {
	dev    *gousb.Device
	cfg    *gousb.Config
	ifaces map[uint8]*gousb.Interface

	mu        sync.Mutex
	cancelled map[uint32]bool
}

// NewLibusbBackend opens a libusb context. Callers Close it themselves on
// shutdown; Server.Close does not close the backend.
func NewLibusbBackend() (*LibusbBackend, error) {
	return &LibusbBackend{
		ctx:     gousb.NewContext(),
		claimed: make(map[string]*libusbClaim),
	}, nil
}

// Close releases the underlying libusb context. No in-flight transfer may
// be outstanding when this is called.
func (b *LibusbBackend) Close() error {
	return b.ctx.Close()
}

func busDeviceKey(desc *gousb.DeviceDesc) string {
	return fmt.Sprintf("%d-%d", desc.Bus, desc.Address)
}

func parseBusDevice(key string) (bus, addr int, err error) {
	parts := strings.SplitN(key, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed device key %q", key)
	}
	bus, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	addr, err = strconv.Atoi(strings.SplitN(parts[1], ".", 2)[0])
	if err != nil {
		return 0, 0, err
	}
	return bus, addr, nil
}

// ListDevices enumerates every device libusb can see, regardless of claim
// state.
func (b *LibusbBackend) ListDevices() ([]DeviceInfo, error) {
	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool { return true })
	if err != nil {
		return nil, &BackendError{Kind: ErrInternal, Detail: err.Error()}
	}
	defer func() {
		for _, d := range devs {
			_ = d.Close()
		}
	}()

	out := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		desc := d.Desc
		manufacturer, _ := d.Manufacturer()
		product, _ := d.Product()
		serial, _ := d.SerialNumber()
		out = append(out, DeviceInfo{
			BusID:         strconv.Itoa(desc.Bus),
			DeviceID:      strconv.Itoa(desc.Address),
			VendorID:      uint16(desc.Vendor),
			ProductID:     uint16(desc.Product),
			Class:         uint8(desc.Class),
			SubClass:      uint8(desc.SubClass),
			Protocol:      uint8(desc.Protocol),
			Speed:         uint32(desc.Speed),
			Manufacturer:  manufacturer,
			Product:       product,
			Serial:        serial,
			NumConfigs:    uint8(len(desc.Configs)),
			NumInterfaces: countInterfaces(desc),
		})
	}
	return out, nil
}

func countInterfaces(desc *gousb.DeviceDesc) uint8 {
	n := 0
	for _, cfg := range desc.Configs {
		n += len(cfg.Interfaces)
	}
	return uint8(n)
}

// Claim opens the device by bus/address and takes exclusive ownership of
// its default configuration. Fails with ErrBusy if already claimed by this
// process, ErrNotFound if libusb can't see the device.
func (b *LibusbBackend) Claim(busID, deviceID string) (ClaimHandle, error) {
	key := busID + "-" + deviceID
	b.mu.Lock()
	if _, ok := b.claimed[key]; ok {
		b.mu.Unlock()
		return nil, &BackendError{Kind: ErrBusy, Detail: "already claimed by this process"}
	}
	b.mu.Unlock()

	bus, addr, err := parseBusDevice(key)
	if err != nil {
		return nil, &BackendError{Kind: ErrInvalidArgument, Detail: err.Error()}
	}

	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == bus && desc.Address == addr
	})
	if err != nil || len(devs) == 0 {
		for _, d := range devs {
			_ = d.Close()
		}
		return nil, &BackendError{Kind: ErrNotFound, Detail: "no such device"}
	}
	dev := devs[0]
	for _, extra := range devs[1:] {
		_ = extra.Close()
	}

	if err := dev.SetAutoDetach(true); err != nil {
		// Not fatal on platforms where the kernel driver was never attached.
		_ = err
	}

	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}
	cfg, err := dev.Config(cfgNum)
	if err != nil {
		_ = dev.Close()
		return nil, &BackendError{Kind: ErrAccessDenied, Detail: err.Error()}
	}

	claim := &libusbClaim{dev: dev, cfg: cfg, ifaces: make(map[uint8]*gousb.Interface), cancelled: make(map[uint32]bool)}
	b.mu.Lock()
	b.claimed[key] = claim
	b.mu.Unlock()
	return claim, nil
}

// Release drops exclusivity and closes the underlying device handle.
// Idempotent: releasing an already-released handle is a no-op.
func (b *LibusbBackend) Release(handle ClaimHandle) error {
	claim, ok := handle.(*libusbClaim)
	if !ok || claim == nil {
		return nil
	}
	b.mu.Lock()
	found := false
	for k, c := range b.claimed {
		if c == claim {
			delete(b.claimed, k)
			found = true
		}
	}
	b.mu.Unlock()
	if !found {
		return nil
	}

	for _, iface := range claim.ifaces {
		iface.Close()
	}
	claim.cfg.Close()
	return claim.dev.Close()
}

// OpenInterface claims the named interface's default alt-setting, caching
// it so subsequent transfers reuse the same *gousb.Interface.
func (b *LibusbBackend) OpenInterface(handle ClaimHandle, interfaceNumber uint8) error {
	claim, ok := handle.(*libusbClaim)
	if !ok {
		return &BackendError{Kind: ErrInvalidArgument, Detail: "not a libusb claim handle"}
	}
	claim.mu.Lock()
	defer claim.mu.Unlock()
	if _, ok := claim.ifaces[interfaceNumber]; ok {
		return nil
	}
	iface, err := claim.cfg.Interface(int(interfaceNumber), 0)
	if err != nil {
		return &BackendError{Kind: ErrAccessDenied, Detail: err.Error()}
	}
	claim.ifaces[interfaceNumber] = iface
	return nil
}

// Transfer dispatches req to a control, bulk, or interrupt endpoint. The
// endpoint-to-interface mapping defaults to interface 0 for everything but
// control transfers — see the Submit Processor's known simplification
// (spec.md §9); a fuller backend would derive this from cached descriptors.
func (b *LibusbBackend) Transfer(ctx context.Context, handle ClaimHandle, req TransferRequest) (TransferResult, error) {
	claim, ok := handle.(*libusbClaim)
	if !ok {
		return TransferResult{}, &BackendError{Kind: ErrInvalidArgument, Detail: "not a libusb claim handle"}
	}

	if req.Endpoint == 0 {
		return b.controlTransfer(ctx, claim, req)
	}

	claim.mu.Lock()
	iface := claim.ifaces[0]
	claim.mu.Unlock()
	if iface == nil {
		return TransferResult{}, &BackendError{Kind: ErrInvalidArgument, Detail: "interface not open"}
	}

	if req.Direction == DirectionOut {
		ep, err := iface.OutEndpoint(int(req.Endpoint))
		if err != nil {
			return TransferResult{}, translateGousbErr(err)
		}
		n, err := ep.Write(req.OutData)
		if err != nil {
			return TransferResult{}, translateGousbErr(err)
		}
		return TransferResult{Status: StatusOK, ActualLen: uint32(n)}, nil
	}

	ep, err := iface.InEndpoint(int(req.Endpoint))
	if err != nil {
		return TransferResult{}, translateGousbErr(err)
	}
	buf := make([]byte, req.BufferLength)
	n, err := ep.ReadContext(ctx, buf)
	if err != nil {
		return TransferResult{}, translateGousbErr(err)
	}
	return TransferResult{Status: StatusOK, ActualLen: uint32(n), Data: buf[:n]}, nil
}

func (b *LibusbBackend) controlTransfer(ctx context.Context, claim *libusbClaim, req TransferRequest) (TransferResult, error) {
	bmRequestType := req.Setup[0]
	bRequest := req.Setup[1]
	wValue := uint16(req.Setup[2]) | uint16(req.Setup[3])<<8
	wIndex := uint16(req.Setup[4]) | uint16(req.Setup[5])<<8

	data := req.OutData
	if req.Direction == DirectionIn {
		data = make([]byte, req.BufferLength)
	}
	n, err := claim.dev.Control(bmRequestType, bRequest, wValue, wIndex, data)
	if err != nil {
		return TransferResult{}, translateGousbErr(err)
	}
	if req.Direction == DirectionIn {
		return TransferResult{Status: StatusOK, ActualLen: uint32(n), Data: data[:n]}, nil
	}
	return TransferResult{Status: StatusOK, ActualLen: uint32(n)}, nil
}

// Cancel is best-effort: gousb has no direct "cancel this specific transfer
// by sequence number" primitive, so Cancel only records seqnum in the
// claim's cancelled set. Transfer does not read that set, so a transfer
// already in flight runs until it completes or its context ends. Cancel
// always returns nil for a valid handle, including when the transfer has
// already completed, matching spec.md §5's cancellation tolerance.
func (b *LibusbBackend) Cancel(handle ClaimHandle, seqnum uint32) error {
	claim, ok := handle.(*libusbClaim)
	if !ok {
		return &BackendError{Kind: ErrInvalidArgument, Detail: "not a libusb claim handle"}
	}
	claim.mu.Lock()
	claim.cancelled[seqnum] = true
	claim.mu.Unlock()
	return nil
}

func translateGousbErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return &BackendError{Kind: ErrTimeout, Detail: msg}
	case strings.Contains(msg, "no device"), strings.Contains(msg, "disconnected"):
		return &BackendError{Kind: ErrDisconnected, Detail: msg}
	case strings.Contains(msg, "busy"):
		return &BackendError{Kind: ErrBusy, Detail: msg}
	case strings.Contains(msg, "pipe"), strings.Contains(msg, "stall"):
		return &BackendError{Kind: ErrStalled, Detail: msg}
	case strings.Contains(msg, "access"), strings.Contains(msg, "permission"):
		return &BackendError{Kind: ErrAccessDenied, Detail: msg}
	default:
		return &BackendError{Kind: ErrInternal, Detail: msg}
	}
}
