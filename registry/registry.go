// Package registry implements the Device Registry: it enumerates locally
// exportable USB devices via the Backend Adapter and filters them through
// the server's allow-list.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/usbipd-go/usbipd/backend"
)

// busIDPattern matches the bus_id/device_id identity format required by
// spec.md §3: digits, a dash, then one or more dot-separated digit groups.
var busIDPattern = regexp.MustCompile(`^\d+-\d+(\.\d+)*$`)

// UsbDevice is the immutable identity+descriptor snapshot of a locally
// attached device, replaced whole-cloth whenever the backend re-enumerates.
type UsbDevice struct {
	BusID         string
	DeviceID      string
	VendorID      uint16
	ProductID     uint16
	Class         uint8
	SubClass      uint8
	Protocol      uint8
	Speed         Speed
	Manufacturer  string
	Product       string
	Serial        string
	NumConfigs    uint8
	NumInterfaces uint8
}

// Speed enumerates the USB signalling speed of a device.
type Speed uint32

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedSuper
)

// Key returns the device_key used throughout the system: "{bus_id}-{device_id}".
func (d UsbDevice) Key() string {
	return DeviceKey(d.BusID, d.DeviceID)
}

// DeviceKey builds the canonical device_key from a bus_id and device_id.
func DeviceKey(busID, deviceID string) string {
	return fmt.Sprintf("%s-%s", busID, deviceID)
}

// ValidBusID reports whether s matches the required busid/deviceid format.
func ValidBusID(s string) bool {
	return busIDPattern.MatchString(s)
}

// Registry enumerates devices exposed by a Backend and applies an allow-list.
type Registry struct {
	backend backend.Backend

	mu        sync.Mutex
	allowList map[string]struct{} // empty set means "all allowed"
}

// New creates a Registry backed by b. An empty or nil allowList allows every
// device the backend reports.
func New(b backend.Backend, allowList []string) *Registry {
	r := &Registry{backend: b, allowList: make(map[string]struct{}, len(allowList))}
	for _, k := range allowList {
		r.allowList[k] = struct{}{}
	}
	return r
}

// SetAllowList replaces the allow-list wholesale. The bind/unbind commands
// do not call it; they only rewrite the persisted config file.
func (r *Registry) SetAllowList(allowList []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowList = make(map[string]struct{}, len(allowList))
	for _, k := range allowList {
		r.allowList[k] = struct{}{}
	}
}

// AllowList returns a snapshot of the current allow-list keys.
func (r *Registry) AllowList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.allowList))
	for k := range r.allowList {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Allowed reports whether device_key may be exported under the current
// allow-list (an empty allow-list allows everything).
func (r *Registry) Allowed(deviceKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.allowList) == 0 {
		return true
	}
	_, ok := r.allowList[deviceKey]
	return ok
}

// List returns every backend device currently allowed, sorted by device_key
// so REP_DEVLIST output is deterministic across calls.
func (r *Registry) List() ([]UsbDevice, error) {
	backendDevices, err := r.backend.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	devices := make([]UsbDevice, 0, len(backendDevices))
	for _, bd := range backendDevices {
		d := fromBackend(bd)
		if r.Allowed(d.Key()) {
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Key() < devices[j].Key() })
	return devices, nil
}

// Lookup finds a single allowed device by bus_id and device_id.
func (r *Registry) Lookup(busID, deviceID string) (UsbDevice, bool, error) {
	key := DeviceKey(busID, deviceID)
	if !r.Allowed(key) {
		return UsbDevice{}, false, nil
	}
	devices, err := r.List()
	if err != nil {
		return UsbDevice{}, false, err
	}
	for _, d := range devices {
		if d.Key() == key {
			return d, true, nil
		}
	}
	return UsbDevice{}, false, nil
}

func fromBackend(bd backend.DeviceInfo) UsbDevice {
	return UsbDevice{
		BusID:         bd.BusID,
		DeviceID:      bd.DeviceID,
		VendorID:      bd.VendorID,
		ProductID:     bd.ProductID,
		Class:         bd.Class,
		SubClass:      bd.SubClass,
		Protocol:      bd.Protocol,
		Speed:         Speed(bd.Speed),
		Manufacturer:  bd.Manufacturer,
		Product:       bd.Product,
		Serial:        bd.Serial,
		NumConfigs:    bd.NumConfigs,
		NumInterfaces: bd.NumInterfaces,
	}
}
