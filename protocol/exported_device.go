package protocol

import (
	"bytes"
	"encoding/binary"
)

// ExportedDevice is the fixed 312-byte wire record describing one exportable
// USB device, used by both REP_DEVLIST entries and the REP_IMPORT success
// body. Layout mirrors the canonical USB/IP device-list record: a 256-byte
// path, a 32-byte bus id, three u32 fields, three u16 fields, and six u8
// fields (256+32+4+4+4+2+2+2+1+1+1+1+1+1 = 312).
type ExportedDevice struct {
	Path                string // NUL-padded to 256 bytes on the wire
	BusID               string // NUL-padded to 32 bytes on the wire
	BusNum              uint32
	DevNum              uint32
	Speed               uint32
	IDVendor            uint16
	IDProduct           uint16
	BcdDevice           uint16
	BDeviceClass        uint8
	BDeviceSubClass     uint8
	BDeviceProtocol     uint8
	BConfigurationValue uint8
	BNumConfigurations  uint8
	BNumInterfaces      uint8
}

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getFixedString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

// Encode writes the 312-byte wire form of d.
func (d ExportedDevice) Encode() []byte {
	buf := make([]byte, ExportedDeviceSize)
	putFixedString(buf[0:256], d.Path)
	putFixedString(buf[256:288], d.BusID)
	binary.BigEndian.PutUint32(buf[288:292], d.BusNum)
	binary.BigEndian.PutUint32(buf[292:296], d.DevNum)
	binary.BigEndian.PutUint32(buf[296:300], d.Speed)
	binary.BigEndian.PutUint16(buf[300:302], d.IDVendor)
	binary.BigEndian.PutUint16(buf[302:304], d.IDProduct)
	binary.BigEndian.PutUint16(buf[304:306], d.BcdDevice)
	buf[306] = d.BDeviceClass
	buf[307] = d.BDeviceSubClass
	buf[308] = d.BDeviceProtocol
	buf[309] = d.BConfigurationValue
	buf[310] = d.BNumConfigurations
	buf[311] = d.BNumInterfaces
	return buf
}

// DecodeExportedDevice parses a 312-byte wire record.
func DecodeExportedDevice(buf []byte) (ExportedDevice, error) {
	if len(buf) < ExportedDeviceSize {
		return ExportedDevice{}, errInvalidDataLength("exported device record requires 312 bytes")
	}
	return ExportedDevice{
		Path:                getFixedString(buf[0:256]),
		BusID:               getFixedString(buf[256:288]),
		BusNum:              binary.BigEndian.Uint32(buf[288:292]),
		DevNum:              binary.BigEndian.Uint32(buf[292:296]),
		Speed:               binary.BigEndian.Uint32(buf[296:300]),
		IDVendor:            binary.BigEndian.Uint16(buf[300:302]),
		IDProduct:           binary.BigEndian.Uint16(buf[302:304]),
		BcdDevice:           binary.BigEndian.Uint16(buf[304:306]),
		BDeviceClass:        buf[306],
		BDeviceSubClass:     buf[307],
		BDeviceProtocol:     buf[308],
		BConfigurationValue: buf[309],
		BNumConfigurations:  buf[310],
		BNumInterfaces:      buf[311],
	}, nil
}
