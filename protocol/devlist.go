package protocol

import "encoding/binary"

// DevListRequest is OP_REQ_DEVLIST: the 8-byte header carries the entire
// request, there is no body.
type DevListRequest struct{}

// Encode returns the 8-byte OP_REQ_DEVLIST message.
func (DevListRequest) Encode() []byte {
	return MgmtHeader{Version: Version, Command: OpReqDevlist}.Encode()
}

// DevListReply is OP_REP_DEVLIST: header + device count + N exported
// devices. Per-device interface descriptors are omitted — see §9 of the
// design notes.
type DevListReply struct {
	Status  uint32
	Devices []ExportedDevice
}

// Encode returns the full wire encoding of the reply.
func (r DevListReply) Encode() []byte {
	buf := make([]byte, 0, MgmtHeaderSize+DevListCountSize+len(r.Devices)*ExportedDeviceSize)
	buf = append(buf, MgmtHeader{Version: Version, Command: OpRepDevlist, Status: r.Status}.Encode()...)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(r.Devices)))
	buf = append(buf, countBuf[:]...)
	for _, d := range r.Devices {
		buf = append(buf, d.Encode()...)
	}
	return buf
}

// DecodeDevListReply parses a full OP_REP_DEVLIST message, including header.
func DecodeDevListReply(buf []byte) (DevListReply, error) {
	h, err := DecodeMgmtHeader(buf)
	if err != nil {
		return DevListReply{}, err
	}
	if err := RequireVersion(h); err != nil {
		return DevListReply{}, err
	}
	if h.Command != OpRepDevlist {
		return DevListReply{}, errInvalidMessageFormat("expected OP_REP_DEVLIST command")
	}
	rest := buf[MgmtHeaderSize:]
	if len(rest) < DevListCountSize {
		return DevListReply{}, errInvalidDataLength("devlist reply missing device count")
	}
	n := binary.BigEndian.Uint32(rest[0:4])
	rest = rest[4:]
	devices := make([]ExportedDevice, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(rest) < ExportedDeviceSize {
			return DevListReply{}, errInvalidDataLength("devlist reply truncated before device count satisfied")
		}
		d, err := DecodeExportedDevice(rest[:ExportedDeviceSize])
		if err != nil {
			return DevListReply{}, err
		}
		devices = append(devices, d)
		rest = rest[ExportedDeviceSize:]
	}
	return DevListReply{Status: h.Status, Devices: devices}, nil
}
