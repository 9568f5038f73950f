package protocol

import "encoding/binary"

// Wire constants (network byte order / big-endian).
const (
	Version = 0x0111

	// Management (op) commands.
	OpReqDevlist = 0x8005
	OpRepDevlist = 0x0005
	OpReqImport  = 0x8003
	OpRepImport  = 0x0003

	// URB commands. These live outside the op-command space and are never
	// preceded by the 0x0111 version word — the codec distinguishes the two
	// families by peeking the first two bytes of a message.
	CmdSubmit = 0x00000001
	CmdUnlink = 0x00000002
	RetSubmit = 0x00000003
	RetUnlink = 0x00000004

	DirOut = 0
	DirIn  = 1
)

// Fixed wire sizes, in bytes. These are the invariants exercised by the
// round-trip and fixed-size property tests.
const (
	MgmtHeaderSize      = 8
	ReqImportBodySize   = 32
	ReqImportSize       = MgmtHeaderSize + ReqImportBodySize // 40
	ExportedDeviceSize  = 312
	RepImportOkSize     = MgmtHeaderSize + ExportedDeviceSize // 320
	DevListCountSize    = 4
	urbBasicHeaderSize  = 20
	CmdSubmitMinSize    = urbBasicHeaderSize + 20 + 8 + 12 // 60
	RetSubmitMinSize    = urbBasicHeaderSize + 20 + 12     // 52
	CmdUnlinkSize       = urbBasicHeaderSize + 4 + 28      // 52
	RetUnlinkSize       = urbBasicHeaderSize + 4 + 28      // 52
	setupPacketSize     = 8
	cmdSubmitReservedSz = 12
	retSubmitReservedSz = 12
	unlinkReservedSz    = 28

	// MaxTransferBufferLen bounds CMD_SUBMIT's transfer_buffer_length
	// (spec.md §5 Resource bounds): the codec refuses to act on a
	// declared length above this cap rather than read or allocate a
	// buffer sized directly off an attacker-controlled wire field.
	MaxTransferBufferLen = 16 * 1024 * 1024
)

// MgmtHeader is the 8-byte header for management ops (devlist/import).
type MgmtHeader struct {
	Version uint16
	Command uint16
	Status  uint32
}

// Encode returns the 8-byte wire encoding of h.
func (h MgmtHeader) Encode() []byte {
	buf := make([]byte, MgmtHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], h.Command)
	binary.BigEndian.PutUint32(buf[4:8], h.Status)
	return buf
}

// DecodeMgmtHeader decodes the 8-byte management header from buf.
// It does not validate the version field; callers that require version
// 0x0111 should check h.Version themselves (PeekVersion exists for the
// op/URB disambiguation the connection FSM needs before a full header is
// even meaningful).
func DecodeMgmtHeader(buf []byte) (MgmtHeader, error) {
	if len(buf) < MgmtHeaderSize {
		return MgmtHeader{}, errInvalidDataLength("management header requires 8 bytes")
	}
	return MgmtHeader{
		Version: binary.BigEndian.Uint16(buf[0:2]),
		Command: binary.BigEndian.Uint16(buf[2:4]),
		Status:  binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// RequireVersion validates the version word of a decoded management header.
func RequireVersion(h MgmtHeader) error {
	if h.Version != Version {
		return errUnsupportedVersion(h.Version)
	}
	return nil
}

// PeekVersion reads the first two bytes of a message as the version word,
// used by the connection FSM to decide whether a message is an op message
// (version == Version) or a URB command (anything else — in practice the
// high 16 bits of a CmdSubmit/CmdUnlink command word, which are always 0).
func PeekVersion(first2 []byte) (uint16, error) {
	if len(first2) < 2 {
		return 0, errInvalidDataLength("need at least 2 bytes to peek version")
	}
	return binary.BigEndian.Uint16(first2[0:2]), nil
}

// HeaderBasic is common to every URB command and reply.
type HeaderBasic struct {
	Command uint32
	Seqnum  uint32
	Devid   uint32
	Dir     uint32
	Ep      uint32
}

func (b HeaderBasic) encodeInto(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], b.Command)
	binary.BigEndian.PutUint32(buf[4:8], b.Seqnum)
	binary.BigEndian.PutUint32(buf[8:12], b.Devid)
	binary.BigEndian.PutUint32(buf[12:16], b.Dir)
	binary.BigEndian.PutUint32(buf[16:20], b.Ep)
}

func decodeHeaderBasic(buf []byte) HeaderBasic {
	return HeaderBasic{
		Command: binary.BigEndian.Uint32(buf[0:4]),
		Seqnum:  binary.BigEndian.Uint32(buf[4:8]),
		Devid:   binary.BigEndian.Uint32(buf[8:12]),
		Dir:     binary.BigEndian.Uint32(buf[12:16]),
		Ep:      binary.BigEndian.Uint32(buf[16:20]),
	}
}
