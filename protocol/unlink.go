package protocol

import "encoding/binary"

// CmdUnlinkMsg is CMD_UNLINK: fixed 52-byte layout, no payload.
type CmdUnlinkMsg struct {
	Basic        HeaderBasic
	UnlinkSeqnum uint32
}

// Encode returns the 52-byte CMD_UNLINK message.
func (c CmdUnlinkMsg) Encode() []byte {
	buf := make([]byte, CmdUnlinkSize)
	c.Basic.encodeInto(buf[0:urbBasicHeaderSize])
	binary.BigEndian.PutUint32(buf[urbBasicHeaderSize:urbBasicHeaderSize+4], c.UnlinkSeqnum)
	return buf
}

// DecodeCmdUnlink parses a 52-byte CMD_UNLINK message.
func DecodeCmdUnlink(buf []byte) (CmdUnlinkMsg, error) {
	if len(buf) < CmdUnlinkSize {
		return CmdUnlinkMsg{}, errInvalidDataLength("CMD_UNLINK requires 52 bytes")
	}
	basic := decodeHeaderBasic(buf[0:urbBasicHeaderSize])
	if basic.Command != CmdUnlink {
		return CmdUnlinkMsg{}, errInvalidMessageFormat("expected CMD_UNLINK command")
	}
	return CmdUnlinkMsg{
		Basic:        basic,
		UnlinkSeqnum: binary.BigEndian.Uint32(buf[urbBasicHeaderSize : urbBasicHeaderSize+4]),
	}, nil
}

// RetUnlinkMsg is RET_UNLINK: fixed 52-byte layout, no payload.
type RetUnlinkMsg struct {
	Basic  HeaderBasic
	Status int32
}

// Encode returns the 52-byte RET_UNLINK message.
func (r RetUnlinkMsg) Encode() []byte {
	buf := make([]byte, RetUnlinkSize)
	r.Basic.encodeInto(buf[0:urbBasicHeaderSize])
	binary.BigEndian.PutUint32(buf[urbBasicHeaderSize:urbBasicHeaderSize+4], uint32(r.Status))
	return buf
}

// DecodeRetUnlink parses a 52-byte RET_UNLINK message.
func DecodeRetUnlink(buf []byte) (RetUnlinkMsg, error) {
	if len(buf) < RetUnlinkSize {
		return RetUnlinkMsg{}, errInvalidDataLength("RET_UNLINK requires 52 bytes")
	}
	basic := decodeHeaderBasic(buf[0:urbBasicHeaderSize])
	if basic.Command != RetUnlink {
		return RetUnlinkMsg{}, errInvalidMessageFormat("expected RET_UNLINK command")
	}
	return RetUnlinkMsg{
		Basic:  basic,
		Status: int32(binary.BigEndian.Uint32(buf[urbBasicHeaderSize : urbBasicHeaderSize+4])),
	}, nil
}

// ReadExactly fills buf completely from r, matching the teacher's loop
// (io.ReadFull does the same thing; the session package uses io.ReadFull).
func ReadExactly(r interface{ Read([]byte) (int, error) }, buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}
