package protocol

import "encoding/binary"

// CmdSubmitMsg is CMD_SUBMIT: the fixed 60-byte header, followed by the
// OUT-direction payload bytes when Dir == DirOut and TransferBufferLength > 0.
type CmdSubmitMsg struct {
	Basic             HeaderBasic
	TransferFlags     uint32
	TransferBufferLen uint32
	StartFrame        uint32
	NumberOfPackets   uint32
	Interval          uint32
	Setup             [8]byte
}

// Encode returns the 60-byte fixed header (payload bytes, if any, are the
// caller's responsibility to append).
func (c CmdSubmitMsg) Encode() []byte {
	buf := make([]byte, CmdSubmitMinSize)
	c.Basic.encodeInto(buf[0:urbBasicHeaderSize])
	o := urbBasicHeaderSize
	binary.BigEndian.PutUint32(buf[o:o+4], c.TransferFlags)
	binary.BigEndian.PutUint32(buf[o+4:o+8], c.TransferBufferLen)
	binary.BigEndian.PutUint32(buf[o+8:o+12], c.StartFrame)
	binary.BigEndian.PutUint32(buf[o+12:o+16], c.NumberOfPackets)
	binary.BigEndian.PutUint32(buf[o+16:o+20], c.Interval)
	o += 20
	copy(buf[o:o+setupPacketSize], c.Setup[:])
	// remaining cmdSubmitReservedSz bytes are zero reserved padding.
	return buf
}

// DecodeCmdSubmitHeader parses the fixed 60-byte CMD_SUBMIT header. Callers
// must separately read TransferBufferLen bytes of OUT payload when
// Basic.Dir == DirOut.
func DecodeCmdSubmitHeader(buf []byte) (CmdSubmitMsg, error) {
	if len(buf) < CmdSubmitMinSize {
		return CmdSubmitMsg{}, errInvalidDataLength("CMD_SUBMIT header requires 60 bytes")
	}
	basic := decodeHeaderBasic(buf[0:urbBasicHeaderSize])
	if basic.Command != CmdSubmit {
		return CmdSubmitMsg{}, errInvalidMessageFormat("expected CMD_SUBMIT command")
	}
	o := urbBasicHeaderSize
	m := CmdSubmitMsg{
		Basic:             basic,
		TransferFlags:     binary.BigEndian.Uint32(buf[o : o+4]),
		TransferBufferLen: binary.BigEndian.Uint32(buf[o+4 : o+8]),
		StartFrame:        binary.BigEndian.Uint32(buf[o+8 : o+12]),
		NumberOfPackets:   binary.BigEndian.Uint32(buf[o+12 : o+16]),
		Interval:          binary.BigEndian.Uint32(buf[o+16 : o+20]),
	}
	o += 20
	copy(m.Setup[:], buf[o:o+setupPacketSize])
	return m, nil
}

// RetSubmitMsg is RET_SUBMIT: the fixed 52-byte header, followed by the
// response payload when Dir == DirIn and the backend returned data.
type RetSubmitMsg struct {
	Basic           HeaderBasic
	Status          int32
	ActualLength    uint32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
}

// Encode returns the 52-byte fixed header.
func (r RetSubmitMsg) Encode() []byte {
	buf := make([]byte, RetSubmitMinSize)
	r.Basic.encodeInto(buf[0:urbBasicHeaderSize])
	o := urbBasicHeaderSize
	binary.BigEndian.PutUint32(buf[o:o+4], uint32(r.Status))
	binary.BigEndian.PutUint32(buf[o+4:o+8], r.ActualLength)
	binary.BigEndian.PutUint32(buf[o+8:o+12], r.StartFrame)
	binary.BigEndian.PutUint32(buf[o+12:o+16], r.NumberOfPackets)
	binary.BigEndian.PutUint32(buf[o+16:o+20], r.ErrorCount)
	return buf
}

// DecodeRetSubmitHeader parses the fixed 52-byte RET_SUBMIT header.
func DecodeRetSubmitHeader(buf []byte) (RetSubmitMsg, error) {
	if len(buf) < RetSubmitMinSize {
		return RetSubmitMsg{}, errInvalidDataLength("RET_SUBMIT header requires 52 bytes")
	}
	basic := decodeHeaderBasic(buf[0:urbBasicHeaderSize])
	if basic.Command != RetSubmit {
		return RetSubmitMsg{}, errInvalidMessageFormat("expected RET_SUBMIT command")
	}
	o := urbBasicHeaderSize
	return RetSubmitMsg{
		Basic:           basic,
		Status:          int32(binary.BigEndian.Uint32(buf[o : o+4])),
		ActualLength:    binary.BigEndian.Uint32(buf[o+4 : o+8]),
		StartFrame:      binary.BigEndian.Uint32(buf[o+8 : o+12]),
		NumberOfPackets: binary.BigEndian.Uint32(buf[o+12 : o+16]),
		ErrorCount:      binary.BigEndian.Uint32(buf[o+16 : o+20]),
	}, nil
}
