package protocol

// ImportRequest is OP_REQ_IMPORT: header + 32-byte NUL-padded bus id.
type ImportRequest struct {
	BusID string
}

// Encode returns the 40-byte OP_REQ_IMPORT message.
func (r ImportRequest) Encode() []byte {
	buf := make([]byte, ReqImportSize)
	copy(buf[0:MgmtHeaderSize], MgmtHeader{Version: Version, Command: OpReqImport}.Encode())
	putFixedString(buf[MgmtHeaderSize:], r.BusID)
	return buf
}

// DecodeImportRequest parses a 40-byte OP_REQ_IMPORT message.
func DecodeImportRequest(buf []byte) (ImportRequest, error) {
	if len(buf) < ReqImportSize {
		return ImportRequest{}, errInvalidDataLength("import request requires 40 bytes")
	}
	h, err := DecodeMgmtHeader(buf)
	if err != nil {
		return ImportRequest{}, err
	}
	if err := RequireVersion(h); err != nil {
		return ImportRequest{}, err
	}
	if h.Command != OpReqImport {
		return ImportRequest{}, errInvalidMessageFormat("expected OP_REQ_IMPORT command")
	}
	return ImportRequest{BusID: getFixedString(buf[MgmtHeaderSize:ReqImportSize])}, nil
}

// ImportReply is OP_REP_IMPORT. On success Device is populated and Status is
// 0 (320 bytes total); on failure Status is non-zero and the message is the
// bare 8-byte header.
type ImportReply struct {
	Status uint32
	Device *ExportedDevice
}

// Encode returns the wire encoding: 320 bytes on success, 8 on failure.
func (r ImportReply) Encode() []byte {
	hdr := MgmtHeader{Version: Version, Command: OpRepImport, Status: r.Status}.Encode()
	if r.Status != 0 || r.Device == nil {
		return hdr
	}
	return append(hdr, r.Device.Encode()...)
}

// DecodeImportReply parses an OP_REP_IMPORT message (8 or 320 bytes).
func DecodeImportReply(buf []byte) (ImportReply, error) {
	h, err := DecodeMgmtHeader(buf)
	if err != nil {
		return ImportReply{}, err
	}
	if err := RequireVersion(h); err != nil {
		return ImportReply{}, err
	}
	if h.Command != OpRepImport {
		return ImportReply{}, errInvalidMessageFormat("expected OP_REP_IMPORT command")
	}
	if h.Status != 0 {
		return ImportReply{Status: h.Status}, nil
	}
	if len(buf) < RepImportOkSize {
		return ImportReply{}, errInvalidDataLength("successful import reply requires 320 bytes")
	}
	d, err := DecodeExportedDevice(buf[MgmtHeaderSize:RepImportOkSize])
	if err != nil {
		return ImportReply{}, err
	}
	return ImportReply{Status: 0, Device: &d}, nil
}
