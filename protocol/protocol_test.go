package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedSizes(t *testing.T) {
	require.Len(t, DevListRequest{}.Encode(), 8)
	require.Len(t, ImportRequest{BusID: "1-1"}.Encode(), 40)
	dev := ExportedDevice{BusID: "1-1"}
	require.Len(t, ImportReply{Status: 0, Device: &dev}.Encode(), 320)
	require.Len(t, ImportReply{Status: 1}.Encode(), 8)
	require.Len(t, CmdSubmitMsg{}.Encode(), 60)
	require.Len(t, RetSubmitMsg{}.Encode(), 52)
	require.Len(t, CmdUnlinkMsg{}.Encode(), 52)
	require.Len(t, RetUnlinkMsg{}.Encode(), 52)
	require.Len(t, dev.Encode(), 312)
}

func TestDevListRoundTrip(t *testing.T) {
	reply := DevListReply{
		Status: 0,
		Devices: []ExportedDevice{
			{
				Path: "/sys/devices/usb1/1-1", BusID: "1-1",
				BusNum: 1, DevNum: 1, Speed: 3,
				IDVendor: 0x1234, IDProduct: 0xabcd, BcdDevice: 0x0100,
				BDeviceClass: 9, BNumConfigurations: 1, BNumInterfaces: 1,
			},
		},
	}
	encoded := reply.Encode()
	decoded, err := DecodeDevListReply(encoded)
	require.NoError(t, err)
	require.Equal(t, reply, decoded)

	// Three nested round-trips yield byte-identical encodings.
	again, err := DecodeDevListReply(decoded.Encode())
	require.NoError(t, err)
	require.Equal(t, decoded.Encode(), again.Encode())
}

func TestDevListEmpty(t *testing.T) {
	// S1: empty allow-list, zero devices.
	req := DevListRequest{}.Encode()
	require.Equal(t, []byte{0x01, 0x11, 0x80, 0x05, 0x00, 0x00, 0x00, 0x00}, req)

	reply := DevListReply{Status: 0}.Encode()
	require.Equal(t, []byte{0x01, 0x11, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, reply)
}

func TestImportRoundTrip(t *testing.T) {
	req := ImportRequest{BusID: "1-1"}
	decoded, err := DecodeImportRequest(req.Encode())
	require.NoError(t, err)
	require.Equal(t, req, decoded)

	dev := ExportedDevice{BusID: "1-1", BusNum: 1, DevNum: 1}
	rep := ImportReply{Status: 0, Device: &dev}
	decodedRep, err := DecodeImportReply(rep.Encode())
	require.NoError(t, err)
	require.Equal(t, rep, decodedRep)

	fail := ImportReply{Status: 1}
	decodedFail, err := DecodeImportReply(fail.Encode())
	require.NoError(t, err)
	require.Equal(t, fail, decodedFail)
}

func TestUnsupportedVersion(t *testing.T) {
	buf := MgmtHeader{Version: 0x0110, Command: OpReqDevlist}.Encode()
	_, err := DecodeDevListReply(buf)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindUnsupportedVersion, perr.Kind)
}

func TestSubmitUnlinkRoundTrip(t *testing.T) {
	cmd := CmdSubmitMsg{
		Basic:             HeaderBasic{Command: CmdSubmit, Seqnum: 1, Devid: 2, Dir: DirIn, Ep: 0},
		TransferFlags:     0,
		TransferBufferLen: 18,
		Setup:             [8]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
	}
	decoded, err := DecodeCmdSubmitHeader(cmd.Encode())
	require.NoError(t, err)
	require.Equal(t, cmd, decoded)

	ret := RetSubmitMsg{Basic: HeaderBasic{Command: RetSubmit, Seqnum: 1}, Status: 0, ActualLength: 18}
	decodedRet, err := DecodeRetSubmitHeader(ret.Encode())
	require.NoError(t, err)
	require.Equal(t, ret, decodedRet)

	unlink := CmdUnlinkMsg{Basic: HeaderBasic{Command: CmdUnlink, Seqnum: 3}, UnlinkSeqnum: 3}
	decodedUnlink, err := DecodeCmdUnlink(unlink.Encode())
	require.NoError(t, err)
	require.Equal(t, unlink, decodedUnlink)

	retUnlink := RetUnlinkMsg{Basic: HeaderBasic{Command: RetUnlink, Seqnum: 3}, Status: -2}
	decodedRetUnlink, err := DecodeRetUnlink(retUnlink.Encode())
	require.NoError(t, err)
	require.Equal(t, retUnlink, decodedRetUnlink)
}

func TestTruncatedDataLength(t *testing.T) {
	_, err := DecodeCmdSubmitHeader(make([]byte, 10))
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindInvalidDataLength, perr.Kind)
}
