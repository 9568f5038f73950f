// Package protocol implements the USB/IP wire codec: the 8-byte management
// header, device-list/import bodies, and the SUBMIT/UNLINK URB command and
// reply layouts. All multi-byte integers are big-endian; string slots are
// NUL-padded on encode and NUL-terminated on decode.
package protocol

import "fmt"

// ProtocolError is the closed sum of codec-level failures. Any ProtocolError
// returned from a Decode function is connection-fatal — callers must close
// the socket rather than attempt to recover framing.
type ProtocolError struct {
	Kind    ProtocolErrorKind
	Version uint16 // populated only for KindUnsupportedVersion
	Detail  string
}

type ProtocolErrorKind int

const (
	KindInvalidDataLength ProtocolErrorKind = iota
	KindUnsupportedVersion
	KindInvalidMessageFormat
	KindStringEncoding
)

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case KindInvalidDataLength:
		return fmt.Sprintf("usbip: invalid data length: %s", e.Detail)
	case KindUnsupportedVersion:
		return fmt.Sprintf("usbip: unsupported version 0x%04x", e.Version)
	case KindInvalidMessageFormat:
		return fmt.Sprintf("usbip: invalid message format: %s", e.Detail)
	case KindStringEncoding:
		return fmt.Sprintf("usbip: string encoding error: %s", e.Detail)
	default:
		return "usbip: protocol error"
	}
}

func errInvalidDataLength(detail string) error {
	return &ProtocolError{Kind: KindInvalidDataLength, Detail: detail}
}

func errUnsupportedVersion(version uint16) error {
	return &ProtocolError{Kind: KindUnsupportedVersion, Version: version}
}

func errInvalidMessageFormat(detail string) error {
	return &ProtocolError{Kind: KindInvalidMessageFormat, Detail: detail}
}
