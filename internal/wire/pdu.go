// Package wire implements the proxy<->server PDU protocol of spec.md §6.1.
//
// Every PDU starts with an 8-byte header: u8 type, u16 reserved1,
// u8 reserved2, u32 length (length counts the header itself). All
// multi-byte integers are big-endian on the wire.
package wire

import "fmt"

// ProtocolVersion is the only version this server speaks.
const ProtocolVersion uint16 = 2

// PDU types, spec.md §6.1.
type Type uint8

const (
	Hello Type = iota
	HelloResponse
	Goodbye
	VerifyV4Request
	VerifyV6Request
	SignRequest
	VerifyNotification
	SignatureNotification
	DeleteUpdate
	PeerChange
	SyncRequest
	Error
)

func (t Type) String() string {
	switch t {
	case Hello:
		return "Hello"
	case HelloResponse:
		return "HelloResponse"
	case Goodbye:
		return "Goodbye"
	case VerifyV4Request:
		return "VerifyV4Request"
	case VerifyV6Request:
		return "VerifyV6Request"
	case SignRequest:
		return "SignRequest"
	case VerifyNotification:
		return "VerifyNotification"
	case SignatureNotification:
		return "SignatureNotification"
	case DeleteUpdate:
		return "DeleteUpdate"
	case PeerChange:
		return "PeerChange"
	case SyncRequest:
		return "SyncRequest"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Flag bits in a verify request, spec.md §6.1.
const (
	FlagROA            uint8 = 0x01
	FlagBGPsec         uint8 = 0x02
	FlagASPA           uint8 = 0x04
	FlagRequestReceipt uint8 = 0x80

	// FlagASPathIsASSet is a supplemented flag bit (spec.md §6.1 reserves
	// 0x08-0x40): the proxy already parses the real BGP AS_PATH and knows
	// whether it is an AS_SET-only segment (original_source's bhdr->asType),
	// a distinction spec.md's distilled VerifyRequest table dropped. Set
	// when the path carries no AS_SEQUENCE hop at all.
	FlagASPathIsASSet uint8 = 0x08

	// FlagASPathUpstream is a supplemented flag bit carrying the peer
	// relationship the update arrived over (original_source's asRelDir,
	// command_handler.c's ASPA_UPSTREAM/ASPA_DOWNSTREAM), another input
	// validateASPA requires that spec.md's distilled wire table dropped.
	// Set for an upstream/unknown-stream peer, clear for downstream.
	FlagASPathUpstream uint8 = 0x10
)

// Result values on the wire, spec.md §6.1. These mirror internal/result.Value
// numerically but are kept distinct: the wire encoding is a protocol
// contract, the internal enum is free to gain values without breaking it.
const (
	ResValid        uint8 = 0
	ResNotFound     uint8 = 1
	ResInvalid      uint8 = 2
	ResUndefined    uint8 = 3
	ResUnverifiable uint8 = 4
	ResUnknown      uint8 = 5
	ResDoNotUse     uint8 = 128
)

// Error codes, spec.md §6.1.
const (
	ErrWrongVersion     uint16 = 0
	ErrDuplicateProxyID uint16 = 1
	ErrInvalidPacket    uint16 = 2
	ErrInternalError    uint16 = 3
	ErrAlgoNotSupported uint16 = 4
	ErrUpdateNotFound   uint16 = 5
)

// PeerChange change types, spec.md §6.1.
const (
	PeerRemove uint8 = 0
	PeerAdd    uint8 = 1
)

// HeaderLen is the size in bytes of the fixed PDU header.
const HeaderLen = 8

// Header is the 8-byte preamble common to every PDU.
type Header struct {
	Type   Type
	Length uint32 // total PDU length, header included
}
