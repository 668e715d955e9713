package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// writeHeader appends an 8-byte header for t with total length total.
func writeHeader(buf []byte, t Type, total int) []byte {
	var h [HeaderLen]byte
	h[0] = byte(t)
	// reserved1 (u16), reserved2 (u8) stay zero
	binary.BigEndian.PutUint32(h[4:8], uint32(total))
	return append(buf, h[:]...)
}

// DecodeHeader parses the 8-byte PDU header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("wire: short header (%d bytes)", len(b))
	}
	return Header{
		Type:   Type(b[0]),
		Length: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// HelloPDU is sent proxy->server as the first PDU on a connection.
type HelloPDU struct {
	Version uint16
	ProxyID uint32
	ASN     uint32
	Peers   []uint32
}

func (p *HelloPDU) Encode() []byte {
	total := HeaderLen + 2 + 4 + 4 + 4 + 4*len(p.Peers)
	buf := writeHeader(make([]byte, 0, total), Hello, total)
	buf = put16(buf, p.Version)
	buf = put32(buf, p.ProxyID)
	buf = put32(buf, p.ASN)
	buf = put32(buf, uint32(len(p.Peers)))
	for _, asn := range p.Peers {
		buf = put32(buf, asn)
	}
	return buf
}

func DecodeHello(body []byte) (*HelloPDU, error) {
	if len(body) < 14 {
		return nil, fmt.Errorf("wire: Hello too short")
	}
	p := &HelloPDU{
		Version: binary.BigEndian.Uint16(body[0:2]),
		ProxyID: binary.BigEndian.Uint32(body[2:6]),
		ASN:     binary.BigEndian.Uint32(body[6:10]),
	}
	n := binary.BigEndian.Uint32(body[10:14])
	off := 14
	if uint64(off)+uint64(n)*4 > uint64(len(body)) {
		return nil, fmt.Errorf("wire: Hello peer list truncated")
	}
	p.Peers = make([]uint32, n)
	for i := range p.Peers {
		p.Peers[i] = binary.BigEndian.Uint32(body[off : off+4])
		off += 4
	}
	return p, nil
}

// HelloResponsePDU is sent server->proxy after a successful handshake.
type HelloResponsePDU struct {
	Version uint16
	ProxyID uint32
}

func (p *HelloResponsePDU) Encode() []byte {
	total := HeaderLen + 2 + 4
	buf := writeHeader(make([]byte, 0, total), HelloResponse, total)
	buf = put16(buf, p.Version)
	buf = put32(buf, p.ProxyID)
	return buf
}

func DecodeHelloResponse(body []byte) (*HelloResponsePDU, error) {
	if len(body) < 6 {
		return nil, fmt.Errorf("wire: HelloResponse too short")
	}
	return &HelloResponsePDU{
		Version: binary.BigEndian.Uint16(body[0:2]),
		ProxyID: binary.BigEndian.Uint32(body[2:6]),
	}, nil
}

// GoodbyePDU is sent in either direction to tear down a connection.
type GoodbyePDU struct {
	KeepWindow uint16
}

func (p *GoodbyePDU) Encode() []byte {
	total := HeaderLen + 2
	buf := writeHeader(make([]byte, 0, total), Goodbye, total)
	return put16(buf, p.KeepWindow)
}

func DecodeGoodbye(body []byte) (*GoodbyePDU, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("wire: Goodbye too short")
	}
	return &GoodbyePDU{KeepWindow: binary.BigEndian.Uint16(body[0:2])}, nil
}

// VerifyRequest is the decoded form of VerifyV4Request/VerifyV6Request.
type VerifyRequest struct {
	V6           bool
	Flags        uint8
	ROASrc       uint8
	BGPsecSrc    uint8
	ROADef       uint8
	BGPsecDef    uint8
	PrefixLen    uint8
	RequestToken uint32
	Prefix       netip.Addr
	OriginASN    uint32
	BGPsec       BGPsecData
}

func (p *VerifyRequest) Type() Type {
	if p.V6 {
		return VerifyV6Request
	}
	return VerifyV4Request
}

func (p *VerifyRequest) Encode() []byte {
	addrBytes := p.Prefix.AsSlice()
	head := make([]byte, 0, 6+4+len(addrBytes)+4+4)
	head = append(head, p.Flags, p.ROASrc, p.BGPsecSrc, p.ROADef, p.BGPsecDef, p.PrefixLen)
	head = put32(head, p.RequestToken)
	head = append(head, addrBytes...)
	head = put32(head, p.OriginASN)

	bg := p.BGPsec.Encode(nil)
	head = put32(head, uint32(len(bg)))
	head = append(head, bg...)

	total := HeaderLen + len(head)
	buf := writeHeader(make([]byte, 0, total), p.Type(), total)
	return append(buf, head...)
}

func DecodeVerifyRequest(v6 bool, body []byte) (*VerifyRequest, error) {
	addrLen := 4
	if v6 {
		addrLen = 16
	}
	const fixed = 6 + 4 // flags..prefix_len (6 bytes) + request_token (4)
	if len(body) < fixed+addrLen+4+4 {
		return nil, fmt.Errorf("wire: VerifyRequest too short")
	}
	p := &VerifyRequest{
		V6:           v6,
		Flags:        body[0],
		ROASrc:       body[1],
		BGPsecSrc:    body[2],
		ROADef:       body[3],
		BGPsecDef:    body[4],
		PrefixLen:    body[5],
		RequestToken: binary.BigEndian.Uint32(body[6:10]),
	}
	off := 10
	addr, ok := netip.AddrFromSlice(body[off : off+addrLen])
	if !ok {
		return nil, fmt.Errorf("wire: bad prefix address")
	}
	p.Prefix = addr
	off += addrLen

	if off+4+4 > len(body) {
		return nil, fmt.Errorf("wire: VerifyRequest missing origin/bgpsec_len")
	}
	p.OriginASN = binary.BigEndian.Uint32(body[off : off+4])
	off += 4
	bgLen := binary.BigEndian.Uint32(body[off : off+4])
	off += 4

	if uint64(off)+uint64(bgLen) > uint64(len(body)) {
		return nil, fmt.Errorf("wire: VerifyRequest bgpsec blob truncated")
	}
	bg, _, err := DecodeBGPsecData(body[off : off+int(bgLen)])
	if err != nil {
		return nil, err
	}
	p.BGPsec = bg
	return p, nil
}

// VerifyNotificationPDU is sent server->proxy when a result is available or changes.
type VerifyNotificationPDU struct {
	ResultType   uint8
	ROAResult    uint8
	BGPsecResult uint8
	ASPAResult   uint8
	RequestToken uint32
	UpdateID     uint32
}

func (p *VerifyNotificationPDU) Encode() []byte {
	total := HeaderLen + 4 + 4 + 4
	buf := writeHeader(make([]byte, 0, total), VerifyNotification, total)
	buf = append(buf, p.ResultType, p.ROAResult, p.BGPsecResult, p.ASPAResult)
	buf = put32(buf, p.RequestToken)
	buf = put32(buf, p.UpdateID)
	return buf
}

func DecodeVerifyNotification(body []byte) (*VerifyNotificationPDU, error) {
	if len(body) < 12 {
		return nil, fmt.Errorf("wire: VerifyNotification too short")
	}
	return &VerifyNotificationPDU{
		ResultType:   body[0],
		ROAResult:    body[1],
		BGPsecResult: body[2],
		ASPAResult:   body[3],
		RequestToken: binary.BigEndian.Uint32(body[4:8]),
		UpdateID:     binary.BigEndian.Uint32(body[8:12]),
	}, nil
}

// SignRequestPDU asks the server for a BGPsec signature.
type SignRequestPDU struct {
	Algorithm      uint16
	BlockType      uint8
	UpdateID       uint32
	PrependCounter uint32
	PeerAS         uint32
}

func (p *SignRequestPDU) Encode() []byte {
	total := HeaderLen + 2 + 1 + 4 + 4 + 4
	buf := writeHeader(make([]byte, 0, total), SignRequest, total)
	buf = put16(buf, p.Algorithm)
	buf = append(buf, p.BlockType)
	buf = put32(buf, p.UpdateID)
	buf = put32(buf, p.PrependCounter)
	buf = put32(buf, p.PeerAS)
	return buf
}

func DecodeSignRequest(body []byte) (*SignRequestPDU, error) {
	if len(body) < 15 {
		return nil, fmt.Errorf("wire: SignRequest too short")
	}
	return &SignRequestPDU{
		Algorithm:      binary.BigEndian.Uint16(body[0:2]),
		BlockType:      body[2],
		UpdateID:       binary.BigEndian.Uint32(body[3:7]),
		PrependCounter: binary.BigEndian.Uint32(body[7:11]),
		PeerAS:         binary.BigEndian.Uint32(body[11:15]),
	}, nil
}

// SignatureNotificationPDU carries the signature computed for a SignRequest.
type SignatureNotificationPDU struct {
	UpdateID uint32
	SigBlob  []byte
}

func (p *SignatureNotificationPDU) Encode() []byte {
	total := HeaderLen + 4 + 4 + len(p.SigBlob)
	buf := writeHeader(make([]byte, 0, total), SignatureNotification, total)
	buf = put32(buf, p.UpdateID)
	buf = put32(buf, uint32(len(p.SigBlob)))
	buf = append(buf, p.SigBlob...)
	return buf
}

func DecodeSignatureNotification(body []byte) (*SignatureNotificationPDU, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("wire: SignatureNotification too short")
	}
	n := binary.BigEndian.Uint32(body[4:8])
	if uint64(8)+uint64(n) > uint64(len(body)) {
		return nil, fmt.Errorf("wire: SignatureNotification blob truncated")
	}
	return &SignatureNotificationPDU{
		UpdateID: binary.BigEndian.Uint32(body[0:4]),
		SigBlob:  append([]byte(nil), body[8:8+n]...),
	}, nil
}

// DeleteUpdatePDU asks the server to unsubscribe the caller from an update.
type DeleteUpdatePDU struct {
	KeepWindow uint16
	UpdateID   uint32
}

func (p *DeleteUpdatePDU) Encode() []byte {
	total := HeaderLen + 2 + 4
	buf := writeHeader(make([]byte, 0, total), DeleteUpdate, total)
	buf = put16(buf, p.KeepWindow)
	buf = put32(buf, p.UpdateID)
	return buf
}

func DecodeDeleteUpdate(body []byte) (*DeleteUpdatePDU, error) {
	if len(body) < 6 {
		return nil, fmt.Errorf("wire: DeleteUpdate too short")
	}
	return &DeleteUpdatePDU{
		KeepWindow: binary.BigEndian.Uint16(body[0:2]),
		UpdateID:   binary.BigEndian.Uint32(body[2:6]),
	}, nil
}

// PeerChangePDU notifies the server of a BGP peer addition/removal.
type PeerChangePDU struct {
	ChangeType uint8
	PeerAS     uint32
}

func (p *PeerChangePDU) Encode() []byte {
	total := HeaderLen + 1 + 4
	buf := writeHeader(make([]byte, 0, total), PeerChange, total)
	buf = append(buf, p.ChangeType)
	buf = put32(buf, p.PeerAS)
	return buf
}

func DecodePeerChange(body []byte) (*PeerChangePDU, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("wire: PeerChange too short")
	}
	return &PeerChangePDU{
		ChangeType: body[0],
		PeerAS:     binary.BigEndian.Uint32(body[1:5]),
	}, nil
}

// SyncRequestPDU is a header-only PDU.
type SyncRequestPDU struct{}

func (p *SyncRequestPDU) Encode() []byte {
	return writeHeader(make([]byte, 0, HeaderLen), SyncRequest, HeaderLen)
}

// ErrorPDU reports a protocol-level error to the proxy.
type ErrorPDU struct {
	ErrorCode uint16
}

func (p *ErrorPDU) Encode() []byte {
	total := HeaderLen + 2
	buf := writeHeader(make([]byte, 0, total), Error, total)
	return put16(buf, p.ErrorCode)
}

func DecodeError(body []byte) (*ErrorPDU, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("wire: Error too short")
	}
	return &ErrorPDU{ErrorCode: binary.BigEndian.Uint16(body[0:2])}, nil
}

func put16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func put32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
