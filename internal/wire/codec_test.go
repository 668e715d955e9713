package wire

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHelloRoundTrip(t *testing.T) {
	p := &HelloPDU{Version: ProtocolVersion, ProxyID: 7, ASN: 65000, Peers: []uint32{100, 200}}
	buf := p.Encode()

	hdr, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, Hello, hdr.Type)
	require.EqualValues(t, len(buf), hdr.Length)

	got, err := DecodeHello(buf[HeaderLen:])
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestVerifyV4RequestRoundTrip(t *testing.T) {
	p := &VerifyRequest{
		Flags:        FlagROA | FlagRequestReceipt,
		PrefixLen:    24,
		RequestToken: 42,
		Prefix:       netip.MustParseAddr("10.0.1.0"),
		OriginASN:    65001,
		BGPsec: BGPsecData{
			AFI:      1,
			SAFI:     1,
			LocalAS:  65002,
			ASPath:   []uint32{65003, 65004},
			PathAttr: []byte{0xde, 0xad},
		},
	}
	buf := p.Encode()

	hdr, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, VerifyV4Request, hdr.Type)

	got, err := DecodeVerifyRequest(false, buf[HeaderLen:])
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestVerifyV6RequestRoundTrip(t *testing.T) {
	p := &VerifyRequest{
		V6:           true,
		Flags:        FlagASPA,
		PrefixLen:    32,
		RequestToken: 1,
		Prefix:       netip.MustParseAddr("2001:db8::"),
		OriginASN:    65005,
	}
	buf := p.Encode()
	got, err := DecodeVerifyRequest(true, buf[HeaderLen:])
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestReadPDU(t *testing.T) {
	p := &GoodbyePDU{KeepWindow: 900}
	buf := p.Encode()

	hdr, body, err := ReadPDU(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, Goodbye, hdr.Type)
	require.Equal(t, buf, body)

	got, err := DecodeGoodbye(body[HeaderLen:])
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestReadPDURejectsBadLength(t *testing.T) {
	buf := []byte{byte(Hello), 0, 0, 0, 0, 0, 0, 3} // length 3 < header
	_, _, err := ReadPDU(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestBGPsecDataRoundTripEmpty(t *testing.T) {
	d := BGPsecData{}
	buf := d.Encode(nil)
	got, n, err := DecodeBGPsecData(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, d.AFI, got.AFI)
	require.Empty(t, got.ASPath)
	require.Empty(t, got.PathAttr)
}
