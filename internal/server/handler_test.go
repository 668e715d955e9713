package server

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/aspa"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/crypto"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/prefixcache"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/rpkiqueue"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/updatecache"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/wire"
)

func newTestServer(t *testing.T, cryptoProvider ...crypto.Provider) *Server {
	t.Helper()
	log := zerolog.Nop()
	rpkiQ := rpkiqueue.New(8)

	var cp crypto.Provider = crypto.UnavailableProvider{}
	if len(cryptoProvider) > 0 {
		cp = cryptoProvider[0]
	}
	srv := New(log, Config{DefaultKeepWindow: time.Minute}, cp, rpkiQ)

	uc := updatecache.New(log, NewUpdateCacheListener(srv))
	pc := prefixcache.New(log, NewPrefixCacheListener(srv))
	store := aspa.NewStore()
	av := aspa.NewValidator(log, store, NewASPAChangeListener(srv))
	srv.Attach(uc, pc, av)
	return srv
}

func readNotification(t *testing.T, conn net.Conn) *wire.VerifyNotificationPDU {
	t.Helper()
	hdr, body, err := wire.ReadPDU(conn)
	require.NoError(t, err)
	require.Equal(t, wire.VerifyNotification, hdr.Type)
	n, err := wire.DecodeVerifyNotification(body[wire.HeaderLen:])
	require.NoError(t, err)
	return n
}

func TestHandleVerifyROAValidSendsNotification(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	srv.prefixCache.AddROA(65000, netip.MustParsePrefix("10.0.0.0/16"), 24, 1)

	req := &wire.VerifyRequest{
		Flags:        wire.FlagROA | wire.FlagRequestReceipt,
		PrefixLen:    24,
		Prefix:       netip.MustParseAddr("10.0.0.0"),
		OriginASN:    65000,
		RequestToken: 42,
	}

	go srv.handleVerify(slot, req)

	n := readNotification(t, c2)
	require.Equal(t, wire.ResValid, n.ROAResult)
	require.Equal(t, uint32(42), n.RequestToken)
}

func TestHandleVerifyROANotFoundWithoutInstalledROA(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	req := &wire.VerifyRequest{
		Flags:        wire.FlagROA | wire.FlagRequestReceipt,
		PrefixLen:    24,
		Prefix:       netip.MustParseAddr("192.0.2.0"),
		OriginASN:    65000,
		RequestToken: 1,
	}

	go srv.handleVerify(slot, req)

	n := readNotification(t, c2)
	require.Equal(t, wire.ResNotFound, n.ROAResult)
}

func TestHandleVerifyASPAUpstreamValidatesOriginatorFirst(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	srv.aspa.Store().Add(65001, []uint32{65002}, aspa.AFIv4)
	srv.aspa.Store().Add(65002, []uint32{65003}, aspa.AFIv4)

	req := &wire.VerifyRequest{
		Flags:        wire.FlagASPA | wire.FlagASPathUpstream | wire.FlagRequestReceipt,
		PrefixLen:    24,
		Prefix:       netip.MustParseAddr("10.0.0.0"),
		OriginASN:    65000,
		RequestToken: 7,
		// wire order is nearest-peer-first; originatorFirst reverses this to
		// [65001, 65002, 65003] before calling aspa.Validate.
		BGPsec: wire.BGPsecData{ASPath: []uint32{65003, 65002, 65001}},
	}

	go srv.handleVerify(slot, req)

	n := readNotification(t, c2)
	require.Equal(t, wire.ResValid, n.ASPAResult)
}

func TestHandleVerifyASPathIsASSetIsUnverifiable(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	req := &wire.VerifyRequest{
		Flags:        wire.FlagASPA | wire.FlagASPathIsASSet | wire.FlagRequestReceipt,
		PrefixLen:    24,
		Prefix:       netip.MustParseAddr("10.0.0.0"),
		OriginASN:    65000,
		RequestToken: 9,
		BGPsec:       wire.BGPsecData{ASPath: []uint32{65002, 65001}},
	}

	go srv.handleVerify(slot, req)

	n := readNotification(t, c2)
	require.Equal(t, wire.ResUnverifiable, n.ASPAResult)
}

func TestHandleVerifyBGPsecUnavailableProviderIsInvalid(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	req := &wire.VerifyRequest{
		Flags:        wire.FlagBGPsec | wire.FlagRequestReceipt,
		PrefixLen:    24,
		Prefix:       netip.MustParseAddr("10.0.0.0"),
		OriginASN:    65000,
		RequestToken: 3,
	}

	go srv.handleVerify(slot, req)

	n := readNotification(t, c2)
	require.Equal(t, wire.ResInvalid, n.BGPsecResult)
}

func TestROAArrivalAfterVerifyPushesUnsolicitedNotification(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	req := &wire.VerifyRequest{
		Flags:     wire.FlagROA,
		PrefixLen: 24,
		Prefix:    netip.MustParseAddr("10.0.0.0"),
		OriginASN: 65000,
	}
	// no request_receipt flag, but the NotFound result still differs from
	// the Valid default and fires one notification that must be drained.
	go srv.handleVerify(slot, req)
	n0 := readNotification(t, c2)
	require.Equal(t, wire.ResNotFound, n0.ROAResult)

	go srv.prefixCache.AddROA(65000, netip.MustParsePrefix("10.0.0.0/16"), 24, 1)

	n := readNotification(t, c2)
	require.Equal(t, wire.ResValid, n.ROAResult)
	require.Equal(t, uint32(0), n.RequestToken) // unsolicited: no request to echo
}

// countingCryptoProvider counts VerifySignature calls so tests can assert an
// already-completed axis is never re-validated on an AlreadyPresent hit.
type countingCryptoProvider struct {
	crypto.UnavailableProvider
	calls int
}

func (p *countingCryptoProvider) VerifySignature(blob []byte) (result.Value, error) {
	p.calls++
	return p.UnavailableProvider.VerifySignature(blob)
}

func TestHandleVerifySecondRequestForSameUpdateSkipsCompletedAxes(t *testing.T) {
	cp := &countingCryptoProvider{}
	srv := newTestServer(t, cp)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	c3, c4 := net.Pipe()
	defer c3.Close()
	defer c4.Close()

	slot1, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)
	slot2, err := srv.mapping.Allocate(0, c3)
	require.NoError(t, err)

	srv.prefixCache.AddROA(65000, netip.MustParsePrefix("10.0.0.0/16"), 24, 1)

	req := &wire.VerifyRequest{
		Flags:        wire.FlagROA | wire.FlagBGPsec | wire.FlagRequestReceipt,
		PrefixLen:    24,
		Prefix:       netip.MustParseAddr("10.0.0.0"),
		OriginASN:    65000,
		RequestToken: 1,
	}

	go srv.handleVerify(slot1, req)
	n1 := readNotification(t, c2)
	require.Equal(t, wire.ResValid, n1.ROAResult)
	require.Equal(t, wire.ResInvalid, n1.BGPsecResult)
	require.Equal(t, 1, cp.calls)

	// Same (origin_asn, prefix, as_path, bgpsec) from a second client resolves
	// to the same update (identical fingerprint); both axes are already
	// completed and must not be re-run.
	req2 := *req
	req2.RequestToken = 2
	go srv.handleVerify(slot2, &req2)
	n2 := readNotification(t, c4)
	require.Equal(t, wire.ResValid, n2.ROAResult)
	require.Equal(t, wire.ResInvalid, n2.BGPsecResult)
	require.Equal(t, 1, cp.calls, "BGPsec verification must not re-run for an already-completed axis")
}

func TestHandleDeleteUnknownUpdateSendsErrorAndSyncRequest(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	go srv.handleDelete(slot, &wire.DeleteUpdatePDU{UpdateID: 999})

	hdr, body, err := wire.ReadPDU(c2)
	require.NoError(t, err)
	require.Equal(t, wire.Error, hdr.Type)
	errPDU, err := wire.DecodeError(body[wire.HeaderLen:])
	require.NoError(t, err)
	require.Equal(t, wire.ErrUpdateNotFound, errPDU.ErrorCode)

	hdr2, _, err := wire.ReadPDU(c2)
	require.NoError(t, err)
	require.Equal(t, wire.SyncRequest, hdr2.Type)
}

func TestHandleGoodbyeDeactivatesSlotAndClosesConn(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	srv.handleGoodbye(slot, &wire.GoodbyePDU{})

	m, ok := srv.mapping.Lookup(slot)
	require.True(t, ok)
	require.False(t, m.IsActive)

	_, err = c1.Write([]byte("x"))
	require.Error(t, err) // conn was closed by handleGoodbye
}

func TestHandleInvalidPDUSendsErrorAndGoodbye(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	go srv.handleInvalidPDU(slot)

	hdr, body, err := wire.ReadPDU(c2)
	require.NoError(t, err)
	require.Equal(t, wire.Error, hdr.Type)
	errPDU, err := wire.DecodeError(body[wire.HeaderLen:])
	require.NoError(t, err)
	require.Equal(t, wire.ErrInvalidPacket, errPDU.ErrorCode)

	hdr2, _, err := wire.ReadPDU(c2)
	require.NoError(t, err)
	require.Equal(t, wire.Goodbye, hdr2.Type)

	m, _ := srv.mapping.Lookup(slot)
	require.False(t, m.IsActive)
}
