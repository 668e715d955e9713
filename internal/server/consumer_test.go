package server

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/aspa"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/rpkiqueue"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/wire"
)

func TestApplyRPKIEventROAAddedConfirmsPendingValidation(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	req := &wire.VerifyRequest{
		Flags:        wire.FlagROA | wire.FlagRequestReceipt,
		PrefixLen:    24,
		Prefix:       netip.MustParseAddr("10.0.0.0"),
		OriginASN:    65000,
		RequestToken: 1,
	}
	go srv.handleVerify(slot, req)
	n := readNotification(t, c2)
	require.Equal(t, wire.ResNotFound, n.ROAResult)

	go srv.applyRPKIEvent(rpkiqueue.Event{
		Kind:      rpkiqueue.ROAAdded,
		OriginASN: 65000,
		Prefix:    netip.MustParsePrefix("10.0.0.0/16"),
		MaxLen:    24,
		CacheID:   1,
	})

	n2 := readNotification(t, c2)
	require.Equal(t, wire.ResValid, n2.ROAResult)
}

func TestApplyRPKIEventROAWithdrawnRevertsToNotFound(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	srv.applyRPKIEvent(rpkiqueue.Event{
		Kind:      rpkiqueue.ROAAdded,
		OriginASN: 65000,
		Prefix:    netip.MustParsePrefix("10.0.0.0/16"),
		MaxLen:    24,
		CacheID:   1,
	})

	req := &wire.VerifyRequest{
		Flags:        wire.FlagROA | wire.FlagRequestReceipt,
		PrefixLen:    24,
		Prefix:       netip.MustParseAddr("10.0.0.0"),
		OriginASN:    65000,
		RequestToken: 2,
	}
	go srv.handleVerify(slot, req)
	n := readNotification(t, c2)
	require.Equal(t, wire.ResValid, n.ROAResult)

	go srv.applyRPKIEvent(rpkiqueue.Event{
		Kind:      rpkiqueue.ROAWithdrawn,
		OriginASN: 65000,
		Prefix:    netip.MustParsePrefix("10.0.0.0/16"),
		MaxLen:    24,
		CacheID:   1,
	})

	n2 := readNotification(t, c2)
	require.Equal(t, wire.ResNotFound, n2.ROAResult)
}

func TestApplyRPKIEventASPAAddedAndWithdrawn(t *testing.T) {
	srv := newTestServer(t)

	srv.applyRPKIEvent(rpkiqueue.Event{
		Kind:        rpkiqueue.ASPAAdded,
		CustomerASN: 65001,
		Providers:   []uint32{65002},
		AFI:         uint16(aspa.AFIv4),
	})

	v := srv.aspa.Validate(1, []uint32{65001, 65002}, aspa.ASSequence, aspa.UpStream, aspa.AFIv4, time.Unix(0, 0))
	require.Equal(t, result.Valid, v)

	srv.applyRPKIEvent(rpkiqueue.Event{
		Kind:        rpkiqueue.ASPAWithdrawn,
		CustomerASN: 65001,
		AFI:         uint16(aspa.AFIv4),
	})

	v2 := srv.aspa.Validate(2, []uint32{65001, 65002}, aspa.ASSequence, aspa.UpStream, aspa.AFIv4, time.Unix(0, 0))
	require.Equal(t, result.Unknown, v2)
}

func TestApplyRPKIEventBeginResyncThenROAAddedThenEndOfData(t *testing.T) {
	srv := newTestServer(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	slot, err := srv.mapping.Allocate(0, c1)
	require.NoError(t, err)

	srv.applyRPKIEvent(rpkiqueue.Event{Kind: rpkiqueue.ROAAdded, OriginASN: 65000, Prefix: netip.MustParsePrefix("10.0.0.0/16"), MaxLen: 24, CacheID: 1})

	req := &wire.VerifyRequest{
		Flags:        wire.FlagROA | wire.FlagRequestReceipt,
		PrefixLen:    24,
		Prefix:       netip.MustParseAddr("10.0.0.0"),
		OriginASN:    65000,
		RequestToken: 3,
	}
	go srv.handleVerify(slot, req)
	n := readNotification(t, c2)
	require.Equal(t, wire.ResValid, n.ROAResult)

	srv.applyRPKIEvent(rpkiqueue.Event{Kind: rpkiqueue.BeginResync, CacheID: 1})
	// reconfirmed before EndOfData: the deferred withdrawal never fires and
	// the still-Valid update produces no further notification to drain.
	srv.applyRPKIEvent(rpkiqueue.Event{Kind: rpkiqueue.ROAAdded, OriginASN: 65000, Prefix: netip.MustParsePrefix("10.0.0.0/16"), MaxLen: 24, CacheID: 1})
	srv.applyRPKIEvent(rpkiqueue.Event{Kind: rpkiqueue.EndOfData, CacheID: 1})

	m, ok := srv.mapping.Lookup(slot)
	require.True(t, ok)
	require.True(t, m.IsActive) // resync of a reconfirmed ROA does not disturb the client
}
