package rtrfeed

import (
	"context"
	"net/netip"

	rtrlib "github.com/bgp/stayrtr/lib"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/rpkiqueue"
)

// handler implements rtrlib.RTRClientSessionEventHandler, pushing one
// rpkiqueue.Event per PDU; it is invoked serially from the RTR client's own
// goroutine (no concurrency issues), mirroring bgpfix-bgpipe/stages/rpki/rtr.go.
// It holds no Prefix Cache / ASPA Store reference: per spec.md §2's data
// flow, only the command handler draining the queue may mutate those.
type handler struct {
	feed *Feed
	ctx  context.Context
}

func (h *handler) ClientConnected(session *rtrlib.ClientSession) {
	h.feed.log.Info().Msg("RTR connected")
	h.feed.out.Push(h.ctx, rpkiqueue.Event{
		Kind:    rpkiqueue.BeginResync,
		CacheID: h.feed.cfg.CacheID,
	})
	session.SendResetQuery()
}

func (h *handler) ClientDisconnected(session *rtrlib.ClientSession) {
	h.feed.log.Warn().Msg("RTR disconnected")
}

func (h *handler) HandlePDU(session *rtrlib.ClientSession, pdu rtrlib.PDU) {
	switch p := pdu.(type) {
	case *rtrlib.PDUIPv4Prefix:
		h.handlePrefix(p.Prefix, p.MaxLen, p.ASN, p.Flags)
	case *rtrlib.PDUIPv6Prefix:
		h.handlePrefix(p.Prefix, p.MaxLen, p.ASN, p.Flags)
	case *rtrlib.PDUASPA:
		h.handleASPA(p.CustomerASN, p.Providers, p.Flags, uint16(p.AFI))
	case *rtrlib.PDUEndOfData:
		h.feed.out.Push(h.ctx, rpkiqueue.Event{
			Kind:      rpkiqueue.EndOfData,
			CacheID:   h.feed.cfg.CacheID,
			Timestamp: int64(p.SerialNumber),
		})
		h.feed.log.Info().Uint32("serial", p.SerialNumber).Msg("RTR end of data")
	case *rtrlib.PDUCacheReset:
		h.feed.log.Info().Msg("RTR cache reset requested")
		h.feed.out.Push(h.ctx, rpkiqueue.Event{
			Kind:    rpkiqueue.BeginResync,
			CacheID: h.feed.cfg.CacheID,
		})
		session.SendResetQuery()
	case *rtrlib.PDUCacheResponse:
		h.feed.log.Debug().Uint16("session", p.SessionId).Msg("RTR cache response")
	case *rtrlib.PDUSerialNotify:
		h.feed.log.Debug().Uint32("serial", p.SerialNumber).Msg("RTR serial notify")
	case *rtrlib.PDUErrorReport:
		h.feed.log.Warn().Uint16("code", p.ErrorCode).Str("text", p.ErrorMsg).Msg("RTR error")
	}
}

// handlePrefix pushes a ROAAdded/ROAWithdrawn event for one VRP, per
// spec.md §6.2; the command handler decides add vs. confirm-during-resync.
func (h *handler) handlePrefix(prefix netip.Prefix, maxLen uint8, asn uint32, flags uint8) {
	kind := rpkiqueue.ROAWithdrawn
	if flags == rtrlib.FLAG_ADDED {
		kind = rpkiqueue.ROAAdded
	}
	h.feed.out.Push(h.ctx, rpkiqueue.Event{
		Kind:      kind,
		OriginASN: asn,
		Prefix:    prefix.Masked(),
		MaxLen:    maxLen,
		CacheID:   h.feed.cfg.CacheID,
	})
}

// handleASPA pushes an ASPAAdded/ASPAWithdrawn event for one ASPA object.
func (h *handler) handleASPA(customerASN uint32, providers []uint32, flags uint8, afi uint16) {
	kind := rpkiqueue.ASPAWithdrawn
	if flags == rtrlib.FLAG_ADDED {
		kind = rpkiqueue.ASPAAdded
	}
	h.feed.out.Push(h.ctx, rpkiqueue.Event{
		Kind:        kind,
		CustomerASN: customerASN,
		Providers:   providers,
		AFI:         afi,
		CacheID:     h.feed.cfg.CacheID,
	})
}
