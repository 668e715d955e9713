package server

import (
	"context"
	"encoding/binary"
	"errors"
	"net/netip"
	"time"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/aspa"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/cmdqueue"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/crypto"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/updatecache"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/wire"
)

// handleCommand is the Command Handler of spec.md §4.5: it dispatches a
// popped Command by the concrete type of its decoded PDU payload. HELLO is
// handled synchronously by serveConn's handshake on the connection's own
// goroutine (connection.go), never queued.
func (s *Server) handleCommand(_ context.Context, cmd cmdqueue.Command) {
	if cmd.Kind == cmdqueue.Shutdown {
		return
	}
	switch p := cmd.Payload.(type) {
	case *wire.VerifyRequest:
		s.handleVerify(cmd.ClientSlot, p)
	case *wire.SignRequestPDU:
		s.handleSign(cmd.ClientSlot, p)
	case *wire.DeleteUpdatePDU:
		s.handleDelete(cmd.ClientSlot, p)
	case *wire.GoodbyePDU:
		s.handleGoodbye(cmd.ClientSlot, p)
	case *wire.PeerChangePDU:
		s.Debug().Uint16("slot", cmd.ClientSlot).Uint32("peer_as", p.PeerAS).Msg("peer change accepted")
	case *wire.SyncRequestPDU:
		s.Debug().Uint16("slot", cmd.ClientSlot).Msg("sync request accepted")
	default:
		s.handleInvalidPDU(cmd.ClientSlot)
	}
}

// handleVerify implements spec.md §4.5.1: fingerprint, store/collision-check,
// subscribe, then validate whichever axes Flags requests.
func (s *Server) handleVerify(slot uint16, p *wire.VerifyRequest) {
	prefix := netip.PrefixFrom(p.Prefix, int(p.PrefixLen)).Masked()

	def := result.Triple{
		ROA:     wireToValue(p.ROADef),
		BGPsec:  wireToValue(p.BGPsecDef),
		ASPA:    result.Undefined,
		ROASrc:  wireToSource(p.ROASrc),
		BGPSrc:  wireToSource(p.BGPsecSrc),
		ASPASrc: result.SrcSRx,
	}

	fp := updatecache.Fingerprint(p.OriginASN, prefix, p.BGPsec)
	outcome := s.updateCache.Store(fp, prefix, p.OriginASN, p.BGPsec, def, slot)
	s.updateCache.Subscribe(outcome.ID, slot)

	// A freshly created entry has validated nothing yet (its Current only
	// holds the caller's defaults), so every requested axis runs. On an
	// AlreadyPresent hit the stored entry keeps whatever it last computed;
	// re-running a completed axis here would both waste work and (for ROA)
	// double-count the update against PC_ROA.UpdateCount. Gate each axis on
	// still being Undefined, spec.md §4.5.1 step 4.
	current := result.Triple{ROA: result.Undefined, BGPsec: result.Undefined, ASPA: result.Undefined}
	if !outcome.Created {
		if u, ok := s.updateCache.Lookup(outcome.ID); ok {
			current = u.Current
		}
	}

	if p.Flags&wire.FlagROA != 0 && current.ROA == result.Undefined {
		v := s.prefixCache.RequestUpdateValidation(outcome.ID, prefix, p.OriginASN)
		s.updateCache.ModifyResult(outcome.ID, result.Partial{ROA: v, BGPsec: result.DoNotUse, ASPA: result.DoNotUse})
	}

	if p.Flags&wire.FlagBGPsec != 0 && current.BGPsec == result.Undefined {
		blob := p.BGPsec.Encode(nil)
		v, err := s.crypto.VerifySignature(blob)
		if err != nil {
			s.Warn().Err(err).Uint32("update_id", outcome.ID).Msg("bgpsec verification failed")
			v = result.Undefined
		}
		s.updateCache.ModifyResult(outcome.ID, result.Partial{ROA: result.DoNotUse, BGPsec: v, ASPA: result.DoNotUse})
	}

	if p.Flags&wire.FlagASPA != 0 && current.ASPA == result.Undefined {
		asType := aspa.ASSequence
		if p.Flags&wire.FlagASPathIsASSet != 0 {
			asType = aspa.ASSet
		}
		dir := aspa.DownStream
		if p.Flags&wire.FlagASPathUpstream != 0 {
			dir = aspa.UpStream
		}
		afi := aspa.AFIv4
		if p.V6 {
			afi = aspa.AFIv6
		}
		path := originatorFirst(p.BGPsec.ASPath)
		pathID := aspa.PathID(path, asType)
		v := s.aspa.Validate(outcome.ID, path, asType, dir, afi, time.Now())
		s.updateCache.SetPathID(outcome.ID, pathID)
		s.updateCache.ModifyResult(outcome.ID, result.Partial{ROA: result.DoNotUse, BGPsec: result.DoNotUse, ASPA: v})
	}

	if p.Flags&wire.FlagRequestReceipt != 0 {
		if u, ok := s.updateCache.Lookup(outcome.ID); ok {
			s.sendVerifyNotification(slot, p.RequestToken, u)
		}
	}
}

// originatorFirst reverses a BGP AS_PATH (wire order: nearest peer first,
// origin last) into the originator-first order internal/aspa.Validate
// expects, spec.md §4.4.2.
func originatorFirst(path []uint32) []uint32 {
	out := make([]uint32, len(path))
	for i, asn := range path {
		out[len(path)-1-i] = asn
	}
	return out
}

// handleSign implements spec.md §4.5.2: sign the referenced update's path
// attribute with the server's own BGPsec key.
func (s *Server) handleSign(slot uint16, p *wire.SignRequestPDU) {
	u, ok := s.updateCache.Lookup(p.UpdateID)
	if !ok {
		s.sendError(slot, wire.ErrUpdateNotFound)
		return
	}
	if !s.hasSigningKey {
		s.sendError(slot, wire.ErrAlgoNotSupported)
		return
	}

	message := signingMessage(u, p)
	sig, err := s.crypto.Sign(message, uint8(p.Algorithm), s.signingHandle, crypto.BIO)
	if err != nil {
		var algoErr *crypto.AlgoNotSupportedError
		if errors.As(err, &algoErr) {
			s.sendError(slot, wire.ErrAlgoNotSupported)
			return
		}
		s.Warn().Err(err).Uint32("update_id", p.UpdateID).Msg("sign failed")
		s.sendError(slot, wire.ErrInternalError)
		return
	}

	n := &wire.SignatureNotificationPDU{UpdateID: p.UpdateID, SigBlob: sig}
	s.send(slot, n.Encode())
}

func signingMessage(u updatecache.Update, p *wire.SignRequestPDU) []byte {
	buf := u.BGPsec.Encode(nil)
	var tail [8]byte
	binary.BigEndian.PutUint32(tail[0:4], p.PrependCounter)
	binary.BigEndian.PutUint32(tail[4:8], p.PeerAS)
	return append(buf, tail[:]...)
}

// handleDelete implements spec.md §4.5's DELETE_UPDATE handling: unsubscribe
// the caller, or answer UpdateNotFound plus a sync request if the update_id
// is unknown (the proxy's own bookkeeping has drifted from the server's).
func (s *Server) handleDelete(slot uint16, p *wire.DeleteUpdatePDU) {
	keepWindow := s.keepWindow(p.KeepWindow)
	if !s.updateCache.Unsubscribe(p.UpdateID, slot, keepWindow) {
		s.sendError(slot, wire.ErrUpdateNotFound)
		sr := &wire.SyncRequestPDU{}
		s.send(slot, sr.Encode())
	}
}

// handleGoodbye implements spec.md §4.6's clean-disconnect path: unregister
// every subscription, deactivate the slot, and close the socket.
func (s *Server) handleGoodbye(slot uint16, p *wire.GoodbyePDU) {
	keepWindow := s.keepWindow(p.KeepWindow)
	m, _ := s.mapping.Lookup(slot)
	s.updateCache.UnregisterClient(slot, keepWindow)
	s.mapping.Deactivate(slot, false, keepWindow)
	if m.Conn != nil {
		_ = m.Conn.Close()
	}
}

// handleInvalidPDU implements spec.md §6.1's unknown-PDU-type response:
// Error{InvalidPacket} followed by Goodbye, then a crashed deactivation
// since the proxy did not tear down cleanly on its own.
func (s *Server) handleInvalidPDU(slot uint16) {
	s.sendError(slot, wire.ErrInvalidPacket)
	gb := &wire.GoodbyePDU{KeepWindow: uint16(s.cfg.DefaultKeepWindow / time.Second)}
	s.send(slot, gb.Encode())

	m, _ := s.mapping.Lookup(slot)
	s.updateCache.UnregisterClient(slot, s.cfg.DefaultKeepWindow)
	s.mapping.Deactivate(slot, true, s.cfg.DefaultKeepWindow)
	if m.Conn != nil {
		_ = m.Conn.Close()
	}
}

func (s *Server) keepWindow(wireSeconds uint16) time.Duration {
	if wireSeconds == 0 {
		return s.cfg.DefaultKeepWindow
	}
	return time.Duration(wireSeconds) * time.Second
}

func (s *Server) sendError(slot uint16, code uint16) {
	e := &wire.ErrorPDU{ErrorCode: code}
	s.send(slot, e.Encode())
}

func (s *Server) sendVerifyNotification(slot uint16, token uint32, u updatecache.Update) {
	n := &wire.VerifyNotificationPDU{
		ROAResult:    valueToWire(u.Current.ROA),
		BGPsecResult: valueToWire(u.Current.BGPsec),
		ASPAResult:   valueToWire(u.Current.ASPA),
		RequestToken: token,
		UpdateID:     u.ID,
	}
	s.send(slot, n.Encode())
}

func (s *Server) send(slot uint16, buf []byte) {
	conn := s.mapping.ActiveConn(slot)
	if conn == nil {
		return
	}
	if _, err := conn.Write(buf); err != nil {
		s.Warn().Err(err).Uint16("slot", slot).Msg("write failed")
	}
}
