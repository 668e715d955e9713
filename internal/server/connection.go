package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/cmdqueue"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/wire"
)

// acceptLoop accepts proxy connections until ctx is cancelled, spec.md
// §4.6, grounded on rpkirtr's CacheServer.start/accept single-goroutine
// accept pattern generalized with per-connection goroutines instead of a
// shared client slice (the mapping table already owns that bookkeeping).
func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.Warn().Err(err).Msg("accept failed")
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

// serveConn runs the HELLO handshake synchronously, then queues every
// subsequent PDU as a cmdqueue.Command until the connection closes.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	slot, ok := s.handshake(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	s.Info().Uint16("slot", slot).Str("remote", conn.RemoteAddr().String()).Msg("proxy connected")

	crashed := true
	defer func() {
		if crashed {
			s.updateCache.UnregisterClient(slot, s.cfg.DefaultKeepWindow)
			s.mapping.Deactivate(slot, true, s.cfg.DefaultKeepWindow)
		}
		_ = conn.Close()
	}()

	for {
		hdr, body, err := wire.ReadPDU(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.Debug().Err(err).Uint16("slot", slot).Msg("connection read ended")
			}
			return
		}

		cmd, ok := decodeCommand(slot, hdr, body)
		if !ok {
			crashed = false // handleInvalidPDU does its own deactivate+close
			s.handleInvalidPDU(slot)
			return
		}
		if _, isGoodbye := cmd.Payload.(*wire.GoodbyePDU); isGoodbye {
			crashed = false // handleGoodbye does its own deactivate+close
			s.handleGoodbye(slot, cmd.Payload.(*wire.GoodbyePDU))
			return
		}
		if err := s.cmdQueue.Submit(ctx, cmd); err != nil {
			return
		}
	}
}

// handshake enforces spec.md §4.6's "first PDU must be HELLO within
// HandshakeTimeout" rule and performs slot allocation.
func (s *Server) handshake(conn net.Conn) (uint16, bool) {
	if s.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}
	hdr, body, err := wire.ReadPDU(conn)
	if err != nil {
		s.Debug().Err(err).Msg("handshake read failed")
		return 0, false
	}
	_ = conn.SetReadDeadline(time.Time{})

	if hdr.Type != wire.Hello {
		s.sendErrorTo(conn, wire.ErrInvalidPacket)
		return 0, false
	}
	hello, err := wire.DecodeHello(body[wire.HeaderLen:])
	if err != nil {
		s.sendErrorTo(conn, wire.ErrInvalidPacket)
		return 0, false
	}
	if hello.Version != wire.ProtocolVersion {
		s.sendErrorTo(conn, wire.ErrWrongVersion)
		gb := &wire.GoodbyePDU{}
		_, _ = conn.Write(gb.Encode())
		return 0, false
	}

	slot, err := s.mapping.Allocate(hello.ProxyID, conn)
	if err != nil {
		code := wire.ErrDuplicateProxyID
		if errors.Is(err, ErrTooManyProxies) {
			code = wire.ErrInternalError
		}
		s.sendErrorTo(conn, code)
		return 0, false
	}

	resp := &wire.HelloResponsePDU{Version: wire.ProtocolVersion, ProxyID: hello.ProxyID}
	if _, err := conn.Write(resp.Encode()); err != nil {
		s.Debug().Err(err).Uint16("slot", slot).Msg("failed to write HelloResponse")
		s.mapping.Deactivate(slot, true, s.cfg.DefaultKeepWindow)
		return 0, false
	}
	return slot, true
}

func (s *Server) sendErrorTo(conn net.Conn, code uint16) {
	e := &wire.ErrorPDU{ErrorCode: code}
	_, _ = conn.Write(e.Encode())
}

// decodeCommand turns one read PDU into a queueable Command. It returns
// ok=false for a body that fails to decode (caller must treat this as an
// invalid packet, spec.md §6.1).
func decodeCommand(slot uint16, hdr wire.Header, body []byte) (cmdqueue.Command, bool) {
	rest := body[wire.HeaderLen:]
	cmd := cmdqueue.Command{Kind: cmdqueue.ProxyPDU, ClientSlot: slot}

	var err error
	switch hdr.Type {
	case wire.VerifyV4Request:
		cmd.Payload, err = wire.DecodeVerifyRequest(false, rest)
	case wire.VerifyV6Request:
		cmd.Payload, err = wire.DecodeVerifyRequest(true, rest)
	case wire.SignRequest:
		cmd.Payload, err = wire.DecodeSignRequest(rest)
	case wire.DeleteUpdate:
		cmd.Payload, err = wire.DecodeDeleteUpdate(rest)
	case wire.Goodbye:
		cmd.Payload, err = wire.DecodeGoodbye(rest)
	case wire.PeerChange:
		cmd.Payload, err = wire.DecodePeerChange(rest)
	case wire.SyncRequest:
		cmd.Payload = &wire.SyncRequestPDU{}
	default:
		return cmdqueue.Command{}, false
	}
	if err != nil {
		return cmdqueue.Command{}, false
	}
	return cmd, true
}
