// Package server implements the Server Connection Handler and Command
// Handler of spec.md §4.5/§4.6: the accept loop, slot mapping table,
// command dispatch, and notification broadcaster, built on
// core.Bgpipe's top-level owning-struct shape (embedded logger, owned
// context/cancel, Run() orchestrating subsystems).
package server

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/aspa"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/cmdqueue"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/crypto"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/prefixcache"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/rpkiqueue"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/updatecache"
)

// Config holds the server-connection-handler-relevant subset of spec.md
// §6.4's configuration keys.
type Config struct {
	ListenAddr                string
	DefaultKeepWindow         time.Duration
	HandshakeTimeout          time.Duration
	SyncAfterConnEstablished  bool
	ExpectedProxies           int
	MappingRouterID           [256]uint32
	ModeNoSendQueue           bool
	ModeNoReceiveQueue        bool
	SigningKeyPath            string
}

// Server owns every subsystem named in spec.md §2 except the RTR feed
// itself (internal/rtrfeed, wired in by cmd/srx-server).
type Server struct {
	zerolog.Logger

	cfg Config

	mapping     *MappingTable
	updateCache *updatecache.Cache
	prefixCache *prefixcache.Cache
	aspa        *aspa.Validator
	crypto      crypto.Provider

	signingHandle crypto.KeyHandle
	hasSigningKey bool

	cmdQueue  *cmdqueue.Queue
	rpkiQueue *rpkiqueue.Queue

	listener net.Listener
}

// New constructs a Server with its mapping table, command queue, and RPKI
// queue already wired. It deliberately does not yet take the Update
// Cache/Prefix Cache/ASPA validator: each of those needs this Server as its
// change listener (notify.go) at its own construction time, so cmd/srx-server
// must build New first, build the caches with s as listener, then call
// Attach to close the loop before Run.
func New(
	log zerolog.Logger,
	cfg Config,
	cryptoProvider crypto.Provider,
	rpkiQueue *rpkiqueue.Queue,
) *Server {
	s := &Server{
		Logger:    log.With().Str("component", "server").Logger(),
		cfg:       cfg,
		mapping:   NewMappingTable(cfg.MappingRouterID),
		crypto:    cryptoProvider,
		rpkiQueue: rpkiQueue,
	}
	s.cmdQueue = cmdqueue.New(log, 1024, 1, s.handleCommand)

	if cfg.SigningKeyPath != "" {
		table, err := cryptoProvider.LoadKeys(cfg.SigningKeyPath, crypto.PrivateKeys)
		if err != nil {
			s.Warn().Err(err).Str("path", cfg.SigningKeyPath).Msg("failed to load signing key")
		}
		for handle := range table {
			s.signingHandle = handle
			s.hasSigningKey = true
			break
		}
	}
	return s
}

// Attach completes construction by supplying the three caches, each of
// which must already have been built with this Server as its change
// listener. Must be called exactly once, before Run.
func (s *Server) Attach(updateCache *updatecache.Cache, prefixCache *prefixcache.Cache, aspaV *aspa.Validator) {
	s.updateCache = updateCache
	s.prefixCache = prefixCache
	s.aspa = aspaV
}

// Run starts the listener, the command queue workers, and the RPKI queue
// consumer, and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.Info().Str("addr", s.cfg.ListenAddr).Msg("server listening")

	go s.acceptLoop(ctx)
	go s.runRPKIConsumer(ctx)
	go s.runReaper(ctx)

	err = s.cmdQueue.Run(ctx)
	_ = s.listener.Close()
	return err
}

// runReaper periodically reaps expired zombie Update Cache entries,
// releasing their Prefix Cache bookkeeping too, and frees Mapping Table
// slots whose keep_window has elapsed since deactivation (spec.md §4.2/§4.3's
// keep_window lifecycle, §4.6's "become reusable only after keep_window has
// elapsed without reconnection").
func (s *Server) runReaper(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, u := range s.updateCache.ReapExpired(now) {
				s.prefixCache.RemoveUpdate(u.ID)
				if u.PathID != 0 {
					s.aspa.Unreference(u.PathID, u.ID)
				}
			}
			for _, slot := range s.mapping.ReapExpired(now) {
				s.Debug().Uint16("slot", slot).Msg("mapping slot released after keep_window")
			}
		}
	}
}
