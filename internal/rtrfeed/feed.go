// Package rtrfeed binds a real RPKI-RTR client session to the RPKI queue,
// spec.md §6.2: the "one RTR-client thread (external)" of §5 that drives
// roa_added/roa_withdrawn/aspa_added/aspa_withdrawn/end_of_data.
package rtrfeed

import (
	"context"
	"crypto/tls"
	"time"

	rtrlib "github.com/bgp/stayrtr/lib"
	"github.com/rs/zerolog"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/rpkiqueue"
)

// Config configures one RTR session.
type Config struct {
	Addr            string
	TLS             bool
	InsecureSkipTLS bool
	RefreshInterval time.Duration
	RetryInterval   time.Duration
	ExpireInterval  time.Duration
	SessionID       uint32
	CacheID         uint32
}

// Feed is one RTR client session feeding a rpkiqueue.Queue. It holds no
// cache references of its own: every callback becomes a rpkiqueue.Event,
// and only the command handler draining that queue mutates the Prefix
// Cache / ASPA store, per spec.md §2's data-flow diagram.
type Feed struct {
	cfg Config
	log zerolog.Logger
	out *rpkiqueue.Queue

	session *rtrlib.ClientSession
}

// New returns a Feed that has not yet connected.
func New(cfg Config, log zerolog.Logger, out *rpkiqueue.Queue) *Feed {
	return &Feed{
		cfg: cfg,
		log: log.With().Str("component", "rtr_feed").Str("addr", cfg.Addr).Logger(),
		out: out,
	}
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled, mirroring bgpfix-bgpipe/stages/rpki/rtr.go's rtrRun loop.
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		config := rtrlib.ClientConfiguration{
			ProtocolVersion: rtrlib.PROTOCOL_VERSION_1,
			RefreshInterval: uint32(f.cfg.RefreshInterval.Seconds()),
			RetryInterval:   uint32(f.cfg.RetryInterval.Seconds()),
			ExpireInterval:  uint32(f.cfg.ExpireInterval.Seconds()),
			Log:             rtrLogAdapter{f.log},
		}

		start := time.Now()
		f.session = rtrlib.NewClientSession(config, &handler{feed: f, ctx: ctx})

		var err error
		if f.cfg.TLS {
			err = f.session.StartTLS(f.cfg.Addr, &tls.Config{InsecureSkipVerify: f.cfg.InsecureSkipTLS})
		} else {
			err = f.session.StartPlain(f.cfg.Addr)
		}

		if time.Since(start) > time.Hour {
			backoff = time.Second
		}
		f.log.Warn().Err(err).Msg("RTR connection ended, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = min(backoff*2, 5*time.Minute)
		}
	}
}
