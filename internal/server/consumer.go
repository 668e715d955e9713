package server

import (
	"context"
	"time"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/aspa"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/rpkiqueue"
)

// runRPKIConsumer drains the RPKI queue and mutates the Prefix Cache, ASPA
// store, and AS-Path Cache accordingly, spec.md §2's "Command handler
// mutates (Prefix Cache | ASPA store)" data flow.
func (s *Server) runRPKIConsumer(ctx context.Context) {
	for {
		ev, ok := s.rpkiQueue.Pop(ctx)
		if !ok {
			return
		}
		s.applyRPKIEvent(ev)
	}
}

func (s *Server) applyRPKIEvent(ev rpkiqueue.Event) {
	switch ev.Kind {
	case rpkiqueue.ROAAdded:
		s.prefixCache.ConfirmROA(ev.OriginASN, ev.Prefix, ev.MaxLen, ev.CacheID)
	case rpkiqueue.ROAWithdrawn:
		s.prefixCache.DelROA(ev.OriginASN, ev.Prefix, ev.MaxLen, ev.CacheID)
	case rpkiqueue.ASPAAdded:
		s.aspa.Store().Add(ev.CustomerASN, ev.Providers, aspa.AFI(ev.AFI))
	case rpkiqueue.ASPAWithdrawn:
		s.aspa.Store().Remove(ev.CustomerASN, aspa.AFI(ev.AFI))
	case rpkiqueue.BeginResync:
		s.prefixCache.BeginResync(ev.CacheID)
	case rpkiqueue.EndOfData:
		s.prefixCache.EndResync(ev.CacheID)
		// re-run every AS-Path Cache entry last modified before this
		// end-of-data: its backing ASPA objects may just have moved,
		// spec.md §4.4.3.
		s.aspa.RevalidateStale(time.Now())
	}
}
