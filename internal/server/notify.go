package server

import (
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/aspa"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/prefixcache"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/updatecache"
)

// The three listener adapters below exist to break the construction cycle
// New's doc comment describes: cmd/srx-server builds Server with New, wraps
// it in these adapters to construct the three caches, then calls
// Server.Attach with the finished caches before Run.

// updateCacheListener adapts Server to updatecache.ChangeListener.
type updateCacheListener struct{ s *Server }

// NewUpdateCacheListener returns the listener to pass to updatecache.New.
func NewUpdateCacheListener(s *Server) updatecache.ChangeListener {
	return updateCacheListener{s: s}
}

// OnUpdateResultChanged implements spec.md §4.6's notification broadcast:
// push a VerifyNotification to every slot still subscribed to u, skipping
// any that is not currently active (crashed or cleanly disconnected).
func (l updateCacheListener) OnUpdateResultChanged(u updatecache.Update, clients []uint16) {
	for _, slot := range clients {
		if l.s.mapping.ActiveConn(slot) == nil {
			continue
		}
		l.s.sendVerifyNotification(slot, 0, u)
	}
}

// prefixCacheListener adapts Server to prefixcache.ResultListener.
type prefixCacheListener struct{ s *Server }

// NewPrefixCacheListener returns the listener to pass to prefixcache.New.
func NewPrefixCacheListener(s *Server) prefixcache.ResultListener {
	return prefixCacheListener{s: s}
}

func (l prefixCacheListener) OnROAResult(updateID uint32, v result.Value) {
	l.s.updateCache.ModifyResult(updateID, result.Partial{
		ROA:    v,
		BGPsec: result.DoNotUse,
		ASPA:   result.DoNotUse,
	})
}

// aspaChangeListener adapts Server to aspa.ChangeListener.
type aspaChangeListener struct{ s *Server }

// NewASPAChangeListener returns the listener to pass to aspa.NewValidator.
func NewASPAChangeListener(s *Server) aspa.ChangeListener {
	return aspaChangeListener{s: s}
}

func (l aspaChangeListener) OnASPAResultChanged(_ uint64, v result.Value, updateIDs []uint32) {
	for _, uid := range updateIDs {
		l.s.updateCache.ModifyResult(uid, result.Partial{
			ROA:    result.DoNotUse,
			BGPsec: result.DoNotUse,
			ASPA:   v,
		})
	}
}
