// Package prefixcache implements the Prefix Cache of spec.md §4.3: a
// longest-prefix-match ROA index built over internal/trie that answers
// "does any installed ROA validate this (prefix, origin_asn)?" and keeps
// every interned update's ROA result current as ROAs arrive and expire.
package prefixcache

import (
	"net/netip"
	"sync"

	"github.com/rs/zerolog"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/trie"
)

// ResultListener is notified when an interned update's ROA result changes
// as a side effect of a later AddROA/DelROA, spec.md §4.3.1 step 4 and
// §4.3.2/§4.3.3's "notify" actions.
type ResultListener interface {
	OnROAResult(updateID uint32, v result.Value)
}

// NopListener discards notifications; useful in tests.
type NopListener struct{}

func (NopListener) OnROAResult(uint32, result.Value) {}

type updateLoc struct {
	node trie.ID
	pu   *PCUpdate
}

// Cache is the Prefix Cache. One instance is shared by both address
// families; IPv4 and IPv6 prefixes never collide in internal/trie since
// its index key carries the address family.
type Cache struct {
	log      zerolog.Logger
	listener ResultListener

	mu   sync.RWMutex
	trie *trie.Trie[PCPrefix]
	byID map[uint32]updateLoc
}

// New returns an empty Prefix Cache notifying listener on result changes.
func New(log zerolog.Logger, listener ResultListener) *Cache {
	if listener == nil {
		listener = NopListener{}
	}
	return &Cache{
		log:      log.With().Str("component", "prefix_cache").Logger(),
		listener: listener,
		trie:     trie.New[PCPrefix](),
		byID:     make(map[uint32]updateLoc),
	}
}

func (c *Cache) notify(updateID uint32, v result.Value) {
	c.listener.OnROAResult(updateID, v)
}

// attachFreshPayload materializes a PCPrefix for a newly created trie node,
// inheriting state_of_other and re-deriving roa_coverage from the chain of
// ancestor ROAs whose max_len covers this (longer) prefix, spec.md §4.3.1.
func (c *Cache) attachFreshPayload(nodeID trie.ID) *PCPrefix {
	pcp := newPCPrefix()
	if pid, ok := c.trie.ParentWithPayload(nodeID); ok {
		pcp.StateOfOther = c.trie.Payload(pid).StateOfOther
	}
	pcp.RoaCoverage = c.computeInheritedCoverage(nodeID)
	c.trie.SetPayload(nodeID, pcp)
	return pcp
}

func (c *Cache) computeInheritedCoverage(nodeID trie.ID) uint32 {
	nodeLen := uint8(c.trie.Prefix(nodeID).Bits())
	var total uint32
	cur := nodeID
	for {
		pid, ok := c.trie.ParentWithPayload(cur)
		if !ok {
			break
		}
		anc := c.trie.Payload(pid)
		for _, as := range anc.AsSet {
			for _, roa := range as.Roas {
				if roa.MaxLen >= nodeLen {
					total += roa.RoaCount
				}
			}
		}
		cur = pid
	}
	return total
}

// RequestUpdateValidation interns (update_id, prefix, origin_asn) into the
// Prefix Cache and returns its immediate ROA result, spec.md §4.3.1.
func (c *Cache) RequestUpdateValidation(updateID uint32, prefix netip.Prefix, origin uint32) result.Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix = prefix.Masked()
	nodeID, created := c.trie.InsertOrGet(prefix)
	pcp := c.trie.Payload(nodeID)
	if pcp == nil {
		pcp = c.attachFreshPayload(nodeID)
	}
	_ = created

	pu := &PCUpdate{UpdateID: updateID, OriginASN: origin}

	nodeLen := uint8(prefix.Bits())
	cur := nodeID
	for {
		curPcp := c.trie.Payload(cur)
		if curPcp == nil || curPcp.RoaCoverage == 0 {
			break
		}
		if as, ok := curPcp.AsSet[origin]; ok {
			for _, roa := range as.Roas {
				if roa.MaxLen >= nodeLen {
					pu.RoaMatch += roa.RoaCount
					roa.UpdateCount++
				}
			}
		}
		pid, ok := c.trie.ParentWithPayload(cur)
		if !ok {
			break
		}
		cur = pid
	}

	var v result.Value
	if pu.RoaMatch > 0 {
		pcp.Valid[updateID] = pu
		v = result.Valid
	} else {
		pcp.Other[updateID] = pu
		v = pcp.StateOfOther
	}
	c.byID[updateID] = updateLoc{node: nodeID, pu: pu}
	return v
}

// AddROA installs one ROA (origin_asn, prefix, max_len) sourced from
// cache_id and propagates the resulting ROA-coverage change to every
// interned update at or below prefix, spec.md §4.3.2.
func (c *Cache) AddROA(origin uint32, prefix netip.Prefix, maxLen uint8, cacheID uint32) {
	if isReservedASN(origin) {
		c.log.Info().Uint32("origin_asn", origin).Msg("ignoring ROA for reserved ASN")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix = prefix.Masked()
	nodeID, _ := c.trie.InsertOrGet(prefix)
	pcp := c.trie.Payload(nodeID)
	if pcp == nil {
		pcp = c.attachFreshPayload(nodeID)
	}

	as, ok := pcp.AsSet[origin]
	if !ok {
		as = &PCAS{ASN: origin, Roas: make(map[roaKey]*PCROA)}
		pcp.AsSet[origin] = as
	}
	key := roaKey{CacheID: cacheID, MaxLen: maxLen}
	roa, ok := as.Roas[key]
	if !ok {
		roa = &PCROA{OriginASN: origin, MaxLen: maxLen, CacheID: cacheID}
		as.Roas[key] = roa
	}
	roa.RoaCount++

	c.verifyUpdates(nodeID, roa, origin)
}

// verifyUpdates is the recursive propagation step of AddROA, spec.md §4.3.2.
func (c *Cache) verifyUpdates(nodeID trie.ID, roa *PCROA, origin uint32) {
	pcp := c.trie.Payload(nodeID)
	if pcp == nil {
		return
	}
	nodeLen := uint8(c.trie.Prefix(nodeID).Bits())

	if nodeLen <= roa.MaxLen {
		pcp.RoaCoverage++
		for _, pu := range pcp.Valid {
			if pu.OriginASN == origin {
				pu.RoaMatch++
				roa.UpdateCount++
			}
		}
		for uid, pu := range pcp.Other {
			if pu.OriginASN != origin {
				continue
			}
			pu.RoaMatch++
			roa.UpdateCount++
			delete(pcp.Other, uid)
			pcp.Valid[uid] = pu
			c.notify(uid, result.Valid)
		}
		if pcp.StateOfOther == result.NotFound {
			pcp.StateOfOther = result.Invalid
			for uid := range pcp.Other {
				c.notify(uid, result.Invalid)
			}
		}
	} else {
		if pcp.StateOfOther == result.NotFound {
			pcp.StateOfOther = result.Invalid
			for uid := range pcp.Other {
				c.notify(uid, result.Invalid)
			}
		}
	}

	for _, child := range c.trie.ChildrenWithPayload(nodeID) {
		c.verifyUpdates(child, roa, origin)
	}
}

// DelROA withdraws one copy of a previously installed ROA and propagates
// the resulting ROA-coverage change, spec.md §4.3.3.
func (c *Cache) DelROA(origin uint32, prefix netip.Prefix, maxLen uint8, cacheID uint32) {
	if isReservedASN(origin) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delROALocked(origin, prefix, maxLen, cacheID)
}

// delROALocked is DelROA's body, callable with c.mu already held (used by
// EndResync to process several withdrawals under one lock acquisition).
func (c *Cache) delROALocked(origin uint32, prefix netip.Prefix, maxLen uint8, cacheID uint32) {
	prefix = prefix.Masked()
	nodeID, ok := c.trie.Get(prefix)
	if !ok {
		c.log.Warn().Str("prefix", prefix.String()).Msg("withdrawal for unknown prefix")
		return
	}
	pcp := c.trie.Payload(nodeID)
	if pcp == nil {
		c.log.Warn().Str("prefix", prefix.String()).Msg("withdrawal for prefix with no ROAs")
		return
	}
	as, ok := pcp.AsSet[origin]
	if !ok {
		c.log.Warn().Uint32("origin_asn", origin).Msg("withdrawal for unknown origin")
		return
	}
	key := roaKey{CacheID: cacheID, MaxLen: maxLen}
	roa, ok := as.Roas[key]
	if !ok {
		c.log.Warn().Msg("withdrawal for unknown ROA")
		return
	}

	parentState := result.NotFound
	if pid, ok := c.trie.ParentWithPayload(nodeID); ok {
		parentState = c.trie.Payload(pid).StateOfOther
	}
	c.revalidateUpdates(nodeID, roa, origin, parentState)

	if roa.RoaCount == 0 {
		c.log.Error().Msg("roa_count underflow on withdrawal")
	} else {
		roa.RoaCount--
	}
	if roa.RoaCount == 0 {
		delete(as.Roas, key)
	}
	if len(as.Roas) == 0 && as.UpdateCount == 0 {
		delete(pcp.AsSet, origin)
	}
	if len(pcp.AsSet) == 0 && len(pcp.Valid) == 0 && len(pcp.Other) == 0 {
		c.trie.ClearPayload(nodeID)
	}
}

// revalidateUpdates is the recursive propagation step of DelROA, spec.md §4.3.3.
func (c *Cache) revalidateUpdates(nodeID trie.ID, roa *PCROA, origin uint32, parentState result.Value) {
	pcp := c.trie.Payload(nodeID)
	if pcp == nil {
		return
	}
	nodeLen := uint8(c.trie.Prefix(nodeID).Bits())

	if nodeLen <= roa.MaxLen {
		if pcp.RoaCoverage == 0 {
			c.log.Error().Msg("roa_coverage underflow on withdrawal")
		} else {
			pcp.RoaCoverage--
		}
		if parentState == result.NotFound && pcp.RoaCoverage == 0 {
			pcp.StateOfOther = result.NotFound
			for uid := range pcp.Other {
				c.notify(uid, result.NotFound)
			}
		}
		for uid, pu := range pcp.Valid {
			if pu.OriginASN != origin {
				continue
			}
			if pu.RoaMatch == 0 {
				c.log.Error().Msg("roa_match underflow on withdrawal")
				continue
			}
			pu.RoaMatch--
			if pu.RoaMatch == 0 {
				delete(pcp.Valid, uid)
				pcp.Other[uid] = pu
				c.notify(uid, pcp.StateOfOther)
				if roa.RoaCount == 1 {
					roa.UpdateCount--
				}
			}
		}
	} else {
		if pcp.RoaCoverage == 0 && parentState == result.NotFound {
			pcp.StateOfOther = result.NotFound
			for uid := range pcp.Other {
				c.notify(uid, result.NotFound)
			}
		}
	}

	for _, child := range c.trie.ChildrenWithPayload(nodeID) {
		c.revalidateUpdates(child, roa, origin, pcp.StateOfOther)
	}
}

// RemoveUpdate detaches a reaped update from the Prefix Cache, undoing the
// roa_match/update_count bookkeeping RequestUpdateValidation accrued for it.
// Not a named spec.md operation; it closes the bookkeeping loop implied by
// the PC_ROA/PC_AS invariants when an update leaves the Update Cache.
func (c *Cache) RemoveUpdate(updateID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loc, ok := c.byID[updateID]
	if !ok {
		return
	}
	delete(c.byID, updateID)

	pcp := c.trie.Payload(loc.node)
	if pcp == nil {
		return
	}
	delete(pcp.Valid, updateID)
	delete(pcp.Other, updateID)

	nodeLen := uint8(c.trie.Prefix(loc.node).Bits())
	cur := loc.node
	for {
		curPcp := c.trie.Payload(cur)
		if curPcp == nil || curPcp.RoaCoverage == 0 {
			break
		}
		if as, ok := curPcp.AsSet[loc.pu.OriginASN]; ok {
			for _, roa := range as.Roas {
				if roa.MaxLen >= nodeLen && roa.UpdateCount > 0 {
					roa.UpdateCount--
				}
			}
		}
		pid, ok := c.trie.ParentWithPayload(cur)
		if !ok {
			break
		}
		cur = pid
	}
}

// NodeCount returns the node count, for diagnostics and tests.
func (c *Cache) NodeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trie.NodeCount()
}

// allPCROAs walks every materialized trie node and yields every PCROA
// belonging to cacheID, for the resync operations below. Must be called
// with c.mu held.
func (c *Cache) allPCROAs(cacheID uint32, visit func(prefix netip.Prefix, origin uint32, roa *PCROA)) {
	for id := trie.ID(0); int(id) < c.trie.NodeCount(); id++ {
		pcp := c.trie.Payload(id)
		if pcp == nil {
			continue
		}
		for _, as := range pcp.AsSet {
			for _, roa := range as.Roas {
				if roa.CacheID == cacheID {
					visit(c.trie.Prefix(id), as.ASN, roa)
				}
			}
		}
	}
}

// BeginResync marks every PCROA sourced from cacheID with its current
// roa_count as deferred_count, spec.md §9's reconnect-resync bookkeeping:
// a cache session reset should not flap validation results mid-resync.
// Call when the RTR session for cacheID starts a new serial (connect or
// cache-reset).
func (c *Cache) BeginResync(cacheID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allPCROAs(cacheID, func(_ netip.Prefix, _ uint32, roa *PCROA) {
		roa.DeferredCount = roa.RoaCount
	})
}

// ConfirmROA re-announces a ROA during an in-progress resync: if it matches
// a deferred entry, the deferral is simply cleared (the whitelist entry
// survives unchanged); otherwise it behaves like a fresh AddROA.
func (c *Cache) ConfirmROA(origin uint32, prefix netip.Prefix, maxLen uint8, cacheID uint32) {
	if isReservedASN(origin) {
		return
	}
	prefix = prefix.Masked()

	c.mu.Lock()
	if nodeID, ok := c.trie.Get(prefix); ok {
		if pcp := c.trie.Payload(nodeID); pcp != nil {
			if as, ok := pcp.AsSet[origin]; ok {
				if roa, ok := as.Roas[roaKey{CacheID: cacheID, MaxLen: maxLen}]; ok && roa.DeferredCount > 0 {
					roa.DeferredCount = 0
					c.mu.Unlock()
					return
				}
			}
		}
	}
	c.mu.Unlock()

	c.AddROA(origin, prefix, maxLen, cacheID)
}

// EndResync withdraws every PCROA from cacheID that was not reconfirmed
// (ConfirmROA'd) since the matching BeginResync, spec.md §9: "after
// synchronization is done the ROA-count needs to be removed by the number
// of deferred_count." Call when the RTR feed signals end_of_data.
func (c *Cache) EndResync(cacheID uint32) {
	type stale struct {
		prefix netip.Prefix
		origin uint32
		maxLen uint8
		count  uint32
	}

	c.mu.Lock()
	var list []stale
	c.allPCROAs(cacheID, func(prefix netip.Prefix, origin uint32, roa *PCROA) {
		if roa.DeferredCount > 0 {
			list = append(list, stale{prefix, origin, roa.MaxLen, roa.DeferredCount})
		}
	})
	for _, s := range list {
		for i := uint32(0); i < s.count; i++ {
			c.delROALocked(s.origin, s.prefix, s.maxLen, cacheID)
		}
	}
	c.mu.Unlock()
}
