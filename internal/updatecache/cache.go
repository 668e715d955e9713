// Package updatecache implements the Update Cache of spec.md §4.2: a
// fingerprinted, deduplicating store of in-flight BGP updates, their
// subscribed client slots, and their validation results.
package updatecache

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/wire"
)

// Lifecycle is an Update's subscription lifecycle state, spec.md §3.
type Lifecycle int

const (
	Active Lifecycle = iota
	Zombie
)

// Update is a read-only snapshot of an Update Cache entry, spec.md §3.
type Update struct {
	ID              uint32
	Prefix          netip.Prefix
	OriginASN       uint32
	BGPsec          wire.BGPsecData
	PathID          uint64
	Default         result.Triple
	Current         result.Triple
	Lifecycle       Lifecycle
	ZombieExpiresAt time.Time
}

// entry is the cache's internal, mutable representation.
type entry struct {
	Update
	clients map[uint16]struct{}
}

// ChangeListener is notified when a stored update's result changes.
// Implementations must not call back into the Update Cache synchronously
// from this method (spec.md §5: the callback runs without the cache lock
// held, but re-entrancy into the same lock from within it would still
// deadlock).
type ChangeListener interface {
	OnUpdateResultChanged(u Update, clients []uint16)
}

// NopListener discards all change notifications; useful in tests.
type NopListener struct{}

func (NopListener) OnUpdateResultChanged(Update, []uint16) {}

// StoreOutcome is the result of Store: either the update was freshly
// created, or an identical payload already existed under final ID.
type StoreOutcome struct {
	ID      uint32
	Created bool
}

// Cache is the Update Cache.
type Cache struct {
	log      zerolog.Logger
	listener ChangeListener

	mu      sync.RWMutex
	byID    map[uint32]*entry
	lockedC map[uint16]struct{} // slots currently mid bulk-unregister
}

// New returns an empty Update Cache notifying listener on result changes.
func New(log zerolog.Logger, listener ChangeListener) *Cache {
	if listener == nil {
		listener = NopListener{}
	}
	return &Cache{
		log:      log.With().Str("component", "update_cache").Logger(),
		listener: listener,
		byID:     make(map[uint32]*entry),
		lockedC:  make(map[uint16]struct{}),
	}
}

// Fingerprint computes the deterministic 32-bit UpdateID seed for
// (origin_asn, prefix, as_path, bgpsec_attribute), spec.md §3.
func Fingerprint(origin uint32, prefix netip.Prefix, bgpsec wire.BGPsecData) uint32 {
	var buf []byte
	var tmp [4]byte

	binary.BigEndian.PutUint32(tmp[:], origin)
	buf = append(buf, tmp[:]...)

	addr := prefix.Addr()
	buf = append(buf, addr.AsSlice()...)
	buf = append(buf, byte(prefix.Bits()))

	buf = bgpsec.Encode(buf)

	sum := xxhash.Sum64(buf)
	return uint32(sum) ^ uint32(sum>>32)
}

func samePayload(e *entry, prefix netip.Prefix, origin uint32, bgpsec wire.BGPsecData) bool {
	return e.Prefix == prefix &&
		e.OriginASN == origin &&
		e.BGPsec.AFI == bgpsec.AFI &&
		e.BGPsec.SAFI == bgpsec.SAFI &&
		e.BGPsec.LocalAS == bgpsec.LocalAS &&
		slices.Equal(e.BGPsec.ASPath, bgpsec.ASPath) &&
		bytes.Equal(e.BGPsec.PathAttr, bgpsec.PathAttr)
}

// CollisionCheck reports whether an entry with id exists whose payload
// differs from the probe, per spec.md §4.2.
func (c *Cache) CollisionCheck(id uint32, prefix netip.Prefix, origin uint32, bgpsec wire.BGPsecData) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok {
		return false
	}
	return !samePayload(e, prefix, origin, bgpsec)
}

// Store inserts a new update under proposedID, or reports that an identical
// payload is already present. If proposedID still collides with a
// different payload (the caller should have resolved this via
// CollisionCheck first) Store keeps incrementing defensively so two
// distinct updates are never conflated.
func (c *Cache) Store(proposedID uint32, prefix netip.Prefix, origin uint32, bgpsec wire.BGPsecData, def result.Triple, clientSlot uint16) StoreOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := proposedID
	for {
		e, exists := c.byID[id]
		if !exists {
			break
		}
		if samePayload(e, prefix, origin, bgpsec) {
			return StoreOutcome{ID: id, Created: false}
		}
		id++
	}

	bgpsec.PathAttr = append([]byte(nil), bgpsec.PathAttr...)
	bgpsec.ASPath = append([]uint32(nil), bgpsec.ASPath...)

	e := &entry{
		Update: Update{
			ID:        id,
			Prefix:    prefix,
			OriginASN: origin,
			BGPsec:    bgpsec,
			Default:   def,
			Current:   def,
			Lifecycle: Active,
		},
		clients: map[uint16]struct{}{clientSlot: {}},
	}
	c.byID[id] = e
	return StoreOutcome{ID: id, Created: true}
}

// Lookup returns a snapshot of the update stored under id.
func (c *Cache) Lookup(id uint32) (Update, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok {
		return Update{}, false
	}
	return e.Update, true
}

// SetPathID records the AS-Path Cache identifier interned for this update.
func (c *Cache) SetPathID(id uint32, pathID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return false
	}
	e.PathID = pathID
	return true
}

// Subscribe attaches slot to update id, reviving a zombie entry if needed.
func (c *Cache) Subscribe(id uint32, slot uint16) bool {
	c.mu.Lock()
	e, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e.clients[slot] = struct{}{}
	e.Lifecycle = Active
	e.ZombieExpiresAt = time.Time{}
	c.mu.Unlock()
	return true
}

// Unsubscribe detaches slot from update id. If no subscribers remain the
// update becomes a Zombie retained until now+keepWindow.
func (c *Cache) Unsubscribe(id uint32, slot uint16, keepWindow time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return false
	}
	delete(e.clients, slot)
	if len(e.clients) == 0 {
		e.Lifecycle = Zombie
		e.ZombieExpiresAt = time.Now().Add(keepWindow)
	}
	return true
}

// ClientsOf returns the client slots currently subscribed to id.
func (c *Cache) ClientsOf(id uint32) []uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok {
		return nil
	}
	out := make([]uint16, 0, len(e.clients))
	for s := range e.clients {
		out = append(out, s)
	}
	return out
}

// ModifyResult applies a partial result update to id. Fields set to
// result.DoNotUse are left unchanged. A change fires OnUpdateResultChanged
// with the new full result and the currently subscribed clients; a no-op
// modify suppresses the notification. Returns false if id is unknown.
func (c *Cache) ModifyResult(id uint32, partial result.Partial) bool {
	c.mu.Lock()
	e, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return false
	}

	newTriple, changed := e.Current.Apply(partial)
	if !changed {
		c.mu.Unlock()
		return true
	}
	e.Current = newTriple
	snapshot := e.Update
	clients := make([]uint16, 0, len(e.clients))
	for s := range e.clients {
		clients = append(clients, s)
	}
	c.mu.Unlock()

	// invoked without the cache lock held, per spec.md §5
	c.listener.OnUpdateResultChanged(snapshot, clients)
	return true
}

// UnregisterClient detaches slot from every update it is subscribed to.
// Updates left with no subscribers become zombies retained for keepWindow.
// Returns the number of updates touched.
func (c *Cache) UnregisterClient(slot uint16, keepWindow time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lockedC[slot] = struct{}{}
	defer delete(c.lockedC, slot)

	count := 0
	now := time.Now()
	for _, e := range c.byID {
		if _, had := e.clients[slot]; !had {
			continue
		}
		delete(e.clients, slot)
		count++
		if len(e.clients) == 0 {
			e.Lifecycle = Zombie
			e.ZombieExpiresAt = now.Add(keepWindow)
		}
	}
	return count
}

// Reap removes zombie entries whose keep window has expired as of now,
// returning the number of entries removed.
func (c *Cache) Reap(now time.Time) int {
	return len(c.ReapExpired(now))
}

// ReapExpired removes zombie entries whose keep window has expired as of
// now, returning a snapshot of each so callers can release Prefix
// Cache/AS-Path Cache bookkeeping keyed by update_id/path_id.
func (c *Cache) ReapExpired(now time.Time) []Update {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []Update
	for id, e := range c.byID {
		if e.Lifecycle == Zombie && !e.ZombieExpiresAt.After(now) {
			removed = append(removed, e.Update)
			delete(c.byID, id)
		}
	}
	return removed
}

// Len returns the number of entries currently in the cache.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
