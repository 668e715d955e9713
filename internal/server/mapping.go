package server

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// MaxSlot is the highest usable slot ID, spec.md §3 "slot 1..254, slot 0
// reserved". Slot IDs are a single byte on the wire.
const MaxSlot = 254

// ProxyClientMapping is one entry of the slot→proxy mapping table, spec.md
// §3. Slot IDs are stable for the connection lifetime and only become
// reusable once keep_window has elapsed without reconnection.
type ProxyClientMapping struct {
	ProxyID       uint32
	Conn          net.Conn
	IsActive      bool
	PreDefined    bool // came from config's mapping_routerID, not dynamic allocation
	CrashedAt     time.Time
	DeactivatedAt time.Time
	KeepWindow    time.Duration
	UpdateCount   int
}

// MappingTable is the sole authority for "which socket gets this
// notification", spec.md §4.6. Slot 0 is never assigned.
type MappingTable struct {
	mu    sync.RWMutex
	slots [MaxSlot + 1]*ProxyClientMapping // index 0 unused
}

// NewMappingTable returns an empty table, optionally pre-seeding static
// slot→proxy_id bindings from config (`mapping_routerID`, spec.md §6.4).
func NewMappingTable(staticBindings [256]uint32) *MappingTable {
	t := &MappingTable{}
	for slot, proxyID := range staticBindings {
		if slot == 0 || proxyID == 0 {
			continue
		}
		t.slots[slot] = &ProxyClientMapping{ProxyID: proxyID, PreDefined: true}
	}
	return t
}

// findByProxyID returns the slot number bound to proxyID, or 0 if none.
// Caller must hold t.mu.
func (t *MappingTable) findByProxyID(proxyID uint32) uint16 {
	for slot := 1; slot <= MaxSlot; slot++ {
		if m := t.slots[slot]; m != nil && m.ProxyID == proxyID {
			return uint16(slot)
		}
	}
	return 0
}

// Allocate binds conn to a slot for proxyID, spec.md §4.6's HELLO handling.
// proxyID == 0 allocates the first free slot. A nonzero proxyID rebinds an
// existing inactive (pre-defined or previously-disconnected) slot if one
// matches, or allocates a new slot. ErrDuplicateProxyID is returned if
// proxyID is already bound to an active slot; ErrTooManyProxies if no slot
// is free.
func (t *MappingTable) Allocate(proxyID uint32, conn net.Conn) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if proxyID != 0 {
		if slot := t.findByProxyID(proxyID); slot != 0 {
			m := t.slots[slot]
			if m.IsActive {
				return 0, ErrDuplicateProxyID
			}
			m.Conn = conn
			m.IsActive = true
			m.CrashedAt = time.Time{}
			m.DeactivatedAt = time.Time{}
			return slot, nil
		}
	}

	for slot := 1; slot <= MaxSlot; slot++ {
		if t.slots[slot] == nil {
			id := proxyID
			t.slots[slot] = &ProxyClientMapping{ProxyID: id, Conn: conn, IsActive: true}
			return uint16(slot), nil
		}
	}
	return 0, ErrTooManyProxies
}

// Deactivate marks slot inactive. crashed selects whether this was a clean
// Goodbye (false) or a read error/peer reset (true), spec.md §4.6. keepWindow
// is the negotiated window (requested by the proxy, or the server default)
// after which ReapExpired may reclaim the slot.
func (t *MappingTable) Deactivate(slot uint16, crashed bool, keepWindow time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.slots[slot]
	if m == nil {
		return
	}
	m.IsActive = false
	m.Conn = nil
	m.DeactivatedAt = time.Now()
	m.KeepWindow = keepWindow
	if crashed {
		m.CrashedAt = time.Now()
	}
}

// Release frees slot entirely once keep_window has elapsed, making it
// reusable. Pre-defined slots are never released, only deactivated.
func (t *MappingTable) Release(slot uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(slot)
}

// releaseLocked is Release's body; caller must hold t.mu.
func (t *MappingTable) releaseLocked(slot uint16) {
	if m := t.slots[slot]; m != nil && !m.PreDefined {
		t.slots[slot] = nil
	}
}

// ReapExpired releases, via releaseLocked, every deactivated slot whose
// keep_window has elapsed since deactivation, spec.md §4.6 "become reusable
// only after keep_window has elapsed without reconnection". It returns the
// released slot IDs for logging.
func (t *MappingTable) ReapExpired(now time.Time) []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var released []uint16
	for slot := 1; slot <= MaxSlot; slot++ {
		m := t.slots[slot]
		if m == nil || m.IsActive || m.PreDefined {
			continue
		}
		if m.DeactivatedAt.IsZero() || now.Sub(m.DeactivatedAt) < m.KeepWindow {
			continue
		}
		t.releaseLocked(uint16(slot))
		released = append(released, uint16(slot))
	}
	return released
}

// Lookup returns a snapshot of slot's mapping.
func (t *MappingTable) Lookup(slot uint16) (ProxyClientMapping, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.slots[slot]
	if m == nil {
		return ProxyClientMapping{}, false
	}
	return *m, true
}

// ActiveConn returns slot's live connection, or nil if the slot is unknown
// or currently inactive (crashed-but-within-keep-window), spec.md §4.6
// "Inactive mappings are skipped".
func (t *MappingTable) ActiveConn(slot uint16) net.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.slots[slot]
	if m == nil || !m.IsActive {
		return nil
	}
	return m.Conn
}

// ErrDuplicateProxyID and ErrTooManyProxies map directly onto wire.Error
// codes in the HELLO handler.
var (
	ErrDuplicateProxyID = fmt.Errorf("server: proxy_id already bound to an active slot")
	ErrTooManyProxies   = fmt.Errorf("server: no free client slot")
)
