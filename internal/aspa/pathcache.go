package aspa

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
)

// pathEntry is the cache's mutable record, spec.md §3 "AS_PATH_ENTRY" plus
// the reverse index of updates currently relying on its cached result.
type pathEntry struct {
	Entry
	refs map[uint32]struct{}
}

// PathCache is the AS-Path Cache of spec.md §4.4.1: interns AS paths so an
// identical (as_path, as_type) across many updates shares one entry and one
// cached result.
type PathCache struct {
	mu      sync.Mutex
	entries map[uint64]*pathEntry
}

// NewPathCache returns an empty AS-Path Cache.
func NewPathCache() *PathCache {
	return &PathCache{entries: make(map[uint64]*pathEntry)}
}

// PathID is deterministic from (as_path, as_type), spec.md §4.4.1.
func PathID(path []uint32, asType ASType) uint64 {
	buf := make([]byte, 0, 4*len(path)+1)
	for _, asn := range path {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], asn)
		buf = append(buf, tmp[:]...)
	}
	buf = append(buf, byte(asType))
	return xxhash.Sum64(buf)
}

// Intern finds or creates the AS_PATH_ENTRY for path, recording updateID as
// one of its referencing updates so a later result change can be attributed
// back to every update sharing this path.
func (pc *PathCache) Intern(path []uint32, asType ASType, relDir Direction, afi AFI, updateID uint32) (pathID uint64, e Entry, created bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	id := PathID(path, asType)
	pe, ok := pc.entries[id]
	if !ok {
		pe = &pathEntry{
			Entry: Entry{
				PathID:     id,
				ASPath:     append([]uint32(nil), path...),
				ASType:     asType,
				RelDir:     relDir,
				AFI:        afi,
				ASPAResult: result.Undefined,
			},
			refs: make(map[uint32]struct{}),
		}
		pc.entries[id] = pe
		created = true
	}
	pe.refs[updateID] = struct{}{}
	return id, pe.Entry, created
}

// Unreference detaches updateID from pathID's reverse index, called when the
// Update Cache reaps that update.
func (pc *PathCache) Unreference(pathID uint64, updateID uint32) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pe, ok := pc.entries[pathID]; ok {
		delete(pe.refs, updateID)
	}
}

// Get returns a snapshot of the entry for pathID.
func (pc *PathCache) Get(pathID uint64) (Entry, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pe, ok := pc.entries[pathID]
	if !ok {
		return Entry{}, false
	}
	return pe.Entry, true
}

// updateResult stores a freshly computed result for pathID at modifiedAt and
// returns whether it changed along with the update IDs currently referencing
// it, so the caller can emit one ASPA event per affected update, spec.md
// §4.4.2/§4.4.3.
func (pc *PathCache) updateResult(pathID uint64, v result.Value, modifiedAt time.Time) (changed bool, refs []uint32) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pe, ok := pc.entries[pathID]
	if !ok {
		return false, nil
	}
	changed = pe.ASPAResult != v
	pe.ASPAResult = v
	pe.LastModified = modifiedAt
	for uid := range pe.refs {
		refs = append(refs, uid)
	}
	return changed, refs
}

// stalePaths returns every path_id with last_modified before cutoff that
// still has at least one referencing update, spec.md §4.4.3.
func (pc *PathCache) stalePaths(cutoff time.Time) []uint64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	var ids []uint64
	for id, pe := range pc.entries {
		if len(pe.refs) > 0 && pe.LastModified.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
