package prefixcache

import "github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"

// PCROA is one installed whitelist entry, keyed within a PCAS by
// (cache_id, max_len); roa_count counts repeated announcements of the same
// entry from the same RPKI cache so they share one PCROA, spec.md §3.
type PCROA struct {
	OriginASN     uint32
	MaxLen        uint8
	CacheID       uint32
	RoaCount      uint32
	DeferredCount uint32 // RTR reconnect bookkeeping, spec.md "supplemented features"
	UpdateCount   uint32
}

type roaKey struct {
	CacheID uint32
	MaxLen  uint8
}

// PCAS groups every PCROA announced for one origin ASN at a PCPrefix node.
type PCAS struct {
	ASN         uint32
	UpdateCount uint32
	Roas        map[roaKey]*PCROA
}

// PCUpdate is the Prefix Cache's view of one Update Cache entry.
type PCUpdate struct {
	UpdateID  uint32
	OriginASN uint32
	RoaMatch  uint32
}

// PCPrefix is the payload attached to a trie node, spec.md §3.
type PCPrefix struct {
	RoaCoverage  uint32
	StateOfOther result.Value // NotFound or Invalid
	AsSet        map[uint32]*PCAS
	Valid        map[uint32]*PCUpdate
	Other        map[uint32]*PCUpdate
}

func newPCPrefix() *PCPrefix {
	return &PCPrefix{
		StateOfOther: result.NotFound,
		AsSet:        make(map[uint32]*PCAS),
		Valid:        make(map[uint32]*PCUpdate),
		Other:        make(map[uint32]*PCUpdate),
	}
}

// isReservedASN reports whether asn is in one of the RFC 5398 documentation
// ranges; ROAs for such origins are silently ignored, spec.md §3/§4.3.4.
func isReservedASN(asn uint32) bool {
	return (asn >= 64496 && asn <= 64511) || (asn >= 65536 && asn <= 65551)
}
