package prefixcache

import (
	"net/netip"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
)

func pfx(s string) netip.Prefix { return netip.MustParsePrefix(s) }

type collector struct {
	events map[uint32]result.Value
}

func newCollector() *collector { return &collector{events: make(map[uint32]result.Value)} }

func (c *collector) OnROAResult(id uint32, v result.Value) { c.events[id] = v }

func TestNotFoundBeforeAnyROA(t *testing.T) {
	c := New(zerolog.Nop(), NopListener{})
	v := c.RequestUpdateValidation(1, pfx("10.0.0.0/24"), 65000)
	require.Equal(t, result.NotFound, v)
}

func TestOriginValidatesAgainstInstalledROA(t *testing.T) {
	c := New(zerolog.Nop(), NopListener{})
	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1)

	v := c.RequestUpdateValidation(1, pfx("10.0.0.0/24"), 65000)
	require.Equal(t, result.Valid, v)
}

func TestOriginMismatchIsInvalidNotNotFound(t *testing.T) {
	c := New(zerolog.Nop(), NopListener{})
	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1)

	// a ROA exists for this prefix but the announced origin differs
	v := c.RequestUpdateValidation(2, pfx("10.0.0.0/24"), 65001)
	require.Equal(t, result.Invalid, v)
}

func TestMaxLenTooShortMakesOtherInvalid(t *testing.T) {
	c := New(zerolog.Nop(), NopListener{})
	c.AddROA(65000, pfx("10.0.0.0/16"), 20, 1)

	// /24 exceeds the ROA's max_len of /20, so the ROA does not validate it,
	// but the covering /16 still makes it Invalid rather than NotFound
	v := c.RequestUpdateValidation(3, pfx("10.0.0.0/24"), 65000)
	require.Equal(t, result.Invalid, v)
}

func TestROAArrivalAfterUpdateFlipsNotFoundToInvalid(t *testing.T) {
	col := newCollector()
	c := New(zerolog.Nop(), col)

	v := c.RequestUpdateValidation(4, pfx("10.0.0.0/24"), 65001)
	require.Equal(t, result.NotFound, v)

	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1)
	require.Equal(t, result.Invalid, col.events[4])
}

func TestROAArrivalAfterUpdateFlipsOtherToValidOnOriginMatch(t *testing.T) {
	col := newCollector()
	c := New(zerolog.Nop(), col)

	v := c.RequestUpdateValidation(5, pfx("10.0.0.0/24"), 65000)
	require.Equal(t, result.NotFound, v)

	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1)
	require.Equal(t, result.Valid, col.events[5])
}

func TestWithdrawROARevertsValidToNotFound(t *testing.T) {
	col := newCollector()
	c := New(zerolog.Nop(), col)

	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1)
	v := c.RequestUpdateValidation(6, pfx("10.0.0.0/24"), 65000)
	require.Equal(t, result.Valid, v)

	c.DelROA(65000, pfx("10.0.0.0/16"), 24, 1)
	require.Equal(t, result.NotFound, col.events[6])
}

func TestWithdrawROALeavesOtherROAsIntact(t *testing.T) {
	col := newCollector()
	c := New(zerolog.Nop(), col)

	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1) // cache 1
	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 2) // cache 2, same coverage

	v := c.RequestUpdateValidation(7, pfx("10.0.0.0/24"), 65000)
	require.Equal(t, result.Valid, v)

	c.DelROA(65000, pfx("10.0.0.0/16"), 24, 1)
	// cache 2's ROA still covers: no NotFound notification should fire
	_, notified := col.events[7]
	require.False(t, notified)
}

func TestRepeatedROAFromSameCacheDeduplicatesViaRoaCount(t *testing.T) {
	c := New(zerolog.Nop(), NopListener{})
	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1)
	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1) // identical (cache_id, max_len): same PCROA

	nodeID, ok := c.trie.Get(pfx("10.0.0.0/16"))
	require.True(t, ok)
	pcp := c.trie.Payload(nodeID)
	as := pcp.AsSet[65000]
	require.Len(t, as.Roas, 1)
	require.Equal(t, uint32(2), as.Roas[roaKey{CacheID: 1, MaxLen: 24}].RoaCount)
}

func TestReservedASNROAIsIgnored(t *testing.T) {
	c := New(zerolog.Nop(), NopListener{})
	c.AddROA(64500, pfx("10.0.0.0/16"), 24, 1) // inside RFC 5398 range

	v := c.RequestUpdateValidation(8, pfx("10.0.0.0/24"), 64500)
	require.Equal(t, result.NotFound, v)
}

func TestRemoveUpdateDetachesBookkeeping(t *testing.T) {
	c := New(zerolog.Nop(), NopListener{})
	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1)
	c.RequestUpdateValidation(9, pfx("10.0.0.0/24"), 65000)

	nodeID, _ := c.trie.Get(pfx("10.0.0.0/16"))
	roa := c.trie.Payload(nodeID).AsSet[65000].Roas[roaKey{CacheID: 1, MaxLen: 24}]
	require.Equal(t, uint32(1), roa.UpdateCount)

	c.RemoveUpdate(9)
	require.Equal(t, uint32(0), roa.UpdateCount)

	leafID, _ := c.trie.Get(pfx("10.0.0.0/24"))
	leaf := c.trie.Payload(leafID)
	require.NotContains(t, leaf.Valid, uint32(9))
}

func TestResyncKeepsReconfirmedROAAndDropsStale(t *testing.T) {
	col := newCollector()
	c := New(zerolog.Nop(), col)

	c.AddROA(65000, pfx("10.0.0.0/16"), 24, 1)
	c.AddROA(65000, pfx("10.0.1.0/24"), 24, 1) // will NOT be reconfirmed this cycle
	c.RequestUpdateValidation(10, pfx("10.0.0.0/24"), 65000)

	c.BeginResync(1)
	c.ConfirmROA(65000, pfx("10.0.0.0/16"), 24, 1) // reconfirmed, survives
	c.EndResync(1)                                 // the /24 ROA was never reconfirmed: removed

	nodeID, ok := c.trie.Get(pfx("10.0.0.0/16"))
	require.True(t, ok)
	roa := c.trie.Payload(nodeID).AsSet[65000].Roas[roaKey{CacheID: 1, MaxLen: 24}]
	require.Equal(t, uint32(1), roa.RoaCount)
	require.Equal(t, uint32(0), roa.DeferredCount)

	// the reconfirmed ROA still validates a fresh update for the same /24
	v := c.RequestUpdateValidation(11, pfx("10.0.0.0/24"), 65000)
	require.Equal(t, result.Valid, v)

	leafNode, ok := c.trie.Get(pfx("10.0.1.0/24"))
	require.True(t, ok)
	require.Nil(t, c.trie.Payload(leafNode))
}
