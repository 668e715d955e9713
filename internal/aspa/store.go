package aspa

import (
	"sync"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
)

// Store is the ASPA object table, indexed by customer_asn and then by AFI
// so a customer may carry independent IPv4/IPv6 provider sets, spec.md §3.
type Store struct {
	mu      sync.RWMutex
	objects map[uint32]map[AFI]*Object
}

// NewStore returns an empty ASPA store.
func NewStore() *Store {
	return &Store{objects: make(map[uint32]map[AFI]*Object)}
}

// Add installs or replaces the ASPA object for (customerASN, afi).
func (s *Store) Add(customerASN uint32, providers []uint32, afi AFI) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAFI, ok := s.objects[customerASN]
	if !ok {
		byAFI = make(map[AFI]*Object)
		s.objects[customerASN] = byAFI
	}
	set := make(map[uint32]struct{}, len(providers))
	for _, p := range providers {
		set[p] = struct{}{}
	}
	byAFI[afi] = &Object{CustomerASN: customerASN, Providers: set, AFI: afi}
}

// Remove withdraws the ASPA object for (customerASN, afi), if any.
func (s *Store) Remove(customerASN uint32, afi AFI) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAFI, ok := s.objects[customerASN]
	if !ok {
		return
	}
	delete(byAFI, afi)
	if len(byAFI) == 0 {
		delete(s.objects, customerASN)
	}
}

// Check is aspa_check(customer, provider, afi), spec.md §4.4.2.
func (s *Store) Check(customer, provider uint32, afi AFI) result.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAFI, ok := s.objects[customer]
	if !ok {
		return result.Unknown
	}
	obj, ok := byAFI[afi]
	if !ok {
		return result.Unknown
	}
	if _, ok := obj.Providers[provider]; ok {
		return result.Valid
	}
	return result.Invalid
}
