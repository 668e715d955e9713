// Package aspa implements the AS-Path Cache and ASPA validator of
// spec.md §4.4: interning AS paths so identical paths across updates share
// one cached result, and the up/downstream path-policy algorithm over a
// customer-ASN-indexed ASPA object store.
package aspa

import (
	"time"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
)

// ASType distinguishes a fully path-validatable AS_SEQUENCE from an
// AS_SET (or mixed) path, spec.md §3.
type ASType uint8

const (
	ASSequence ASType = iota
	ASSet
)

// Direction is the relationship of the peer the update was received from,
// spec.md §3.
type Direction uint8

const (
	UpStream Direction = iota
	DownStream
	UnknownStream
)

// AFI is the address family of the path being validated.
type AFI uint16

const (
	AFIv4 AFI = 1
	AFIv6 AFI = 2
)

// Object is one installed ASPA object: customer_asn authorizes every ASN in
// Providers to announce its routes onward, for the given AFI, spec.md §3.
type Object struct {
	CustomerASN uint32
	Providers   map[uint32]struct{}
	AFI         AFI
}

// Entry is one AS-Path Cache record, spec.md §3 "AS_PATH_ENTRY".
type Entry struct {
	PathID       uint64
	ASPath       []uint32
	ASType       ASType
	RelDir       Direction
	AFI          AFI
	ASPAResult   result.Value
	LastModified time.Time
}
