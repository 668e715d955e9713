package aspa

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
)

// resultBits mirrors the original implementation's accumulated bitmask
// (Valid contributes nothing, Invalid always short-circuits) so the final
// mapping in mapBits matches it hop for hop.
type resultBits uint8

const (
	bitUnknown      resultBits = 1 << iota // ASPA_RESULT_UNKNOWN
	bitUnverifiable                        // ASPA_RESULT_UNVERIFIABLE
)

func mapBits(b resultBits) result.Value {
	switch {
	case b == 0:
		return result.Valid
	case b&bitUnknown != 0 && b&bitUnverifiable == 0:
		return result.Unknown
	case b&bitUnverifiable != 0 && b&bitUnknown == 0:
		return result.Unverifiable
	case b&bitUnverifiable != 0 && b&bitUnknown != 0:
		return result.Unverifiable
	default:
		return result.Undefined
	}
}

// ChangeListener is notified when a path's cached ASPA result changes,
// carrying every update ID currently referencing that path, spec.md
// §4.4.2's "emit an ASPA change event ... keyed by affected update IDs".
type ChangeListener interface {
	OnASPAResultChanged(pathID uint64, v result.Value, updateIDs []uint32)
}

// NopListener discards change notifications; useful in tests.
type NopListener struct{}

func (NopListener) OnASPAResultChanged(uint64, result.Value, []uint32) {}

// Validator combines the ASPA store and AS-Path Cache into spec.md §4.4's
// validate/intern/end-of-data surface.
type Validator struct {
	log      zerolog.Logger
	store    *Store
	paths    *PathCache
	listener ChangeListener
}

// NewValidator returns a Validator over store, backed by a fresh AS-Path Cache.
func NewValidator(log zerolog.Logger, store *Store, listener ChangeListener) *Validator {
	if listener == nil {
		listener = NopListener{}
	}
	return &Validator{
		log:      log.With().Str("component", "aspa_validator").Logger(),
		store:    store,
		paths:    NewPathCache(),
		listener: listener,
	}
}

// evaluate runs the pre-check plus up/downstream algorithm of spec.md
// §4.4.2 over path (already reordered to originator-first).
func (v *Validator) evaluate(path []uint32, asType ASType, dir Direction, afi AFI) result.Value {
	var bits resultBits
	if asType != ASSequence {
		bits |= bitUnverifiable
	}

	n := len(path)
	if n < 2 {
		return mapBits(bits)
	}

	if dir == UpStream || dir == UnknownStream {
		for i := 0; i <= n-2; i++ {
			customer, provider := path[i], path[i+1]
			switch v.store.Check(customer, provider, afi) {
			case result.Invalid:
				return result.Invalid
			case result.Unknown:
				bits |= bitUnknown
			}
		}
		return mapBits(bits)
	}

	// Downstream (n >= 2 here; n == 1 already returned above)
	iMax := 0
	for i := 1; i <= n-2; i++ {
		if v.store.Check(path[i-1], path[i], afi) == result.Valid {
			iMax = i
			continue
		}
		break
	}
	k := iMax + 1
	if k == n-1 {
		return mapBits(bits)
	}

	jMax := 0
	for j := 1; j <= n-k-1; j++ {
		if v.store.Check(path[n-j], path[n-(j+1)], afi) == result.Valid {
			jMax = j
			continue
		}
		break
	}
	l := n - jMax

	if l-k <= 1 {
		return mapBits(bits)
	}

	u := 0
	for i := k; i <= l-2; i++ {
		if v.store.Check(path[i-1], path[i], afi) == result.Invalid {
			u = i
			break
		}
		bits |= bitUnknown
	}
	if u != 0 {
		for j := u + 1; j <= l-1; j++ {
			if v.store.Check(path[j], path[j-1], afi) == result.Invalid {
				return result.Invalid
			}
			bits |= bitUnknown
		}
	}
	return mapBits(bits)
}

// Validate interns path for updateID, evaluates it against the current ASPA
// store on every call (a path already in the cache is evaluated again, not
// answered from its cached result), stores the result back into the AS-Path
// Cache, and notifies the listener of every affected update when the cached
// result changes, spec.md §4.4.1/§4.4.2.
func (v *Validator) Validate(updateID uint32, path []uint32, asType ASType, dir Direction, afi AFI, now time.Time) result.Value {
	pathID, _, _ := v.paths.Intern(path, asType, dir, afi, updateID)
	val := v.evaluate(path, asType, dir, afi)
	if changed, refs := v.paths.updateResult(pathID, val, now); changed {
		v.listener.OnASPAResultChanged(pathID, val, refs)
	}
	return val
}

// RevalidateStale re-runs validation for every path last modified before
// cutoff that still has a referencing update, spec.md §4.4.3.
func (v *Validator) RevalidateStale(cutoff time.Time) {
	for _, pathID := range v.paths.stalePaths(cutoff) {
		e, ok := v.paths.Get(pathID)
		if !ok {
			continue
		}
		val := v.evaluate(e.ASPath, e.ASType, e.RelDir, e.AFI)
		if changed, refs := v.paths.updateResult(pathID, val, cutoff); changed {
			v.listener.OnASPAResultChanged(pathID, val, refs)
		}
	}
}

// Store exposes the underlying ASPA object store for RTR feed wiring.
func (v *Validator) Store() *Store { return v.store }

// Unreference detaches updateID from the path it was validated against.
func (v *Validator) Unreference(pathID uint64, updateID uint32) {
	v.paths.Unreference(pathID, updateID)
}
