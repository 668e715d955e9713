// Package result defines the validation result and source enums shared by
// the update cache, prefix cache, and ASPA validator.
package result

// Value is a single-axis validation result (ROA, BGPsec, or ASPA).
type Value uint8

const (
	Valid Value = iota
	NotFound
	Invalid
	Undefined
	Unverifiable
	Unknown
	DoNotUse // sentinel: "leave this axis unchanged" on modify_result
)

func (v Value) String() string {
	switch v {
	case Valid:
		return "Valid"
	case NotFound:
		return "NotFound"
	case Invalid:
		return "Invalid"
	case Undefined:
		return "Undefined"
	case Unverifiable:
		return "Unverifiable"
	case Unknown:
		return "Unknown"
	case DoNotUse:
		return "DoNotUse"
	default:
		return "Value(?)"
	}
}

// Source records who last set a Value.
type Source uint8

const (
	SrcUnknown Source = iota
	SrcSRx
	SrcRouter
	SrcIGP
)

func (s Source) String() string {
	switch s {
	case SrcSRx:
		return "SRx"
	case SrcRouter:
		return "Router"
	case SrcIGP:
		return "IGP"
	default:
		return "Unknown"
	}
}

// Triple is the (roa, bgpsec, aspa) result tuple carried by an Update.
type Triple struct {
	ROA     Value
	BGPsec  Value
	ASPA    Value
	ROASrc  Source
	BGPSrc  Source
	ASPASrc Source
}

// Partial describes a requested update to a Triple; a field set to DoNotUse
// means "leave unchanged" (spec.md §4.2 modify_result contract).
type Partial struct {
	ROA    Value
	BGPsec Value
	ASPA   Value
}

// Apply merges p into t, returning the new triple and whether anything changed.
func (t Triple) Apply(p Partial) (Triple, bool) {
	out := t
	changed := false
	if p.ROA != DoNotUse && p.ROA != t.ROA {
		out.ROA = p.ROA
		changed = true
	}
	if p.BGPsec != DoNotUse && p.BGPsec != t.BGPsec {
		out.BGPsec = p.BGPsec
		changed = true
	}
	if p.ASPA != DoNotUse && p.ASPA != t.ASPA {
		out.ASPA = p.ASPA
		changed = true
	}
	return out, changed
}
