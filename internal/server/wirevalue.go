package server

import (
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/wire"
)

// valueToWire converts an internal result.Value to its wire.Res* byte,
// spec.md §6.1's "mirror numerically but kept distinct" contract.
func valueToWire(v result.Value) uint8 {
	switch v {
	case result.Valid:
		return wire.ResValid
	case result.NotFound:
		return wire.ResNotFound
	case result.Invalid:
		return wire.ResInvalid
	case result.Undefined:
		return wire.ResUndefined
	case result.Unverifiable:
		return wire.ResUnverifiable
	case result.Unknown:
		return wire.ResUnknown
	default:
		return wire.ResDoNotUse
	}
}

// wireToValue is valueToWire's inverse, used for the ROA/BGPsec default
// values a proxy supplies in a verify request.
func wireToValue(b uint8) result.Value {
	switch b {
	case wire.ResValid:
		return result.Valid
	case wire.ResNotFound:
		return result.NotFound
	case wire.ResInvalid:
		return result.Invalid
	case wire.ResUndefined:
		return result.Undefined
	case wire.ResUnverifiable:
		return result.Unverifiable
	case wire.ResUnknown:
		return result.Unknown
	default:
		return result.DoNotUse
	}
}

// wireToSource and sourceToWire convert the one-byte source tag a proxy
// attaches to its ROA/BGPsec default values, spec.md §3's Source enum.
func wireToSource(b uint8) result.Source {
	switch b {
	case 1:
		return result.SrcSRx
	case 2:
		return result.SrcRouter
	case 3:
		return result.SrcIGP
	default:
		return result.SrcUnknown
	}
}

func sourceToWire(s result.Source) uint8 {
	switch s {
	case result.SrcSRx:
		return 1
	case result.SrcRouter:
		return 2
	case result.SrcIGP:
		return 3
	default:
		return 0
	}
}
