// Package crypto defines the BGPsec crypto provider boundary of spec.md
// §6.3. The core never inspects a key's bytes or algorithm; it only holds
// opaque KeyHandle values and calls Provider, per §9's "ec_key stored as
// u8* with opaque casts" note generalized to a Go interface.
package crypto

import (
	"fmt"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
)

// KMode selects the nonce-generation mode for Sign, spec.md §6.3.
type KMode uint8

const (
	// BIO uses the provider's own (presumably RFC 6979 or CSPRNG) nonce.
	BIO KMode = iota
	// FixedK1 and FixedK2 pin the ECDSA nonce k to one of two fixed test
	// vectors. Grounded on §9's fixed_k_ecdsa_sign_setup note: LocalProvider
	// honors these modes only when Options.TestSigningMode is set, since a
	// fixed k leaks the private key across two signatures.
	FixedK1
	FixedK2
)

func (m KMode) String() string {
	switch m {
	case BIO:
		return "BIO"
	case FixedK1:
		return "FixedK1"
	case FixedK2:
		return "FixedK2"
	default:
		return fmt.Sprintf("KMode(%d)", uint8(m))
	}
}

// KeyKind selects which half of a keypair LoadKeys should materialize.
type KeyKind uint8

const (
	PublicKeys KeyKind = iota
	PrivateKeys
	BothKeys
)

// KeyHandle is an opaque reference into a Provider's internal key table.
// Callers never see the bytes backing it.
type KeyHandle struct {
	asn uint32
	ski [20]byte // Subject Key Identifier, BGPsec's key-selector
}

// ASN returns the ASN this handle's key was loaded for, for logging only.
func (h KeyHandle) ASN() uint32 { return h.asn }

// AlgoNotSupportedError signals an unsupported signing algorithm, mapped
// onto wire.ErrAlgoNotSupported by the server's SignRequest handler.
type AlgoNotSupportedError struct {
	Algorithm uint8
}

func (e *AlgoNotSupportedError) Error() string {
	return fmt.Sprintf("crypto: algorithm %d not supported", e.Algorithm)
}

// KeyTable maps an ASN+SKI to a loaded key handle, the result of LoadKeys.
type KeyTable map[KeyHandle]struct{}

// Provider is the crypto provider capability of spec.md §6.3: verify and
// sign BGPsec path attributes, and load the key material backing both.
// A provider is delegated to, out of scope here per spec.md's explicit
// Non-goals, so this interface has two in-repo implementations
// (LocalProvider, whose fixed-k signing is gated by Options.TestSigningMode,
// and UnavailableProvider); a real provider (HSM-backed or
// libcrypto-backed) is wired in by the operator.
type Provider interface {
	// VerifySignature checks update_blob (the BGPsecData.Encode output plus
	// the received signature chain) against the loaded public keys.
	VerifySignature(updateBlob []byte) (result.Value, error)

	// Sign produces a signature over message using the key identified by
	// handle, under the given KMode.
	Sign(message []byte, algorithm uint8, handle KeyHandle, mode KMode) ([]byte, error)

	// LoadKeys reads key material from path and returns handles for kind.
	LoadKeys(path string, kind KeyKind) (KeyTable, error)
}
