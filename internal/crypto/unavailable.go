package crypto

import (
	"fmt"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
)

// UnavailableProvider implements spec.md §7's "Crypto provider not
// initialized" policy: BGPsec requests return Invalid (never Valid, never
// an error that would take the server down), while ROA and ASPA validation
// remain unaffected since they never call into this interface.
type UnavailableProvider struct{}

func (UnavailableProvider) VerifySignature(updateBlob []byte) (result.Value, error) {
	return result.Invalid, nil
}

func (UnavailableProvider) Sign(message []byte, algorithm uint8, handle KeyHandle, mode KMode) ([]byte, error) {
	return nil, fmt.Errorf("crypto: provider not initialized")
}

func (UnavailableProvider) LoadKeys(path string, kind KeyKind) (KeyTable, error) {
	return nil, fmt.Errorf("crypto: provider not initialized")
}
