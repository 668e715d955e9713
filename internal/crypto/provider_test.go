package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/result"
)

func writeTestKeyFile(t *testing.T) (path string, priv *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	privDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	var buf []byte
	buf = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER})
	buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})...)

	path = filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, buf, 0o600))
	return path, priv
}

func TestLoadKeysBothKindsFromSameFile(t *testing.T) {
	path, _ := writeTestKeyFile(t)
	p := NewLocalProvider(Options{})

	table, err := p.LoadKeys(path, BothKeys)
	require.NoError(t, err)
	require.Len(t, table, 2) // one EC PRIVATE KEY block, one PUBLIC KEY block
}

func TestLoadKeysPublicOnlySkipsPrivate(t *testing.T) {
	path, _ := writeTestKeyFile(t)
	p := NewLocalProvider(Options{})

	table, err := p.LoadKeys(path, PublicKeys)
	require.NoError(t, err)
	require.Len(t, table, 1)
	require.Len(t, p.private, 0)
	require.Len(t, p.public, 1)
}

func TestSignRejectsUnsupportedAlgorithm(t *testing.T) {
	path, _ := writeTestKeyFile(t)
	p := NewLocalProvider(Options{})
	table, err := p.LoadKeys(path, PrivateKeys)
	require.NoError(t, err)

	var handle KeyHandle
	for h := range table {
		handle = h
	}

	_, err = p.Sign([]byte("msg"), 99, handle, BIO)
	require.Error(t, err)
	var algErr *AlgoNotSupportedError
	require.ErrorAs(t, err, &algErr)
}

func TestSignProducesVerifiableSignature(t *testing.T) {
	path, priv := writeTestKeyFile(t)
	p := NewLocalProvider(Options{})
	table, err := p.LoadKeys(path, PrivateKeys)
	require.NoError(t, err)

	var handle KeyHandle
	for h := range table {
		handle = h
	}

	msg := []byte("bgpsec attestation digest input")
	sig, err := p.Sign(msg, algoECDSAP256SHA256, handle, BIO)
	require.NoError(t, err)

	digest := sha256.Sum256(msg)
	require.True(t, ecdsa.VerifyASN1(&priv.PublicKey, digest[:], sig))
}

func TestFixedKModesProduceDistinctSignatures(t *testing.T) {
	path, _ := writeTestKeyFile(t)
	p := NewLocalProvider(Options{TestSigningMode: true})
	table, err := p.LoadKeys(path, PrivateKeys)
	require.NoError(t, err)

	var handle KeyHandle
	for h := range table {
		handle = h
	}

	msg := []byte("fixed-k conformance vector")
	sig1, err := p.Sign(msg, algoECDSAP256SHA256, handle, FixedK1)
	require.NoError(t, err)
	sig2, err := p.Sign(msg, algoECDSAP256SHA256, handle, FixedK2)
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig2)
}

func TestUnavailableProviderReturnsInvalid(t *testing.T) {
	var p UnavailableProvider
	v, err := p.VerifySignature([]byte("anything"))
	require.NoError(t, err)
	require.Equal(t, result.Invalid, v)

	_, err = p.Sign([]byte("m"), algoECDSAP256SHA256, KeyHandle{}, BIO)
	require.Error(t, err)
}
