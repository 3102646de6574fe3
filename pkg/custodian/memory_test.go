package custodian

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"
)

func TestMemoryLifecycle(t *testing.T) {
	m := NewMemory()

	id, err := m.GenerateKey(ES256)
	require.NoError(t, err)

	pub, err := m.PublicKey(id)
	require.NoError(t, err)
	ecPub, ok := pub.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, elliptic.P256(), ecPub.Curve)

	payload := []byte("to be signed")
	sig, err := m.Sign(id, payload)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	digest := sha256.Sum256(payload)
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	assert.True(t, ecdsa.Verify(ecPub, digest[:], r, s))

	require.NoError(t, m.DeleteKey(id))
	_, err = m.Sign(id, payload)
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.ErrorIs(t, m.DeleteKey(id), ErrKeyNotFound)
}

func TestMemoryUnsupportedAlgorithm(t *testing.T) {
	_, err := NewMemory().GenerateKey("RS256")
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestMemoryImport(t *testing.T) {
	m := NewMemory()
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	_, err = m.Import(ES256, priv)
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	id, err := m.Import(ES384, priv)
	require.NoError(t, err)
	alg, err := m.Algorithm(id)
	require.NoError(t, err)
	assert.Equal(t, ES384, alg)
}

func TestCOSESignerVerifies(t *testing.T) {
	for _, alg := range []Algorithm{ES256, ES384, ES512} {
		t.Run(string(alg), func(t *testing.T) {
			m := NewMemory()
			id, err := m.GenerateKey(alg)
			require.NoError(t, err)

			signer, err := NewCOSESigner(m, id)
			require.NoError(t, err)

			msg := cose.NewSign1Message()
			msg.Headers.Protected.SetAlgorithm(signer.Algorithm())
			msg.Payload = []byte("payload")
			require.NoError(t, msg.Sign(rand.Reader, nil, signer))

			pub, err := m.PublicKey(id)
			require.NoError(t, err)
			verifier, err := cose.NewVerifier(signer.Algorithm(), pub)
			require.NoError(t, err)
			require.NoError(t, msg.Verify(nil, verifier))
		})
	}
}
