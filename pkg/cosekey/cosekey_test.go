package cosekey

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECDHRoundTrip(t *testing.T) {
	for _, c := range []ecdh.Curve{ecdh.P256(), ecdh.P384(), ecdh.P521()} {
		priv, err := c.GenerateKey(rand.Reader)
		require.NoError(t, err)

		key, err := FromECDH(priv.PublicKey())
		require.NoError(t, err)

		encoded, err := key.Encode()
		require.NoError(t, err)
		decoded, err := Decode(encoded)
		require.NoError(t, err)

		pub, err := decoded.ECDH()
		require.NoError(t, err)
		assert.True(t, pub.Equal(priv.PublicKey()))
	}
}

func TestECDSARoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	key, err := FromECDSA(&priv.PublicKey)
	require.NoError(t, err)

	pub, err := key.ECDSA()
	require.NoError(t, err)
	assert.True(t, pub.Equal(&priv.PublicKey))
}

func TestFromECDHRejectsX25519(t *testing.T) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)

	_, err = FromECDH(priv.PublicKey())
	var curveErr *UnsupportedCurveError
	require.True(t, errors.As(err, &curveErr))
}

func TestKeyValidation(t *testing.T) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	valid, err := FromECDH(priv.PublicKey())
	require.NoError(t, err)

	t.Run("unsupported key type", func(t *testing.T) {
		k := *valid
		k.Kty = 1
		_, err := k.ECDH()
		var ktyErr *UnsupportedKeyTypeError
		require.True(t, errors.As(err, &ktyErr))
		assert.Equal(t, 1, ktyErr.Kty)
	})

	t.Run("unsupported curve", func(t *testing.T) {
		k, err := newEC2(8, []byte{1}, []byte{2})
		require.NoError(t, err)
		_, err = k.ECDH()
		var curveErr *UnsupportedCurveError
		require.True(t, errors.As(err, &curveErr))
	})

	t.Run("point not on curve", func(t *testing.T) {
		x := make([]byte, 32)
		y := make([]byte, 32)
		x[31], y[31] = 1, 1
		k, err := newEC2(P256, x, y)
		require.NoError(t, err)
		_, err = k.ECDH()
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = k.ECDSA()
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}
