// Package cosekey converts between COSE_Key (RFC 8152 §13) and the Go
// crypto key types used for key agreement and signature verification.
package cosekey

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
)

// RFC 8152 Table 21
const (
	KtyEC2 = 2

	P256 = 1
	P384 = 2
	P521 = 3
)

var ErrInvalidKey = errors.New("invalid key material")

// UnsupportedCurveError reports a curve outside the supported set.
type UnsupportedCurveError struct {
	Curve interface{}
}

func (e *UnsupportedCurveError) Error() string {
	return fmt.Sprintf("unsupported curve: %v", e.Curve)
}

// UnsupportedKeyTypeError reports a kty other than EC2.
type UnsupportedKeyTypeError struct {
	Kty int
}

func (e *UnsupportedKeyTypeError) Error() string {
	return fmt.Sprintf("unsupported key type: %d", e.Kty)
}

type Key struct {
	Kty       int             `cbor:"1,keyasint,omitempty"`
	Kid       []byte          `cbor:"2,keyasint,omitempty"`
	Alg       int             `cbor:"3,keyasint,omitempty"`
	KeyOpts   int             `cbor:"4,keyasint,omitempty"`
	IV        []byte          `cbor:"5,keyasint,omitempty"`
	CrvOrNOrK cbor.RawMessage `cbor:"-1,keyasint,omitempty"` // K for symmetric keys, Crv for elliptic curve keys, N for RSA modulus
	XOrE      cbor.RawMessage `cbor:"-2,keyasint,omitempty"` // X for curve x-coordinate, E for RSA public exponent
	Y         cbor.RawMessage `cbor:"-3,keyasint,omitempty"` // Y for curve y-cooridate
	D         []byte          `cbor:"-4,keyasint,omitempty"`
}

func curveID(c elliptic.Curve) (int, error) {
	switch c {
	case elliptic.P256():
		return P256, nil
	case elliptic.P384():
		return P384, nil
	case elliptic.P521():
		return P521, nil
	default:
		return 0, &UnsupportedCurveError{Curve: c.Params().Name}
	}
}

func ecdhCurve(crv int) (ecdh.Curve, elliptic.Curve, error) {
	switch crv {
	case P256:
		return ecdh.P256(), elliptic.P256(), nil
	case P384:
		return ecdh.P384(), elliptic.P384(), nil
	case P521:
		return ecdh.P521(), elliptic.P521(), nil
	default:
		return nil, nil, &UnsupportedCurveError{Curve: crv}
	}
}

func newEC2(crv int, x, y []byte) (*Key, error) {
	crvRaw, err := cborutil.Marshal(crv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal curve: %w", err)
	}
	xRaw, err := cborutil.Marshal(x)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal X coordinate: %w", err)
	}
	yRaw, err := cborutil.Marshal(y)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Y coordinate: %w", err)
	}
	return &Key{Kty: KtyEC2, CrvOrNOrK: crvRaw, XOrE: xRaw, Y: yRaw}, nil
}

// FromECDH converts an uncompressed NIST public key. X25519 keys are
// rejected with UnsupportedCurveError.
func FromECDH(pub *ecdh.PublicKey) (*Key, error) {
	if pub == nil {
		return nil, ErrInvalidKey
	}
	var crv int
	switch pub.Curve() {
	case ecdh.P256():
		crv = P256
	case ecdh.P384():
		crv = P384
	case ecdh.P521():
		crv = P521
	default:
		return nil, &UnsupportedCurveError{Curve: fmt.Sprintf("%v", pub.Curve())}
	}
	raw := pub.Bytes()
	size := (len(raw) - 1) / 2
	return newEC2(crv, raw[1:1+size], raw[1+size:])
}

func FromECDSA(pub *ecdsa.PublicKey) (*Key, error) {
	if pub == nil {
		return nil, ErrInvalidKey
	}
	crv, err := curveID(pub.Curve)
	if err != nil {
		return nil, err
	}
	size := (pub.Curve.Params().BitSize + 7) / 8
	return newEC2(crv, pub.X.FillBytes(make([]byte, size)), pub.Y.FillBytes(make([]byte, size)))
}

// Curve returns the COSE curve identifier.
func (k *Key) Curve() (int, error) {
	if k == nil {
		return 0, ErrInvalidKey
	}
	if k.Kty != KtyEC2 {
		return 0, &UnsupportedKeyTypeError{Kty: k.Kty}
	}
	var crv int
	if err := cbor.Unmarshal(k.CrvOrNOrK, &crv); err != nil {
		return 0, fmt.Errorf("failed to unmarshal curve: %w", err)
	}
	return crv, nil
}

func (k *Key) uncompressed() (ecdh.Curve, elliptic.Curve, []byte, error) {
	crv, err := k.Curve()
	if err != nil {
		return nil, nil, nil, err
	}
	ecdhC, ellC, err := ecdhCurve(crv)
	if err != nil {
		return nil, nil, nil, err
	}

	var xBytes, yBytes []byte
	if err := cbor.Unmarshal(k.XOrE, &xBytes); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to unmarshal X coordinate: %w", err)
	}
	if err := cbor.Unmarshal(k.Y, &yBytes); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to unmarshal Y coordinate: %w", err)
	}
	size := (ellC.Params().BitSize + 7) / 8
	if len(xBytes) == 0 || len(yBytes) == 0 || len(xBytes) > size || len(yBytes) > size {
		return nil, nil, nil, fmt.Errorf("%w: invalid coordinates", ErrInvalidKey)
	}

	raw := make([]byte, 1+2*size)
	raw[0] = 0x04
	copy(raw[1+size-len(xBytes):1+size], xBytes)
	copy(raw[1+2*size-len(yBytes):], yBytes)
	return ecdhC, ellC, raw, nil
}

// ECDH returns the key agreement form of k. The point is validated.
func (k *Key) ECDH() (*ecdh.PublicKey, error) {
	c, _, raw, err := k.uncompressed()
	if err != nil {
		return nil, err
	}
	pub, err := c.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// ECDSA returns the signature verification form of k. The point is validated.
func (k *Key) ECDSA() (*ecdsa.PublicKey, error) {
	c, ellC, raw, err := k.uncompressed()
	if err != nil {
		return nil, err
	}
	if _, err := c.NewPublicKey(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	size := (len(raw) - 1) / 2
	return &ecdsa.PublicKey{
		Curve: ellC,
		X:     new(big.Int).SetBytes(raw[1 : 1+size]),
		Y:     new(big.Int).SetBytes(raw[1+size:]),
	}, nil
}

func (k *Key) Encode() ([]byte, error) {
	return cborutil.Marshal(k)
}

func Decode(data []byte) (*Key, error) {
	var k Key
	if err := cborutil.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("failed to unmarshal COSE_Key: %w", err)
	}
	return &k, nil
}
