package custodian

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"io"

	"github.com/veraison/go-cose"
)

type coseSigner struct {
	custodian KeyCustodian
	id        KeyID
	alg       cose.Algorithm
}

// NewCOSESigner adapts a custodian key to cose.Signer. The COSE algorithm
// follows the key's curve.
func NewCOSESigner(c KeyCustodian, id KeyID) (cose.Signer, error) {
	pub, err := c.PublicKey(id)
	if err != nil {
		return nil, err
	}
	alg, err := COSEAlgorithm(pub)
	if err != nil {
		return nil, err
	}
	return &coseSigner{custodian: c, id: id, alg: alg}, nil
}

// COSEAlgorithm maps an ECDSA public key to its COSE algorithm.
func COSEAlgorithm(pub crypto.PublicKey) (cose.Algorithm, error) {
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return 0, fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, pub)
	}
	switch ecPub.Curve {
	case elliptic.P256():
		return cose.AlgorithmES256, nil
	case elliptic.P384():
		return cose.AlgorithmES384, nil
	case elliptic.P521():
		return cose.AlgorithmES512, nil
	default:
		return 0, fmt.Errorf("%w: curve %s", ErrUnsupportedAlgorithm, ecPub.Curve.Params().Name)
	}
}

func (s *coseSigner) Algorithm() cose.Algorithm {
	return s.alg
}

// Sign receives the COSE ToBeSigned structure; rand is unused since the
// custodian owns its own randomness.
func (s *coseSigner) Sign(_ io.Reader, content []byte) ([]byte, error) {
	return s.custodian.Sign(s.id, content)
}
