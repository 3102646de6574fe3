package openid4vp

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/form3tech-oss/jwt-go"
	"github.com/kokukuma/mdoc-proximity/internal/cryptoroot"
	"github.com/kokukuma/mdoc-proximity/pkg/custodian"
)

// custodianMethod is a jwt.SigningMethod whose private key stays in the
// custodian. ES* JWS signatures are the same fixed-length r||s the
// custodian returns.
type custodianMethod struct {
	alg string
}

type custodianKey struct {
	custodian custodian.KeyCustodian
	id        custodian.KeyID
}

func (m custodianMethod) Alg() string {
	return m.alg
}

func (m custodianMethod) Sign(signingString string, key interface{}) (string, error) {
	k, ok := key.(custodianKey)
	if !ok {
		return "", jwt.ErrInvalidKeyType
	}
	sig, err := k.custodian.Sign(k.id, []byte(signingString))
	if err != nil {
		return "", fmt.Errorf("failed to sign request object: %w", err)
	}
	return jwt.EncodeSegment(sig), nil
}

func (m custodianMethod) Verify(signingString, signature string, key interface{}) error {
	method := jwt.GetSigningMethod(m.alg)
	if method == nil {
		return jwt.ErrSignatureInvalid
	}
	return method.Verify(signingString, signature, key)
}

func jwsAlgorithm(pub *ecdsa.PublicKey) (string, error) {
	alg, err := custodian.COSEAlgorithm(pub)
	if err != nil {
		return "", err
	}
	return alg.String(), nil
}

// SignRequestObject signs ro with a custodian key. chain is the signer's
// certificate chain, leaf first, and is carried in the x5c header.
func SignRequestObject(ro *RequestObject, c custodian.KeyCustodian, id custodian.KeyID, chain []*x509.Certificate) (string, error) {
	if len(chain) == 0 {
		return "", ErrMissingX5C
	}
	pub, err := c.PublicKey(id)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("%w: key type %T", custodian.ErrUnsupportedAlgorithm, pub)
	}
	alg, err := jwsAlgorithm(ecPub)
	if err != nil {
		return "", err
	}

	x5c := make([]string, 0, len(chain))
	for _, cert := range chain {
		x5c = append(x5c, base64.StdEncoding.EncodeToString(cert.Raw))
	}

	token := jwt.NewWithClaims(custodianMethod{alg: alg}, ro)
	token.Header["x5c"] = x5c
	token.Header["typ"] = RequestObjectType
	token.Header["kid"] = b64.EncodeToString(cryptoroot.CalcKID(ecPub, "sha256"))

	return token.SignedString(custodianKey{custodian: c, id: id})
}
