package openid4vp

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/form3tech-oss/jwt-go"
	"github.com/kokukuma/mdoc-proximity/pkg/pki"
	"github.com/mitchellh/mapstructure"
)

// TrustLevel is the outcome of checking a relying party's request object.
type TrustLevel int

const (
	// TrustLevelAbort means the request must not be processed.
	TrustLevelAbort TrustLevel = iota
	// TrustLevelUnknownRoot means the request is intact and signed by its
	// certificate, but the chain does not end at a trust anchor. The holder
	// may still ask the user.
	TrustLevelUnknownRoot
	TrustLevelTrusted
)

func (l TrustLevel) String() string {
	switch l {
	case TrustLevelTrusted:
		return "trusted"
	case TrustLevelUnknownRoot:
		return "unknown_root"
	default:
		return "abort"
	}
}

func parseX5C(header map[string]interface{}) (pki.AccessCertificate, error) {
	raw, ok := header["x5c"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, ErrMissingX5C
	}
	ders := make([][]byte, 0, len(raw))
	for i, elem := range raw {
		s, ok := elem.(string)
		if !ok {
			return nil, fmt.Errorf("x5c[%d] is not a string", i)
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("failed to decode x5c[%d]: %w", i, err)
		}
		ders = append(ders, der)
	}
	return pki.ParseAccessCertificate(ders)
}

func decodeClaims(claims jwt.MapClaims) (*RequestObject, error) {
	var ro RequestObject
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Squash:  true,
		Result:  &ro,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(map[string]interface{}(claims)); err != nil {
		return nil, fmt.Errorf("failed to decode request object claims: %w", err)
	}
	return &ro, nil
}

// VerifyRequestObject verifies a signed request object.
//
// The JWT signature is checked with the x5c leaf key before anything else,
// so a tampered or malformed object always aborts. A chain rejected only
// because its root is not an anchor yields TrustLevelUnknownRoot with a nil
// error; every other chain failure aborts.
func VerifyRequestObject(token string, validator *pki.Validator) (*RequestObject, TrustLevel, error) {
	var chain pki.AccessCertificate
	parser := jwt.Parser{ValidMethods: SigningAlgorithms}
	parsed, err := parser.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if typ, _ := t.Header["typ"].(string); typ != RequestObjectType {
			return nil, fmt.Errorf("%w: %q", ErrUnexpectedType, typ)
		}
		c, err := parseX5C(t.Header)
		if err != nil {
			return nil, err
		}
		pub, ok := c.Leaf().PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		chain = c
		return pub, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Inner != nil {
			err = verr.Inner
		}
		return nil, TrustLevelAbort, fmt.Errorf("failed to verify request object: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, TrustLevelAbort, errors.New("unexpected claims type")
	}
	ro, err := decodeClaims(claims)
	if err != nil {
		return nil, TrustLevelAbort, err
	}
	if err := ro.Valid(); err != nil {
		return nil, TrustLevelAbort, err
	}

	if host, ok := clientHost(ro); ok {
		if err := chain.Leaf().VerifyHostname(host); err != nil {
			return nil, TrustLevelAbort, fmt.Errorf("%w: %v", ErrClientIDMismatch, err)
		}
	}

	result := validator.Validate(chain)
	if result.Valid {
		return ro, TrustLevelTrusted, nil
	}
	if errors.Is(result.Cause, pki.ErrUntrustedRoot) || isUnknownAuthority(result.Cause) {
		return ro, TrustLevelUnknownRoot, nil
	}
	return nil, TrustLevelAbort, fmt.Errorf("failed to validate x5c chain: %w", result.Cause)
}

func isUnknownAuthority(err error) bool {
	var authErr x509.UnknownAuthorityError
	return errors.As(err, &authErr)
}

// clientHost returns the DNS name the signing certificate must carry, for
// both the client_id_scheme parameter and the "x509_san_dns:" prefix form.
func clientHost(ro *RequestObject) (string, bool) {
	if host, ok := strings.CutPrefix(ro.ClientID, ClientIDSchemeX509SanDNS+":"); ok {
		return host, true
	}
	return ro.ClientID, ro.ClientIDScheme == ClientIDSchemeX509SanDNS
}
