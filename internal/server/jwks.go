package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"net/http"

	"github.com/kokukuma/mdoc-proximity/internal/cryptoroot"
)

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
}

func ecdsaPublicKeyToJWKS(publicKey *ecdsa.PublicKey) JWKS {
	size := (publicKey.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	publicKey.X.FillBytes(x)
	publicKey.Y.FillBytes(y)

	return JWKS{
		Keys: []JWK{{
			Kty: "EC",
			Crv: getCurveName(publicKey.Curve),
			X:   b64.EncodeToString(x),
			Y:   b64.EncodeToString(y),
			Alg: "ES256",
			Use: "sig",
			Kid: b64.EncodeToString(cryptoroot.CalcKID(publicKey, "sha256")),
		}},
	}
}

func getCurveName(curve elliptic.Curve) string {
	switch curve {
	case elliptic.P256():
		return "P-256"
	case elliptic.P384():
		return "P-384"
	case elliptic.P521():
		return "P-521"
	default:
		return "unknown"
	}
}

// JWKS publishes the request object signing key.
func (s *Server) JWKS(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, ecdsaPublicKeyToJWKS(s.identity.publicKey), http.StatusOK)
}
