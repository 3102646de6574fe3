// Package openid4vp signs and verifies OpenID4VP authorization request
// objects and parses the wallet's vp_token responses.
//
// https://openid.net/specs/openid-4-verifiable-presentations-1_0.html
package openid4vp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"github.com/form3tech-oss/jwt-go"
	"github.com/kokukuma/mdoc-proximity/document"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
	"github.com/ory/go-convenience/stringslice"
)

const (
	RequestObjectType = "oauth-authz-req+jwt"

	ResponseTypeVPToken = "vp_token"

	ResponseModeDirectPost    = "direct_post"
	ResponseModeDirectPostJWT = "direct_post.jwt"
	ResponseModeDCAPI         = "dc_api"
	ResponseModeDCAPIJWT      = "dc_api.jwt"

	ClientIDSchemeX509SanDNS = "x509_san_dns"
)

var (
	ResponseModes = []string{
		ResponseModeDirectPost,
		ResponseModeDirectPostJWT,
		ResponseModeDCAPI,
		ResponseModeDCAPIJWT,
	}

	SigningAlgorithms = []string{"ES256", "ES384", "ES512"}
)

var (
	ErrMissingX5C          = errors.New("x5c header is missing")
	ErrUnexpectedType      = errors.New("unexpected typ header")
	ErrUnsupportedMode     = errors.New("unsupported response_mode")
	ErrUnsupportedType     = errors.New("unsupported response_type")
	ErrClientIDMismatch    = errors.New("client_id does not match the signing certificate")
	ErrMissingVPToken      = errors.New("vp_token is missing")
	ErrStateMismatch       = errors.New("unexpected state value")
	ErrUnexpectedMediaType = errors.New("unexpected Content-Type")
)

var b64 = base64.RawURLEncoding

type AuthorizationRequest struct {
	ClientID       string              `json:"client_id"`
	ClientIDScheme string              `json:"client_id_scheme,omitempty"`
	ResponseType   string              `json:"response_type"`
	ResponseMode   string              `json:"response_mode"`
	ResponseURI    string              `json:"response_uri,omitempty"`
	Nonce          string              `json:"nonce"`
	State          string              `json:"state,omitempty"`
	DCQLQuery      *document.DCQLQuery `json:"dcql_query,omitempty"`
}

// Handover binds a response to this request. apu is the mdoc generated
// nonce the wallet returned.
func (r AuthorizationRequest) Handover(apu string) st.OID4VPHandover {
	return st.OID4VPHandover{
		Nonce:       r.Nonce,
		ClientID:    r.ClientID,
		ResponseURI: r.ResponseURI,
		APU:         apu,
	}
}

// RequestObject is the JWT-secured form of an AuthorizationRequest.
type RequestObject struct {
	AuthorizationRequest
	jwt.StandardClaims
}

// Valid checks the registered claims and the request parameters.
func (r *RequestObject) Valid() error {
	if err := r.StandardClaims.Valid(); err != nil {
		return err
	}
	if r.ResponseType != ResponseTypeVPToken {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, r.ResponseType)
	}
	if !stringslice.Has(ResponseModes, r.ResponseMode) {
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, r.ResponseMode)
	}
	return nil
}

// JWTSecuredAuthorizeRequest references a request object by URI.
type JWTSecuredAuthorizeRequest struct {
	AuthorizeEndpoint string
	ClientID          string `json:"client_id"`
	RequestURI        string `json:"request_uri"`
}

func (a *JWTSecuredAuthorizeRequest) String() string {
	return fmt.Sprintf(
		"%s?client_id=%s&request_uri=%s",
		a.AuthorizeEndpoint, url.QueryEscape(a.ClientID), url.QueryEscape(a.RequestURI))
}
