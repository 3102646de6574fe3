package openid4vp

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"

	"github.com/kokukuma/mdoc-proximity/mdoc"
)

// AuthorizationResponse is the wallet's direct_post response.
type AuthorizationResponse struct {
	VPToken string `json:"vp_token"`
	State   string `json:"state,omitempty"`
}

// ParseDirectPost reads a direct_post form body and checks its state
// against the one sent in the request object.
func ParseDirectPost(r *http.Request, state string) (*AuthorizationResponse, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedMediaType, mediaType)
	}
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	resp := &AuthorizationResponse{
		VPToken: r.PostForm.Get("vp_token"),
		State:   r.PostForm.Get("state"),
	}
	if resp.VPToken == "" {
		return nil, ErrMissingVPToken
	}
	if resp.State != state {
		return nil, ErrStateMismatch
	}
	return resp, nil
}

// ParseDeviceResponse decodes the base64url CBOR DeviceResponse carried in
// a vp_token. Padding is accepted but not required.
func ParseDeviceResponse(ar *AuthorizationResponse) (*mdoc.DeviceResponse, error) {
	decoded, err := b64.DecodeString(ar.VPToken)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(ar.VPToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decode vp_token: %w", err)
		}
	}
	return mdoc.DecodeDeviceResponse(decoded)
}
