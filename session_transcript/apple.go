package session_transcript

import (
	"fmt"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
)

const APPLE_HANDOVER_V1 = "AppleIdentityPresentment_1.0"

type AppleHandover struct {
	MerchantID      string
	TeamID          string
	Nonce           []byte
	RequesterIDHash []byte
}

func (AppleHandover) isHandover() {}

func (h AppleHandover) Value() ([]byte, error) {
	if h.MerchantID == "" {
		return nil, fmt.Errorf("merchantID cannot be empty")
	}
	if len(h.Nonce) == 0 {
		return nil, fmt.Errorf("nonce cannot be empty")
	}
	v, err := cborutil.Marshal([]interface{}{
		APPLE_HANDOVER_V1,
		h.Nonce,
		h.MerchantID,
		h.TeamID,
		h.RequesterIDHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover: %w", err)
	}
	return v, nil
}

func (h AppleHandover) SessionTranscript() (*SessionTranscript, error) {
	return online(h)
}
