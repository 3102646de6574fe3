package session_transcript

import (
	"fmt"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
)

type OriginInfo struct {
	Cat     int     `json:"cat"`
	Type    int     `json:"type"`
	Details Details `json:"details"`
}

type Details struct {
	BaseURL string `json:"baseUrl"`
}

const BROWSER_HANDOVER_V1 = "BrowserHandoverv1"

// BrowserHandover is used by the Digital Credentials API in a browser.
type BrowserHandover struct {
	Nonce           []byte
	Origin          string
	RequesterIDHash []byte
}

func (BrowserHandover) isHandover() {}

func (h BrowserHandover) Value() ([]byte, error) {
	if len(h.Nonce) == 0 {
		return nil, fmt.Errorf("nonce cannot be empty")
	}
	if h.Origin == "" {
		return nil, fmt.Errorf("origin cannot be empty")
	}
	if len(h.RequesterIDHash) == 0 {
		return nil, fmt.Errorf("requesterIdHash cannot be empty")
	}

	originInfoBytes, err := cborutil.Marshal(OriginInfo{
		Cat:     1,
		Type:    1,
		Details: Details{BaseURL: h.Origin},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode origin info: %w", err)
	}

	v, err := cborutil.Marshal([]interface{}{
		BROWSER_HANDOVER_V1,
		h.Nonce,
		originInfoBytes,
		h.RequesterIDHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover: %w", err)
	}
	return v, nil
}

func (h BrowserHandover) SessionTranscript() (*SessionTranscript, error) {
	return online(h)
}
