package session_transcript

import (
	"fmt"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
)

const ANDROID_HANDOVER_V1 = "AndroidHandoverv1"

type AndroidHandover struct {
	Nonce           []byte
	PackageName     string
	RequesterIDHash []byte
}

func (AndroidHandover) isHandover() {}

func (h AndroidHandover) Value() ([]byte, error) {
	if len(h.Nonce) == 0 {
		return nil, fmt.Errorf("nonce cannot be empty")
	}
	if h.PackageName == "" {
		return nil, fmt.Errorf("packageName cannot be empty")
	}
	if len(h.RequesterIDHash) == 0 {
		return nil, fmt.Errorf("requesterIdHash cannot be empty")
	}
	v, err := cborutil.Marshal([]interface{}{
		ANDROID_HANDOVER_V1,
		h.Nonce,
		[]byte(h.PackageName),
		h.RequesterIDHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover: %w", err)
	}
	return v, nil
}

func (h AndroidHandover) SessionTranscript() (*SessionTranscript, error) {
	return online(h)
}
