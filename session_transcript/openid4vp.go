package session_transcript

import (
	"encoding/base64"
	"fmt"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
	"github.com/kokukuma/mdoc-proximity/pkg/hash"
)

// OID4VPHandover follows the EUDI wallet encoding: the client id and
// response uri are each hashed together with the wallet generated nonce.
type OID4VPHandover struct {
	Nonce       string
	ClientID    string
	ResponseURI string
	// APU is the base64url (no padding) mdoc generated nonce.
	APU string
}

func (OID4VPHandover) isHandover() {}

func (h OID4VPHandover) Value() ([]byte, error) {
	if h.Nonce == "" {
		return nil, fmt.Errorf("nonce cannot be empty")
	}
	if h.ClientID == "" {
		return nil, fmt.Errorf("clientID cannot be empty")
	}
	if h.ResponseURI == "" {
		return nil, fmt.Errorf("responseURI cannot be empty")
	}
	if h.APU == "" {
		return nil, fmt.Errorf("apu cannot be empty")
	}

	mdocGeneratedNonce, err := base64.RawURLEncoding.DecodeString(h.APU)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mdocGeneratedNonce: %w", err)
	}

	clientIDToHash, err := cborutil.Marshal([]interface{}{h.ClientID, string(mdocGeneratedNonce)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode clientID for hashing: %w", err)
	}
	responseURIToHash, err := cborutil.Marshal([]interface{}{h.ResponseURI, string(mdocGeneratedNonce)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode responseURI for hashing: %w", err)
	}

	v, err := cborutil.Marshal([]interface{}{
		hash.SHA256Sum(clientIDToHash),
		hash.SHA256Sum(responseURIToHash),
		h.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover: %w", err)
	}
	return v, nil
}

func (h OID4VPHandover) SessionTranscript() (*SessionTranscript, error) {
	return online(h)
}
