package hpke

import (
	"crypto/ecdh"
	"fmt"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
)

const EnvelopeVersion = "ANDROID-HPKE-v1"

// Envelope carries an HPKE sealed device response. The session transcript
// is the HPKE info, so the response only opens for the session it was
// produced in.
type Envelope struct {
	Version              string               `json:"version"`
	CipherText           []byte               `json:"cipherText"`
	EncryptionParameters EncryptionParameters `json:"encryptionParameters"`
}

type EncryptionParameters struct {
	PKEM []byte `json:"pkEm"`
}

func SealEnvelope(pub *ecdh.PublicKey, plaintext []byte, transcript *st.SessionTranscript) (*Envelope, error) {
	if transcript == nil {
		return nil, fmt.Errorf("session transcript must not be nil")
	}
	enc, ct, err := Seal(pub, plaintext, transcript.Bytes())
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Version:              EnvelopeVersion,
		CipherText:           ct,
		EncryptionParameters: EncryptionParameters{PKEM: enc},
	}, nil
}

func (e *Envelope) Open(privKey *ecdh.PrivateKey, transcript *st.SessionTranscript) ([]byte, error) {
	if transcript == nil {
		return nil, fmt.Errorf("session transcript must not be nil")
	}
	if e.Version != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version: %s", e.Version)
	}
	return Open(privKey, e.EncryptionParameters.PKEM, e.CipherText, transcript.Bytes())
}

func (e *Envelope) Encode() ([]byte, error) {
	return cborutil.Marshal(e)
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := cborutil.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CBOR data: %w", err)
	}
	return &e, nil
}
