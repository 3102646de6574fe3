package securechannel

import (
	"crypto/ecdh"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	st "github.com/kokukuma/mdoc-proximity/session_transcript"
)

const (
	infoSKReader = "SKReader"
	infoSKDevice = "SKDevice"

	keySize = 32
)

// SessionKeys holds the two directional AES-256 keys of a session.
type SessionKeys struct {
	SKReader []byte
	SKDevice []byte
}

// DeriveSessionKeys computes the session keys from the local ephemeral
// private key and the peer's ephemeral public key (ISO/IEC 18013-5 §9.1.1.5).
// Both parties derive identical keys.
func DeriveSessionKeys(priv *ecdh.PrivateKey, peer *ecdh.PublicKey, transcript *st.SessionTranscript) (*SessionKeys, error) {
	if priv == nil || peer == nil {
		return nil, fmt.Errorf("%w: missing ephemeral key", ErrInvalidKey)
	}
	if transcript == nil {
		return nil, fmt.Errorf("session transcript is required")
	}
	z, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	defer zero(z)

	tagged, err := transcript.Tagged()
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	salt := sha256.Sum256(tagged)

	skReader, err := expand(z, salt[:], infoSKReader)
	if err != nil {
		return nil, err
	}
	skDevice, err := expand(z, salt[:], infoSKDevice)
	if err != nil {
		return nil, err
	}
	return &SessionKeys{SKReader: skReader, SKDevice: skDevice}, nil
}

func expand(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive %s: %w", info, err)
	}
	return key, nil
}

func (k *SessionKeys) clone() *SessionKeys {
	return &SessionKeys{
		SKReader: append([]byte(nil), k.SKReader...),
		SKDevice: append([]byte(nil), k.SKDevice...),
	}
}

// Wipe overwrites both keys.
func (k *SessionKeys) Wipe() {
	if k == nil {
		return
	}
	zero(k.SKReader)
	zero(k.SKDevice)
}

func zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
