package hpke

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cisco/go-hpke"
)

const (
	kemAlg  = hpke.DHKEM_P256
	kdfAlg  = hpke.KDF_HKDF_SHA256
	aeadAlg = hpke.AEAD_AESGCM128
)

var (
	ErrEmptyData     = errors.New("empty data")
	ErrEmptyEncapKey = errors.New("empty ephemeral public key")
	ErrNilKey        = errors.New("nil key")
)

func suite() (hpke.CipherSuite, error) {
	s, err := hpke.AssembleCipherSuite(kemAlg, kdfAlg, aeadAlg)
	if err != nil {
		return hpke.CipherSuite{}, fmt.Errorf("failed to assemble cipher suite: %w", err)
	}
	return s, nil
}

// Seal encrypts plaintext to pub in base mode. It returns the encapsulated
// ephemeral key and the ciphertext.
func Seal(pub *ecdh.PublicKey, plaintext, info []byte) (enc, ciphertext []byte, err error) {
	if pub == nil {
		return nil, nil, ErrNilKey
	}
	s, err := suite()
	if err != nil {
		return nil, nil, err
	}

	pkR, err := s.KEM.DeserializePublicKey(pub.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to deserialize public key: %w", err)
	}

	enc, ctxS, err := hpke.SetupBaseS(s, rand.Reader, pkR, info)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup sender context: %w", err)
	}
	return enc, ctxS.Seal(nil, plaintext), nil
}

// Open decrypts data sealed to privKey. info must equal the value used by
// the sender.
func Open(privKey *ecdh.PrivateKey, enc, data, info []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	if len(enc) == 0 {
		return nil, ErrEmptyEncapKey
	}
	if privKey == nil {
		return nil, ErrNilKey
	}

	s, err := suite()
	if err != nil {
		return nil, err
	}

	skR, err := s.KEM.DeserializePrivateKey(privKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize private key: %w", err)
	}

	ctxR, err := hpke.SetupBaseR(s, skR, enc, info)
	if err != nil {
		return nil, fmt.Errorf("failed to setup receiver context: %w", err)
	}

	plainText, err := ctxR.Open(nil, data) // No associated data
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt ciphertext: %w", err)
	}
	return plainText, nil
}
