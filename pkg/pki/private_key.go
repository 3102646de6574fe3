package pki

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadSigningKey reads an "EC PRIVATE KEY" PEM file.
func LoadSigningKey(dataPath string) (*ecdsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, err
	}
	return ParseSigningKey(pemBytes)
}

func ParseSigningKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("failed to decode PEM block containing private key")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// LoadPrivateKey reads an "EC PRIVATE KEY" PEM file as a key agreement key.
func LoadPrivateKey(dataPath string) (*ecdh.PrivateKey, error) {
	ecdsaPriv, err := LoadSigningKey(dataPath)
	if err != nil {
		return nil, err
	}
	ecdhPriv, err := ecdsaPriv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert to ECDH private key: %w", err)
	}
	return ecdhPriv, nil
}
