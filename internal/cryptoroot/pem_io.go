package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// PrivateKeyPEM returns the "EC PRIVATE KEY" PEM encoding of key.
func PrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	derBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: derBytes}), nil
}

func writePEMFile(privateKey *ecdsa.PrivateKey, filename string) error {
	pemBytes, err := PrivateKeyPEM(privateKey)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, pemBytes, 0o600)
}

func readPEMFile(filename string) (*ecdsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("pem block was not found in %s", filename)
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	return privateKey, nil
}

func writeCertificatePEM(cert *x509.Certificate, filename string) error {
	return os.WriteFile(filename, CertificatePEM(cert), 0o644)
}

// CertificatePEM returns the PEM encoding of cert.
func CertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func readCertificatePEM(filename string) (*x509.Certificate, error) {
	pemBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("pem block was not found")
	}

	return x509.ParseCertificate(block.Bytes)
}
