// Package cryptoroot creates the certificates of a demo or test PKI: a
// root, optional intermediates, document signer, reader and relying-party
// leaves, and CRLs.
package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"os"
	"path/filepath"
)

const (
	rootKeyFile  = "rootKey.pem"
	rootCertFile = "rootCert.pem"
)

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil
}

// LoadOrCreateRoot reads the root key and certificate from dir, creating
// and persisting them on first use.
func LoadOrCreateRoot(dir, commonName string) (*Authority, error) {
	keyPath := filepath.Join(dir, rootKeyFile)
	certPath := filepath.Join(dir, rootCertFile)

	if fileExists(keyPath) && fileExists(certPath) {
		key, err := readPEMFile(keyPath)
		if err != nil {
			return nil, err
		}
		cert, err := readCertificatePEM(certPath)
		if err != nil {
			return nil, err
		}
		return &Authority{Cert: cert, Key: key}, nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := writePEMFile(key, keyPath); err != nil {
		return nil, err
	}
	cert, _, err := createRootCertificate(key, commonName)
	if err != nil {
		return nil, err
	}
	if err := writeCertificatePEM(cert, certPath); err != nil {
		return nil, err
	}
	return &Authority{Cert: cert, Key: key}, nil
}

// GenECDSAKeys issues a fresh reader key below root and returns it with the
// base64 DER x5c chain, leaf first.
func GenECDSAKeys(root *Authority, dnsName string) (*ecdsa.PrivateKey, []string, error) {
	eeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	eeCert, err := root.IssueLeaf("Reader "+dnsName, &eeKey.PublicKey,
		WithDNSNames(dnsName),
		WithUsage(OIDReaderAuth),
	)
	if err != nil {
		return nil, nil, err
	}

	x5c := []string{
		base64.StdEncoding.EncodeToString(eeCert.Raw),
		base64.StdEncoding.EncodeToString(root.Cert.Raw),
	}
	return eeKey, x5c, nil
}

func CalcKID(pub *ecdsa.PublicKey, hashAlgo string) []byte {
	b := elliptic.Marshal(pub.Curve, pub.X, pub.Y)

	var h hash.Hash
	switch hashAlgo {
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	default:
		h = sha256.New()
	}

	h.Write(b)
	return h.Sum(nil)
}
