package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

var (
	// OIDDocumentSigner is the extended key usage of an mdoc document signer.
	OIDDocumentSigner = asn1.ObjectIdentifier{1, 0, 18013, 5, 1, 2}
	// OIDReaderAuth is the extended key usage of an mdoc reader.
	OIDReaderAuth = asn1.ObjectIdentifier{1, 0, 18013, 5, 1, 6}

	// Just specify something
	CRLPoint = "https://preprod.pki.eudiw.dev/crl/pid_CA_UT_01.crl"
)

// Authority is a CA certificate with its signing key.
type Authority struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

type certConfig struct {
	notBefore time.Time
	notAfter  time.Time
	dnsNames  []string
	usage     []asn1.ObjectIdentifier
	serial    *big.Int
}

type CertOption func(*certConfig)

func WithValidity(notBefore, notAfter time.Time) CertOption {
	return func(c *certConfig) {
		c.notBefore = notBefore
		c.notAfter = notAfter
	}
}

func WithDNSNames(names ...string) CertOption {
	return func(c *certConfig) {
		c.dnsNames = names
	}
}

func WithUsage(oids ...asn1.ObjectIdentifier) CertOption {
	return func(c *certConfig) {
		c.usage = oids
	}
}

func WithSerialNumber(serial *big.Int) CertOption {
	return func(c *certConfig) {
		c.serial = serial
	}
}

func newCertConfig(years int, opts []CertOption) (*certConfig, error) {
	now := time.Now()
	c := &certConfig{
		notBefore: now.Add(-time.Minute),
		notAfter:  now.AddDate(years, 0, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.serial == nil {
		serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
		if err != nil {
			return nil, fmt.Errorf("failed to generate serial number: %w", err)
		}
		c.serial = serial.Add(serial, big.NewInt(1))
	}
	return c, nil
}

// NewRootCA creates a self-signed root with a fresh P-256 key.
func NewRootCA(commonName string, opts ...CertOption) (*Authority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	cert, _, err := createRootCertificate(key, commonName, opts...)
	if err != nil {
		return nil, err
	}
	return &Authority{Cert: cert, Key: key}, nil
}

func createRootCertificate(key *ecdsa.PrivateKey, commonName string, opts ...CertOption) (*x509.Certificate, []byte, error) {
	cfg, err := newCertConfig(10, opts)
	if err != nil {
		return nil, nil, err
	}
	template := x509.Certificate{
		SerialNumber:          cfg.serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             cfg.notBefore,
		NotAfter:              cfg.notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
		SubjectKeyId:          CalcKID(&key.PublicKey, "sha1"),
		CRLDistributionPoints: []string{CRLPoint},
	}
	return create(&template, &template, &key.PublicKey, key)
}

// NewIntermediateCA issues a CA certificate below a.
func (a *Authority) NewIntermediateCA(commonName string, opts ...CertOption) (*Authority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	cfg, err := newCertConfig(5, opts)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          cfg.serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             cfg.notBefore,
		NotAfter:              cfg.notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
		SubjectKeyId:          CalcKID(&key.PublicKey, "sha1"),
		AuthorityKeyId:        a.Cert.SubjectKeyId,
	}
	cert, _, err := create(&template, a.Cert, &key.PublicKey, a.Key)
	if err != nil {
		return nil, err
	}
	return &Authority{Cert: cert, Key: key}, nil
}

// IssueLeaf issues an end-entity certificate for pub.
func (a *Authority) IssueLeaf(commonName string, pub *ecdsa.PublicKey, opts ...CertOption) (*x509.Certificate, error) {
	cfg, err := newCertConfig(1, opts)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          cfg.serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             cfg.notBefore,
		NotAfter:              cfg.notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		UnknownExtKeyUsage:    cfg.usage,
		BasicConstraintsValid: true,
		IsCA:                  false,
		DNSNames:              cfg.dnsNames,
		SubjectKeyId:          CalcKID(pub, "sha1"),
		AuthorityKeyId:        a.Cert.SubjectKeyId,
		CRLDistributionPoints: []string{CRLPoint},
	}
	cert, _, err := create(&template, a.Cert, pub, a.Key)
	return cert, err
}

// IssueCRL signs a CRL revoking the given serial numbers.
func (a *Authority) IssueCRL(revoked ...*big.Int) (*x509.RevocationList, error) {
	now := time.Now()
	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, serial := range revoked {
		entries = append(entries, x509.RevocationListEntry{SerialNumber: serial, RevocationTime: now})
	}
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(now.Unix()),
		ThisUpdate:                now.Add(-time.Minute),
		NextUpdate:                now.AddDate(0, 0, 7),
		RevokedCertificateEntries: entries,
	}, a.Cert, a.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create CRL: %w", err)
	}
	return x509.ParseRevocationList(der)
}

func create(template, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) (*x509.Certificate, []byte, error) {
	derBytes, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, nil, err
	}
	return cert, derBytes, nil
}
