package pki

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"sync"
	"time"
)

// CRLChecker checks certificates against CRLs keyed by issuer. A
// certificate whose issuer has no CRL is accepted unless Strict is set.
type CRLChecker struct {
	mu     sync.RWMutex
	crls   []*x509.RevocationList
	now    func() time.Time
	Strict bool
}

func NewCRLChecker() *CRLChecker {
	return &CRLChecker{now: time.Now}
}

// Add verifies crl against issuer before storing it.
func (c *CRLChecker) Add(crl *x509.RevocationList, issuer *x509.Certificate) error {
	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return fmt.Errorf("failed to verify CRL signature: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crls = append(c.crls, crl)
	return nil
}

// AddDER parses and adds a DER encoded CRL.
func (c *CRLChecker) AddDER(der []byte, issuer *x509.Certificate) error {
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return fmt.Errorf("failed to parse CRL: %w", err)
	}
	return c.Add(crl, issuer)
}

func (c *CRLChecker) CheckRevocation(cert, issuer *x509.Certificate) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	found := false
	for _, crl := range c.crls {
		if !bytes.Equal(crl.RawIssuer, issuer.RawSubject) || crl.CheckSignatureFrom(issuer) != nil {
			continue
		}
		if !crl.NextUpdate.IsZero() && c.now().After(crl.NextUpdate) {
			continue
		}
		found = true
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return fmt.Errorf("%w: serial %s issued by %s", ErrRevoked, cert.SerialNumber, issuer.Subject)
			}
		}
	}
	if !found && c.Strict {
		return fmt.Errorf("%w: no current CRL for %s", ErrRevoked, issuer.Subject)
	}
	return nil
}
