// Package pki validates certificate chains of issuers, readers and relying
// parties against configured trust anchors.
package pki

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	ErrEmptyChain     = errors.New("certificate chain is empty")
	ErrUntrustedRoot  = errors.New("root certificate is not a trust anchor")
	ErrUnexpectedRoot = errors.New("root key identifier does not match")
	ErrRevoked        = errors.New("certificate is revoked")
)

// AccessCertificate is a certificate chain, leaf first.
type AccessCertificate []*x509.Certificate

func (c AccessCertificate) Leaf() *x509.Certificate {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// ParseAccessCertificate parses DER certificates, leaf first.
func ParseAccessCertificate(ders [][]byte) (AccessCertificate, error) {
	if len(ders) == 0 {
		return nil, ErrEmptyChain
	}
	chain := make(AccessCertificate, 0, len(ders))
	for i, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", i, err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// TrustValidationResult is either valid with the verified chain, or
// invalid with a cause. It is never partially valid.
type TrustValidationResult struct {
	Valid bool
	// Chain is the verified path, leaf first, ending at Root.
	Chain []*x509.Certificate
	Root  *x509.Certificate
	Cause error
}

// RootKeyIDMatches reports whether the verified root has the given subject
// key identifier.
func (r TrustValidationResult) RootKeyIDMatches(ski []byte) bool {
	return r.Valid && r.Root != nil && len(ski) > 0 && bytes.Equal(r.Root.SubjectKeyId, ski)
}

func invalid(cause error) TrustValidationResult {
	return TrustValidationResult{Cause: cause}
}

// RevocationChecker reports ErrRevoked (wrapped) for a revoked certificate.
type RevocationChecker interface {
	CheckRevocation(cert, issuer *x509.Certificate) error
}

type ValidatorOption func(*Validator)

// WithTrustAnchors restricts the accepted roots.
func WithTrustAnchors(anchors ...*x509.Certificate) ValidatorOption {
	return func(v *Validator) {
		v.anchors = append(v.anchors, anchors...)
	}
}

// WithTrustAnchorPool adds anchors from a pool built with the PEM loaders.
func WithTrustAnchorPool(pool *CertPool) ValidatorOption {
	return func(v *Validator) {
		if pool != nil {
			v.anchors = append(v.anchors, pool.Certificates()...)
		}
	}
}

// WithCurrentTime fixes the validation time. The default is time.Now at
// each call.
func WithCurrentTime(t time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = func() time.Time { return t }
	}
}

// WithRevocationChecker enables revocation checking. Revocation is not
// checked by default.
func WithRevocationChecker(rc RevocationChecker) ValidatorOption {
	return func(v *Validator) {
		v.revocation = rc
	}
}

// WithExpectedRootKeyID requires the verified root to have the given
// subject key identifier.
func WithExpectedRootKeyID(ski []byte) ValidatorOption {
	return func(v *Validator) {
		v.rootKeyID = ski
	}
}

// WithSelfSignedRoots accepts a self-signed chain tail as the root when no
// trust anchors are configured. Without it an anchor-less validator rejects
// every chain.
func WithSelfSignedRoots() ValidatorOption {
	return func(v *Validator) {
		v.selfSignedRoots = true
	}
}

func WithLogger(logger *zap.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// Validator is immutable after construction and safe for concurrent use.
type Validator struct {
	anchors         []*x509.Certificate
	selfSignedRoots bool
	now             func() time.Time
	revocation      RevocationChecker
	rootKeyID       []byte
	logger          *zap.Logger
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Anchors returns the configured trust anchors.
func (v *Validator) Anchors() []*x509.Certificate {
	anchors := make([]*x509.Certificate, len(v.anchors))
	copy(anchors, v.anchors)
	return anchors
}

func isSelfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawIssuer, cert.RawSubject) && cert.CheckSignatureFrom(cert) == nil
}

func (v *Validator) isAnchor(cert *x509.Certificate) bool {
	for _, anchor := range v.anchors {
		if anchor.Equal(cert) {
			return true
		}
	}
	return false
}

// HasAnchors reports whether any trust anchor is configured.
func (v *Validator) HasAnchors() bool {
	return len(v.anchors) > 0
}

// Validate builds and verifies a path from the chain's leaf to a root.
//
// A self-signed last entry is the root candidate and must be one of the
// anchors, unless WithSelfSignedRoots is set and there are no anchors.
// Without a self-signed tail the anchors are the root set. The remaining
// entries are intermediates.
func (v *Validator) Validate(chain AccessCertificate) TrustValidationResult {
	if len(chain) == 0 || chain[0] == nil {
		return invalid(ErrEmptyChain)
	}
	if len(v.anchors) == 0 && !v.selfSignedRoots {
		return invalid(fmt.Errorf("%w: no trust anchors configured", ErrUntrustedRoot))
	}

	roots := x509.NewCertPool()
	intermediates := x509.NewCertPool()

	last := chain[len(chain)-1]
	tail := chain
	if len(chain) > 1 && isSelfSigned(last) {
		if v.HasAnchors() && !v.isAnchor(last) {
			return invalid(fmt.Errorf("%w: %s", ErrUntrustedRoot, last.Subject))
		}
		roots.AddCert(last)
		tail = chain[:len(chain)-1]
	} else {
		if !v.HasAnchors() {
			return invalid(fmt.Errorf("%w: no trust anchors configured", ErrUntrustedRoot))
		}
		for _, anchor := range v.anchors {
			roots.AddCert(anchor)
		}
	}
	for _, cert := range tail[1:] {
		if cert == nil {
			return invalid(ErrEmptyChain)
		}
		if !isSelfSigned(cert) {
			intermediates.AddCert(cert)
		}
	}

	leaf := chain[0]
	paths, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		v.logger.Debug("certificate chain rejected", zap.String("subject", leaf.Subject.String()), zap.Error(err))
		return invalid(fmt.Errorf("failed to verify certificate chain: %w", err))
	}

	path := paths[0]
	root := path[len(path)-1]
	if len(v.rootKeyID) > 0 && !bytes.Equal(root.SubjectKeyId, v.rootKeyID) {
		return invalid(ErrUnexpectedRoot)
	}

	if v.revocation != nil {
		for i := 0; i < len(path)-1; i++ {
			if err := v.revocation.CheckRevocation(path[i], path[i+1]); err != nil {
				return invalid(err)
			}
		}
	}

	return TrustValidationResult{Valid: true, Chain: path, Root: root}
}

// IsTrustError reports whether err is a chain validation failure.
func IsTrustError(err error) bool {
	var certErr x509.CertificateInvalidError
	var authErr x509.UnknownAuthorityError
	return errors.Is(err, ErrUntrustedRoot) ||
		errors.Is(err, ErrUnexpectedRoot) ||
		errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrEmptyChain) ||
		errors.As(err, &certErr) ||
		errors.As(err, &authErr)
}
