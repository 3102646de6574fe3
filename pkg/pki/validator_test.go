package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokukuma/mdoc-proximity/internal/cryptoroot"
)

type testPKI struct {
	root  *cryptoroot.Authority
	inter *cryptoroot.Authority
	leaf  *x509.Certificate
}

func newTestPKI(t *testing.T, opts ...cryptoroot.CertOption) *testPKI {
	t.Helper()
	root, err := cryptoroot.NewRootCA("Test IACA")
	require.NoError(t, err)
	inter, err := root.NewIntermediateCA("Test Intermediate")
	require.NoError(t, err)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leaf, err := inter.IssueLeaf("Test DS", &key.PublicKey, opts...)
	require.NoError(t, err)
	return &testPKI{root: root, inter: inter, leaf: leaf}
}

func TestValidate(t *testing.T) {
	p := newTestPKI(t)
	other := newTestPKI(t)

	future := newTestPKI(t, cryptoroot.WithValidity(
		time.Now().Add(24*time.Hour), time.Now().Add(48*time.Hour)))

	tests := []struct {
		name      string
		chain     AccessCertificate
		opts      []ValidatorOption
		valid     bool
		wantCause error
	}{
		{
			name:      "self-signed tail without anchors",
			chain:     AccessCertificate{p.leaf, p.inter.Cert, p.root.Cert},
			wantCause: ErrUntrustedRoot,
		},
		{
			name:  "self-signed tail allowed without anchors",
			chain: AccessCertificate{p.leaf, p.inter.Cert, p.root.Cert},
			opts:  []ValidatorOption{WithSelfSignedRoots()},
			valid: true,
		},
		{
			name:      "self-signed roots do not override anchors",
			chain:     AccessCertificate{p.leaf, p.inter.Cert, p.root.Cert},
			opts:      []ValidatorOption{WithSelfSignedRoots(), WithTrustAnchors(other.root.Cert)},
			wantCause: ErrUntrustedRoot,
		},
		{
			name:      "leaf only without anchors",
			chain:     AccessCertificate{p.leaf},
			opts:      []ValidatorOption{WithSelfSignedRoots()},
			wantCause: ErrUntrustedRoot,
		},
		{
			name:  "self-signed tail in anchors",
			chain: AccessCertificate{p.leaf, p.inter.Cert, p.root.Cert},
			opts:  []ValidatorOption{WithTrustAnchors(p.root.Cert)},
			valid: true,
		},
		{
			name:      "self-signed tail not in anchors",
			chain:     AccessCertificate{p.leaf, p.inter.Cert, p.root.Cert},
			opts:      []ValidatorOption{WithTrustAnchors(other.root.Cert)},
			wantCause: ErrUntrustedRoot,
		},
		{
			name:  "anchors as root set",
			chain: AccessCertificate{p.leaf, p.inter.Cert},
			opts:  []ValidatorOption{WithTrustAnchors(other.root.Cert, p.root.Cert)},
			valid: true,
		},
		{
			name:      "no root and no anchors",
			chain:     AccessCertificate{p.leaf, p.inter.Cert},
			wantCause: ErrUntrustedRoot,
		},
		{
			name:  "missing intermediate",
			chain: AccessCertificate{p.leaf},
			opts:  []ValidatorOption{WithTrustAnchors(p.root.Cert)},
		},
		{
			name:  "mixed chains",
			chain: AccessCertificate{p.leaf, other.inter.Cert, other.root.Cert},
			opts:  []ValidatorOption{WithTrustAnchors(other.root.Cert)},
		},
		{
			name:  "leaf not yet valid",
			chain: AccessCertificate{future.leaf, future.inter.Cert, future.root.Cert},
			opts:  []ValidatorOption{WithTrustAnchors(future.root.Cert)},
		},
		{
			name:  "validation time inside validity",
			chain: AccessCertificate{future.leaf, future.inter.Cert, future.root.Cert},
			opts: []ValidatorOption{
				WithTrustAnchors(future.root.Cert),
				WithCurrentTime(time.Now().Add(36 * time.Hour)),
			},
			valid: true,
		},
		{
			name:  "validation time after expiry",
			chain: AccessCertificate{future.leaf, future.inter.Cert, future.root.Cert},
			opts: []ValidatorOption{
				WithTrustAnchors(future.root.Cert),
				WithCurrentTime(time.Now().Add(72 * time.Hour)),
			},
		},
		{
			name:      "empty chain",
			chain:     AccessCertificate{},
			wantCause: ErrEmptyChain,
		},
		{
			name:  "expected root key id",
			chain: AccessCertificate{p.leaf, p.inter.Cert, p.root.Cert},
			opts:  []ValidatorOption{WithTrustAnchors(p.root.Cert), WithExpectedRootKeyID(p.root.Cert.SubjectKeyId)},
			valid: true,
		},
		{
			name:      "unexpected root key id",
			chain:     AccessCertificate{p.leaf, p.inter.Cert, p.root.Cert},
			opts:      []ValidatorOption{WithTrustAnchors(p.root.Cert), WithExpectedRootKeyID(other.root.Cert.SubjectKeyId)},
			wantCause: ErrUnexpectedRoot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewValidator(tt.opts...).Validate(tt.chain)

			assert.Equal(t, tt.valid, result.Valid)
			if !tt.valid {
				require.Error(t, result.Cause)
				assert.Nil(t, result.Chain)
				assert.True(t, IsTrustError(result.Cause), "unexpected cause: %v", result.Cause)
				if tt.wantCause != nil {
					assert.True(t, errors.Is(result.Cause, tt.wantCause), "unexpected cause: %v", result.Cause)
				}
				return
			}
			require.NoError(t, result.Cause)
			assert.Equal(t, tt.chain[0], result.Chain[0])
			assert.True(t, result.Root.Equal(p.root.Cert) || result.Root.Equal(future.root.Cert))
		})
	}
}

func TestRootKeyIDMatches(t *testing.T) {
	p := newTestPKI(t)
	result := NewValidator(WithTrustAnchors(p.root.Cert)).Validate(AccessCertificate{p.leaf, p.inter.Cert, p.root.Cert})
	require.True(t, result.Valid)

	assert.True(t, result.RootKeyIDMatches(p.root.Cert.SubjectKeyId))
	assert.False(t, result.RootKeyIDMatches(p.inter.Cert.SubjectKeyId))
	assert.False(t, result.RootKeyIDMatches(nil))
	assert.False(t, TrustValidationResult{}.RootKeyIDMatches(p.root.Cert.SubjectKeyId))
}

func TestRevocation(t *testing.T) {
	p := newTestPKI(t)
	chain := AccessCertificate{p.leaf, p.inter.Cert, p.root.Cert}

	crl, err := p.inter.IssueCRL(p.leaf.SerialNumber)
	require.NoError(t, err)

	checker := NewCRLChecker()
	require.NoError(t, checker.Add(crl, p.inter.Cert))
	assert.Error(t, checker.Add(crl, p.root.Cert))

	assert.True(t, NewValidator(WithTrustAnchors(p.root.Cert)).Validate(chain).Valid, "revocation is off by default")

	result := NewValidator(WithTrustAnchors(p.root.Cert), WithRevocationChecker(checker)).Validate(chain)
	assert.False(t, result.Valid)
	assert.ErrorIs(t, result.Cause, ErrRevoked)

	other := newTestPKI(t)
	result = NewValidator(WithTrustAnchors(other.root.Cert), WithRevocationChecker(checker)).
		Validate(AccessCertificate{other.leaf, other.inter.Cert, other.root.Cert})
	assert.True(t, result.Valid)

	strict := NewCRLChecker()
	strict.Strict = true
	result = NewValidator(WithTrustAnchors(other.root.Cert), WithRevocationChecker(strict)).
		Validate(AccessCertificate{other.leaf, other.inter.Cert, other.root.Cert})
	assert.ErrorIs(t, result.Cause, ErrRevoked)
}

func TestLoadPEM(t *testing.T) {
	p := newTestPKI(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "root.pem"), cryptoroot.CertificatePEM(p.root.Cert), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pem"), []byte("not a pem"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	pool, err := GetRootCertificates(dir, nil)
	require.NoError(t, err)
	certs := pool.Certificates()
	require.Len(t, certs, 1)
	assert.True(t, certs[0].Equal(p.root.Cert))

	result := NewValidator(WithTrustAnchorPool(pool)).Validate(AccessCertificate{p.leaf, p.inter.Cert})
	assert.True(t, result.Valid)

	cert, err := LoadCertificate(filepath.Join(dir, "root.pem"))
	require.NoError(t, err)
	assert.True(t, cert.Equal(p.root.Cert))

	_, err = GetRootCertificate(filepath.Join(dir, "broken.pem"))
	assert.Error(t, err)
}

func TestLoadPrivateKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pemBytes, err := cryptoroot.PrivateKeyPEM(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))

	signing, err := LoadSigningKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(signing))

	agreement, err := LoadPrivateKey(path)
	require.NoError(t, err)
	want, err := key.ECDH()
	require.NoError(t, err)
	assert.True(t, want.Equal(agreement))
}
