package server

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kokukuma/mdoc-proximity/pkg/pki"
	"go.uber.org/zap"
)

var ErrInvalidCertificate = errors.New("invalid certificate data")

// CertManager manages the trusted issuer root certificates stored as PEM
// files in one directory.
type CertManager struct {
	mu       sync.RWMutex
	pemsDir  string
	certPool *pki.CertPool
	logger   *zap.Logger
}

// CertInfo contains information about a certificate
type CertInfo struct {
	Filename    string `json:"filename"`
	Subject     string `json:"subject"`
	Issuer      string `json:"issuer"`
	ValidFrom   string `json:"valid_from"`
	ValidTo     string `json:"valid_to"`
	Fingerprint string `json:"fingerprint"`
}

func newCertInfo(filename string, cert *x509.Certificate) CertInfo {
	return CertInfo{
		Filename:    filename,
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		ValidFrom:   cert.NotBefore.Format("2006-01-02"),
		ValidTo:     cert.NotAfter.Format("2006-01-02"),
		Fingerprint: fmt.Sprintf("%X", cert.SubjectKeyId),
	}
}

func NewCertManager(pemsDir string, logger *zap.Logger) (*CertManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(pemsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create certificates directory: %w", err)
	}
	cm := &CertManager{
		pemsDir: pemsDir,
		logger:  logger,
	}
	if err := cm.ReloadCertificates(); err != nil {
		return nil, err
	}
	return cm, nil
}

// Validator returns a validator anchored on the current certificates. With
// no certificates loaded it rejects every chain.
func (cm *CertManager) Validator(opts ...pki.ValidatorOption) *pki.Validator {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.certPool.Certificates()) == 0 {
		cm.logger.Warn("no trusted root certificates loaded", zap.String("dir", cm.pemsDir))
	}

	opts = append([]pki.ValidatorOption{
		pki.WithTrustAnchorPool(cm.certPool),
		pki.WithLogger(cm.logger),
	}, opts...)
	return pki.NewValidator(opts...)
}

func (cm *CertManager) ReloadCertificates() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	return cm.reloadCertificatesNoLock()
}

// reloadCertificatesNoLock must be called with mu held.
func (cm *CertManager) reloadCertificatesNoLock() error {
	pool, err := pki.GetRootCertificates(cm.pemsDir, cm.logger)
	if err != nil {
		return fmt.Errorf("failed to read certificates directory: %w", err)
	}
	cm.certPool = pool
	cm.logger.Info("loaded root certificates",
		zap.String("dir", cm.pemsDir),
		zap.Int("count", len(pool.Certificates())))
	return nil
}

// pemFilename keeps names inside pemsDir and adds the .pem extension.
func pemFilename(filename string) (string, error) {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid filename: %q", filename)
	}
	if !strings.HasSuffix(filename, ".pem") {
		filename = filename + ".pem"
	}
	return filename, nil
}

func (cm *CertManager) readCertificate(filename string) (*x509.Certificate, []byte, error) {
	pemData, err := os.ReadFile(filepath.Join(cm.pemsDir, filename))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	certs, err := pki.ParseCertificatesPEM(pemData)
	if err != nil {
		return nil, nil, err
	}
	if len(certs) == 0 {
		return nil, nil, ErrInvalidCertificate
	}
	return certs[0], pemData, nil
}

func (cm *CertManager) ListCertificates() ([]CertInfo, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	files, err := os.ReadDir(cm.pemsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificates directory: %w", err)
	}

	certs := []CertInfo{}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".pem") {
			continue
		}
		cert, _, err := cm.readCertificate(file.Name())
		if err != nil {
			cm.logger.Warn("skipping certificate", zap.String("file", file.Name()), zap.Error(err))
			continue
		}
		certs = append(certs, newCertInfo(file.Name(), cert))
	}
	return certs, nil
}

// AddCertificate stores a PEM certificate and reloads the pool. An empty
// filename is derived from the subject key identifier.
func (cm *CertManager) AddCertificate(filename string, certData []byte) (*CertInfo, error) {
	certs, err := pki.ParseCertificatesPEM(certData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if len(certs) == 0 {
		return nil, ErrInvalidCertificate
	}
	if filename == "" {
		filename = fmt.Sprintf("%X", certs[0].SubjectKeyId)
	}
	filename, err = pemFilename(filename)
	if err != nil {
		return nil, err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.WriteFile(filepath.Join(cm.pemsDir, filename), certData, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write certificate file: %w", err)
	}
	info := newCertInfo(filename, certs[0])
	return &info, cm.reloadCertificatesNoLock()
}

func (cm *CertManager) DeleteCertificate(filename string) error {
	filename, err := pemFilename(filename)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.Remove(filepath.Join(cm.pemsDir, filename)); err != nil {
		return fmt.Errorf("failed to delete certificate file: %w", err)
	}
	return cm.reloadCertificatesNoLock()
}

func (cm *CertManager) GetCertificate(filename string) (*CertInfo, []byte, error) {
	filename, err := pemFilename(filename)
	if err != nil {
		return nil, nil, err
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	cert, pemData, err := cm.readCertificate(filename)
	if err != nil {
		return nil, nil, err
	}
	info := newCertInfo(filename, cert)
	return &info, pemData, nil
}
