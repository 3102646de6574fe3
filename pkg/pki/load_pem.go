package pki

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// CertPool is an x509.CertPool that also keeps its certificates, which the
// standard pool does not expose.
type CertPool struct {
	*x509.CertPool
	certs []*x509.Certificate
}

func NewCertPool() *CertPool {
	return &CertPool{CertPool: x509.NewCertPool()}
}

func (p *CertPool) AddCert(cert *x509.Certificate) {
	p.CertPool.AddCert(cert)
	p.certs = append(p.certs, cert)
}

// AppendCertsFromPEM adds every certificate in pemCerts and reports whether
// any was added.
func (p *CertPool) AppendCertsFromPEM(pemCerts []byte) bool {
	certs, err := ParseCertificatesPEM(pemCerts)
	if err != nil || len(certs) == 0 {
		return false
	}
	for _, cert := range certs {
		p.AddCert(cert)
	}
	return true
}

func (p *CertPool) Certificates() []*x509.Certificate {
	certs := make([]*x509.Certificate, len(p.certs))
	copy(certs, p.certs)
	return certs
}

func ParseCertificatesPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %s, err: %w", path, err)
	}
	certs, err := ParseCertificatesPEM(data)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate in %s", path)
	}
	return certs[0], nil
}

func GetRootCertificate(path string) (*CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %s, err: %w", path, err)
	}
	roots := NewCertPool()
	if ok := roots.AppendCertsFromPEM(data); !ok {
		return nil, fmt.Errorf("failed to load pem")
	}
	return roots, nil
}

// GetRootCertificates loads every .pem file of dir. Unreadable or invalid
// files are logged and skipped.
func GetRootCertificates(dir string, logger *zap.Logger) (*CertPool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pems, err := loadCertificatesFromDirectory(dir, logger)
	if err != nil {
		return nil, err
	}

	roots := NewCertPool()
	for name, data := range pems {
		if ok := roots.AppendCertsFromPEM(data); !ok {
			logger.Warn("failed to load pem", zap.String("file", name))
		}
	}
	return roots, nil
}

func loadCertificatesFromDirectory(dirPath string, logger *zap.Logger) (map[string][]byte, error) {
	pems := map[string][]byte{}

	files, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".pem") {
			continue
		}
		filePath := filepath.Join(dirPath, file.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn("failed to read file", zap.String("path", filePath), zap.Error(err))
			continue
		}
		pems[file.Name()] = data
	}
	return pems, nil
}
