package server

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/kokukuma/mdoc-proximity/internal/cryptoroot"
	"github.com/kokukuma/mdoc-proximity/pkg/custodian"
	"github.com/veraison/go-cose"
)

const readerRootName = "mdoc-proximity Reader Root"

// readerIdentity is the key and certificate chain this server uses for
// mdoc reader authentication and for signing request objects.
type readerIdentity struct {
	root      *cryptoroot.Authority
	custodian custodian.KeyCustodian
	keyID     custodian.KeyID
	publicKey *ecdsa.PublicKey
	signer    cose.Signer
	chain     []*x509.Certificate
}

func newReaderIdentity(cfg Config) (*readerIdentity, error) {
	var root *cryptoroot.Authority
	var err error
	if cfg.KeysDir != "" {
		root, err = cryptoroot.LoadOrCreateRoot(cfg.KeysDir, readerRootName)
	} else {
		root, err = cryptoroot.NewRootCA(readerRootName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reader root: %w", err)
	}

	priv, x5c, err := cryptoroot.GenECDSAKeys(root, cfg.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to issue reader certificate: %w", err)
	}
	chain := make([]*x509.Certificate, 0, len(x5c))
	for _, s := range x5c {
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}

	keys := custodian.NewMemory()
	keyID, err := keys.Import(custodian.ES256, priv)
	if err != nil {
		return nil, err
	}
	signer, err := custodian.NewCOSESigner(keys, keyID)
	if err != nil {
		return nil, err
	}

	return &readerIdentity{
		root:      root,
		custodian: keys,
		keyID:     keyID,
		publicKey: &priv.PublicKey,
		signer:    signer,
		chain:     chain,
	}, nil
}
