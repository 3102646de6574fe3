package server

import (
	"time"

	"github.com/kokukuma/mdoc-proximity/document"
	"github.com/kokukuma/mdoc-proximity/mdoc"
)

type Config struct {
	// Domain is the relying party host. It is the client_id of request
	// objects and the DNS name of the reader certificate.
	Domain string
	// RootCertsDir holds the trusted issuer (IACA) certificates managed
	// through /api/certificates.
	RootCertsDir string
	// KeysDir persists the reader root CA. Empty means an in-memory root
	// that changes on every start.
	KeysDir string
	// Request is asked of every holder. Its algorithms bound the accepted
	// issuer and device signatures.
	Request    document.CredentialRequirement
	SessionTTL time.Duration
	// RequestTimeout bounds one proximity session over websocket.
	RequestTimeout time.Duration
}

func defaultRequest() (document.CredentialRequirement, error) {
	mdl, err := document.NewCredential("mdl", document.IsoMDL, document.ISO1801351,
		[]mdoc.ElementIdentifier{
			document.IsoFamilyName,
			document.IsoGivenName,
			document.IsoBirthDate,
			document.IsoDocumentNumber,
		},
		document.WithAlgorithms(document.SupportedAlgorithms()...),
	)
	if err != nil {
		return document.CredentialRequirement{}, err
	}
	return document.NewCredentialRequirement(mdl)
}

func (c Config) withDefaults() (Config, error) {
	if c.Domain == "" {
		c.Domain = "localhost"
	}
	if len(c.Request.Credentials) == 0 {
		request, err := defaultRequest()
		if err != nil {
			return c, err
		}
		c.Request = request
	}
	if err := c.Request.Validate(); err != nil {
		return c, err
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 10 * time.Minute
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Minute
	}
	return c, nil
}
