package mdoc

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"sort"
	"time"

	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
	"github.com/kokukuma/mdoc-proximity/pkg/cosekey"
	"github.com/kokukuma/mdoc-proximity/pkg/hash"
)

const randomSize = 16

type IssuerOption func(*Issuer)

func WithDigestAlgorithm(alg string) IssuerOption {
	return func(i *Issuer) {
		i.digestAlg = alg
	}
}

// WithValidity sets the validity period of issued documents, starting at
// the signing time.
func WithValidity(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.validity = d
	}
}

func WithIssueTime(t time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = func() time.Time { return t }
	}
}

// Issuer signs mobile security objects with a document signer key.
type Issuer struct {
	signer    cose.Signer
	chain     []*x509.Certificate
	digestAlg string
	validity  time.Duration
	now       func() time.Time
}

// NewIssuer returns an Issuer. chain is the document signer chain, leaf
// first; it is placed in the x5chain header.
func NewIssuer(signer cose.Signer, chain []*x509.Certificate, opts ...IssuerOption) (*Issuer, error) {
	if len(chain) == 0 {
		return nil, ErrMissingX5Chain
	}
	i := &Issuer{
		signer:    signer,
		chain:     chain,
		digestAlg: hash.SHA256,
		validity:  365 * 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if _, err := hash.New(i.digestAlg); err != nil {
		return nil, err
	}
	return i, nil
}

// Issue creates the IssuerSigned structure of a document holding elements,
// bound to deviceKey.
func (i *Issuer) Issue(docType DocType, deviceKey *ecdsa.PublicKey, elements map[NameSpace]map[ElementIdentifier]ElementValue) (*IssuerSigned, error) {
	coseKey, err := cosekey.FromECDSA(deviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert device key: %w", err)
	}

	nameSpaces := IssuerNameSpaces{}
	valueDigests := ValueDigests{}
	var nextID DigestID

	for _, ns := range sortedNameSpaces(elements) {
		valueDigests[ns] = DigestIDs{}
		for _, id := range sortedElements(elements[ns]) {
			random := make([]byte, randomSize)
			if _, err := rand.Read(random); err != nil {
				return nil, fmt.Errorf("failed to generate random: %w", err)
			}
			itemBytes, err := cborutil.Marshal(IssuerSignedItem{
				DigestID:          nextID,
				Random:            random,
				ElementIdentifier: id,
				ElementValue:      elements[ns][id],
			})
			if err != nil {
				return nil, fmt.Errorf("failed to marshal %s/%s: %w", ns, id, err)
			}
			d, err := IssuerSignedItemBytes(itemBytes).Digest(i.digestAlg)
			if err != nil {
				return nil, err
			}
			nameSpaces[ns] = append(nameSpaces[ns], itemBytes)
			valueDigests[ns][nextID] = d
			nextID++
		}
	}

	signed := i.now().UTC().Truncate(time.Second)
	mso := MobileSecurityObject{
		Version:         MSOVersion,
		DigestAlgorithm: i.digestAlg,
		ValueDigests:    valueDigests,
		DeviceKeyInfo:   DeviceKeyInfo{DeviceKey: coseKey},
		DocType:         docType,
		ValidityInfo: ValidityInfo{
			Signed:     signed,
			ValidFrom:  signed,
			ValidUntil: signed.Add(i.validity),
		},
	}
	msoBytes, err := cborutil.Marshal(mso)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal MSO: %w", err)
	}
	payload, err := cborutil.WrapTag24(msoBytes)
	if err != nil {
		return nil, err
	}

	issuerAuth := &cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{},
			Unprotected: cose.UnprotectedHeader{
				cose.HeaderLabelX5Chain: x5chainHeader(i.chain),
			},
		},
		Payload: payload,
	}
	issuerAuth.Headers.Protected.SetAlgorithm(i.signer.Algorithm())
	if err := issuerAuth.Sign(rand.Reader, nil, i.signer); err != nil {
		return nil, fmt.Errorf("failed to sign MSO: %w", err)
	}

	return &IssuerSigned{NameSpaces: nameSpaces, IssuerAuth: issuerAuth}, nil
}

func sortedNameSpaces(m map[NameSpace]map[ElementIdentifier]ElementValue) []NameSpace {
	nss := make([]NameSpace, 0, len(m))
	for ns := range m {
		nss = append(nss, ns)
	}
	sort.Slice(nss, func(a, b int) bool { return nss[a] < nss[b] })
	return nss
}

func sortedElements(m map[ElementIdentifier]ElementValue) []ElementIdentifier {
	ids := make([]ElementIdentifier, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}
