package mdoc

import (
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
	"github.com/kokukuma/mdoc-proximity/pkg/cosekey"
	"github.com/kokukuma/mdoc-proximity/pkg/pki"
)

type DocType string

type NameSpace string

type ElementIdentifier string

type ElementValue interface{}

const DeviceResponseVersion = "1.0"

// DeviceResponse status codes (ISO/IEC 18013-5 Table 8).
const (
	StatusOK                  uint = 0
	StatusGeneralError        uint = 10
	StatusCBORDecodingError   uint = 11
	StatusCBORValidationError uint = 12
)

type DeviceResponse struct {
	Version        string          `json:"version"`
	Documents      []Document      `json:"documents,omitempty"`
	DocumentErrors []DocumentError `json:"documentErrors,omitempty"`
	Status         uint            `json:"status"`
}

func (d DeviceResponse) GetDocument(docType DocType) (*Document, error) {
	for i := range d.Documents {
		if d.Documents[i].DocType == docType {
			return &d.Documents[i], nil
		}
	}
	return nil, fmt.Errorf("failed to find doc: doctype=%s", docType)
}

func (d *DeviceResponse) Encode() ([]byte, error) {
	return cborutil.Marshal(d)
}

func DecodeDeviceResponse(data []byte) (*DeviceResponse, error) {
	var resp DeviceResponse
	if err := cborutil.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device response: %w", err)
	}
	return &resp, nil
}

type Document struct {
	DocType      DocType      `json:"docType"`
	IssuerSigned IssuerSigned `json:"issuerSigned"`
	DeviceSigned DeviceSigned `json:"deviceSigned"`
	Errors       Errors       `json:"errors,omitempty"`
}

func (d *Document) GetElementValue(namespace NameSpace, elementIdentifier ElementIdentifier) (ElementValue, error) {
	if d.DocType == "" {
		return nil, fmt.Errorf("invalid document type")
	}
	items, err := d.IssuerSigned.GetIssuerSignedItems(namespace)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.ElementIdentifier == elementIdentifier {
			return item.Value(), nil
		}
	}
	return nil, fmt.Errorf("element %s not found in namespace %s", elementIdentifier, namespace)
}

type IssuerSigned struct {
	NameSpaces IssuerNameSpaces           `json:"nameSpaces,omitempty"`
	IssuerAuth *cose.UntaggedSign1Message `json:"issuerAuth"`
}

func (i *IssuerSigned) GetNameSpaces() []NameSpace {
	nss := make([]NameSpace, 0, len(i.NameSpaces))
	for ns := range i.NameSpaces {
		nss = append(nss, ns)
	}
	sort.Slice(nss, func(a, b int) bool { return nss[a] < nss[b] })
	return nss
}

func (i *IssuerSigned) GetIssuerSignedItems(ns NameSpace) ([]IssuerSignedItem, error) {
	if len(i.NameSpaces[ns]) == 0 {
		return nil, fmt.Errorf("namespace %s not found", ns)
	}
	isis := make([]IssuerSignedItem, 0, len(i.NameSpaces[ns]))
	for _, b := range i.NameSpaces[ns] {
		isi, err := b.IssuerSignedItem()
		if err != nil {
			return nil, fmt.Errorf("failed to parse issuerSignedItem: %w", err)
		}
		isis = append(isis, *isi)
	}
	return isis, nil
}

// Elements returns every disclosed element value by namespace.
func (i *IssuerSigned) Elements() (map[NameSpace]map[ElementIdentifier]ElementValue, error) {
	elements := make(map[NameSpace]map[ElementIdentifier]ElementValue, len(i.NameSpaces))
	for _, ns := range i.GetNameSpaces() {
		items, err := i.GetIssuerSignedItems(ns)
		if err != nil {
			return nil, err
		}
		values := make(map[ElementIdentifier]ElementValue, len(items))
		for _, item := range items {
			values[item.ElementIdentifier] = item.Value()
		}
		elements[ns] = values
	}
	return elements, nil
}

// Disclose returns a copy holding only the items requested in req, signed by
// the same IssuerAuth.
func (i *IssuerSigned) Disclose(req ItemsRequest) (*IssuerSigned, error) {
	disclosed := &IssuerSigned{
		NameSpaces: IssuerNameSpaces{},
		IssuerAuth: i.IssuerAuth,
	}
	for ns, elements := range req.NameSpaces {
		for _, b := range i.NameSpaces[ns] {
			item, err := b.IssuerSignedItem()
			if err != nil {
				return nil, fmt.Errorf("failed to parse issuerSignedItem: %w", err)
			}
			if _, ok := elements[item.ElementIdentifier]; ok {
				disclosed.NameSpaces[ns] = append(disclosed.NameSpaces[ns], b)
			}
		}
	}
	return disclosed, nil
}

func (i *IssuerSigned) Alg() (cose.Algorithm, error) {
	if i.IssuerAuth == nil || i.IssuerAuth.Headers.Protected == nil {
		return 0, ErrMissingProtectedHeader
	}
	return i.IssuerAuth.Headers.Protected.Algorithm()
}

func (i *IssuerSigned) DocumentSigningKey() (*ecdsa.PublicKey, error) {
	certificate, err := i.DocumentSigningCertificate()
	if err != nil {
		return nil, err
	}
	documentSigningKey, ok := certificate.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type: %T, expected *ecdsa.PublicKey", certificate.PublicKey)
	}
	return documentSigningKey, nil
}

func (i *IssuerSigned) DocumentSigningCertificate() (*x509.Certificate, error) {
	certificates, err := i.DocumentSigningCertificateChain()
	if err != nil {
		return nil, err
	}
	return certificates[0], nil
}

func (i *IssuerSigned) DocumentSigningCertificateChain() (pki.AccessCertificate, error) {
	if i.IssuerAuth == nil {
		return nil, ErrMissingIssuerAuth
	}
	return x5chain(i.IssuerAuth.Headers)
}

// x5chain reads the certificate chain from the unprotected header. A
// single certificate is a bstr, several are an array of bstr.
func x5chain(headers cose.Headers) (pki.AccessCertificate, error) {
	rawX5Chain, ok := headers.Unprotected[cose.HeaderLabelX5Chain]
	if !ok {
		rawX5Chain, ok = headers.Protected[cose.HeaderLabelX5Chain]
	}
	if !ok {
		return nil, ErrMissingX5Chain
	}

	var ders [][]byte
	switch v := rawX5Chain.(type) {
	case []byte:
		ders = [][]byte{v}
	case [][]byte:
		ders = v
	case []interface{}:
		for _, e := range v {
			der, ok := e.([]byte)
			if !ok {
				return nil, fmt.Errorf("unexpected x5chain entry type: %T", e)
			}
			ders = append(ders, der)
		}
	default:
		return nil, fmt.Errorf("unexpected x5chain type: %T", rawX5Chain)
	}
	return pki.ParseAccessCertificate(ders)
}

func x5chainHeader(chain []*x509.Certificate) interface{} {
	if len(chain) == 1 {
		return chain[0].Raw
	}
	ders := make([]interface{}, 0, len(chain))
	for _, cert := range chain {
		ders = append(ders, cert.Raw)
	}
	return ders
}

func (i *IssuerSigned) MobileSecurityObject() (*MobileSecurityObject, error) {
	if i.IssuerAuth == nil {
		return nil, ErrMissingIssuerAuth
	}
	if i.IssuerAuth.Payload == nil {
		return nil, ErrMissingPayload
	}
	content, err := cborutil.UnwrapTag24(i.IssuerAuth.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap MSO: %w", err)
	}
	var mso MobileSecurityObject
	if err := cborutil.Unmarshal(content, &mso); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MSO: %w", err)
	}
	return &mso, nil
}

type IssuerNameSpaces map[NameSpace][]IssuerSignedItemBytes

// IssuerSignedItemBytes holds the encoding of an IssuerSignedItem. On the
// wire it is #6.24(bstr).
type IssuerSignedItemBytes []byte

func (b IssuerSignedItemBytes) MarshalCBOR() ([]byte, error) {
	return cborutil.WrapTag24(b)
}

func (b *IssuerSignedItemBytes) UnmarshalCBOR(data []byte) error {
	return (*cborutil.TaggedCBOR)(b).UnmarshalCBOR(data)
}

func (b IssuerSignedItemBytes) IssuerSignedItem() (*IssuerSignedItem, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty issuer signed item bytes")
	}
	var item IssuerSignedItem
	if err := cborutil.Unmarshal(b, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal issuer signed item: %w", err)
	}
	return &item, nil
}

// Digest hashes #6.24(bstr .cbor IssuerSignedItem).
func (b IssuerSignedItemBytes) Digest(alg string) (Digest, error) {
	tagged, err := cborutil.WrapTag24(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tagged CBOR: %w", err)
	}
	return digest(tagged, alg)
}

type IssuerSignedItem struct {
	DigestID          DigestID          `json:"digestID"`
	Random            []byte            `json:"random"`
	ElementIdentifier ElementIdentifier `json:"elementIdentifier"`
	ElementValue      ElementValue      `json:"elementValue"`
}

// Value returns the element value with a semantic tag (full-date, tdate)
// removed.
func (i *IssuerSignedItem) Value() ElementValue {
	if tag, ok := i.ElementValue.(cbor.Tag); ok {
		return tag.Content
	}
	return i.ElementValue
}

const MSOVersion = "1.0"

type MobileSecurityObject struct {
	Version         string        `json:"version"`
	DigestAlgorithm string        `json:"digestAlgorithm"`
	ValueDigests    ValueDigests  `json:"valueDigests"`
	DeviceKeyInfo   DeviceKeyInfo `json:"deviceKeyInfo"`
	DocType         DocType       `json:"docType"`
	ValidityInfo    ValidityInfo  `json:"validityInfo"`
}

func (m *MobileSecurityObject) DeviceKey() (*ecdsa.PublicKey, error) {
	if m == nil || m.DeviceKeyInfo.DeviceKey == nil {
		return nil, ErrDeviceKeyNotAvailable
	}
	return m.DeviceKeyInfo.DeviceKey.ECDSA()
}

// GetDigest returns the digest of digestID in ns.
func (m *MobileSecurityObject) GetDigest(ns NameSpace, digestID DigestID) (Digest, error) {
	digests, ok := m.ValueDigests[ns]
	if !ok {
		return nil, &DigestNotFoundError{NameSpace: ns, DigestID: digestID}
	}
	d, ok := digests[digestID]
	if !ok {
		return nil, &DigestNotFoundError{NameSpace: ns, DigestID: digestID}
	}
	if len(d) == 0 {
		return nil, fmt.Errorf("%w: %s/%d", ErrEmptyDigest, ns, digestID)
	}
	return d, nil
}

type DeviceKeyInfo struct {
	DeviceKey         *cosekey.Key       `json:"deviceKey"`
	KeyAuthorizations *KeyAuthorizations `json:"keyAuthorizations,omitempty"`
	KeyInfo           KeyInfo            `json:"keyInfo,omitempty"`
}

type KeyAuthorizations struct {
	NameSpaces   []NameSpace                       `json:"nameSpaces,omitempty"`
	DataElements map[NameSpace][]ElementIdentifier `json:"dataElements,omitempty"`
}

// Authorizes reports whether the device key may sign element in ns.
func (k *KeyAuthorizations) Authorizes(ns NameSpace, element ElementIdentifier) bool {
	if k == nil {
		return false
	}
	for _, n := range k.NameSpaces {
		if n == ns {
			return true
		}
	}
	for _, e := range k.DataElements[ns] {
		if e == element {
			return true
		}
	}
	return false
}

type KeyInfo map[int]interface{}

type ValueDigests map[NameSpace]DigestIDs

type DigestIDs map[DigestID]Digest

type ValidityInfo struct {
	Signed         time.Time  `json:"signed"`
	ValidFrom      time.Time  `json:"validFrom"`
	ValidUntil     time.Time  `json:"validUntil"`
	ExpectedUpdate *time.Time `json:"expectedUpdate,omitempty"`
}

type DigestID uint32

// Digest is a non-empty hash value.
type Digest []byte

type DeviceSigned struct {
	NameSpaces DeviceNameSpacesBytes `json:"nameSpaces"`
	DeviceAuth DeviceAuth            `json:"deviceAuth"`
}

// DeviceNameSpacesBytes is #6.24(bstr .cbor DeviceNameSpaces).
type DeviceNameSpacesBytes = cborutil.TaggedCBOR

type DeviceNameSpaces map[NameSpace]DeviceSignedItems

type DeviceSignedItems map[ElementIdentifier]ElementValue

func (d *DeviceSigned) Alg() (cose.Algorithm, error) {
	if d.DeviceAuth.DeviceSignature == nil || d.DeviceAuth.DeviceSignature.Headers.Protected == nil {
		return 0, ErrMissingProtectedHeader
	}
	return d.DeviceAuth.DeviceSignature.Headers.Protected.Algorithm()
}

func (d *DeviceSigned) DeviceNameSpaces() (DeviceNameSpaces, error) {
	if len(d.NameSpaces) == 0 {
		return nil, errors.New("device name spaces bytes is empty")
	}
	var nameSpaces DeviceNameSpaces
	if err := cborutil.Unmarshal(d.NameSpaces, &nameSpaces); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device name spaces: %w", err)
	}
	return nameSpaces, nil
}

// DeviceAuth carries either a device signature or a device MAC. Only
// signatures are verified.
type DeviceAuth struct {
	DeviceSignature *cose.UntaggedSign1Message `json:"deviceSignature,omitempty"`
	DeviceMac       cbor.RawMessage            `json:"deviceMac,omitempty"`
}

type DocumentError map[DocType]ErrorCode

type Errors map[NameSpace]ErrorItems

type ErrorItems map[ElementIdentifier]ErrorCode

type ErrorCode int
