package document

import (
	"fmt"
	"strings"

	"github.com/kokukuma/mdoc-proximity/mdoc"
)

// CredentialType is the DCQL credential format. Only mdoc is supported.
type CredentialType string

type LimitDisclosure string

const (
	CredentialTypeMDOC CredentialType = "mso_mdoc"

	LimitDisclosureRequired  LimitDisclosure = "required"
	LimitDisclosurePreferred LimitDisclosure = "preferred"
)

// supportedAlgorithms are the issuer and device signature algorithms a
// reader accepts, in order of preference.
var supportedAlgorithms = []string{"ES256", "ES384", "ES512"}

var docTypeNameSpaces = map[mdoc.DocType]mdoc.NameSpace{
	IsoMDL:  ISO1801351,
	EudiPid: EUDIPID1,
}

var knownElements = map[mdoc.NameSpace]map[mdoc.ElementIdentifier]bool{
	ISO1801351: elementSet(
		IsoFamilyName, IsoGivenName, IsoBirthDate, IsoIssueDate, IsoExpiryDate,
		IsoIssuingCountry, IsoIssuingAuthority, IsoDocumentNumber, IsoPortrait,
		IsoDrivingPrivileges, IsoUnDistinguishingSign, IsoAdministrativeNumber,
		IsoSex, IsoHeight, IsoWeight, IsoEyeColour, IsoHairColour, IsoBirthPlace,
		IsoResidentAddress, IsoPortraitCaptureDate, IsoAgeInYears, IsoAgeBirthYear,
		IsoIssuingJurisdiction, IsoNationality, IsoResidentCity, IsoResidentState,
		IsoResidentPostalCode, IsoResidentCountry, IsoFamilyNameNationalCharacter,
		IsoGivenNameNationalCharacter, IsoSignatureUsualMark,
	),
	EUDIPID1: elementSet(
		EudiFamilyName, EudiGivenName, EudiBirthDate, EudiAgeOver18, EudiAgeInYears,
		EudiAgeBirthYear, EudiGivenNameBirth, EudiBirthPlace, EudiBirthCountry,
		EudiBirthState, EudiBirthCity, EudiResidentAddress, EudiResidentCountry,
		EudiResidentState, EudiResidentCity, EudiResidentPostalCode, EudiResidentStreet,
		EudiResidentHouseNumber, EudiGender, EudiNationality, EudiIssuanceDate,
		EudiExpiryDate, EudiIssuingAuthority, EudiDocumentNumber,
		EudiAdministrativeNumber, EudiIssuingCountry, EudiIssuingJurisdiction,
	),
}

func elementSet(ids ...mdoc.ElementIdentifier) map[mdoc.ElementIdentifier]bool {
	set := make(map[mdoc.ElementIdentifier]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// ValidationError reports the field of a credential request that failed
// validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

func invalidf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SupportedAlgorithms returns the accepted signature algorithms.
func SupportedAlgorithms() []string {
	return append([]string(nil), supportedAlgorithms...)
}

func IsSupportedAlgorithm(alg string) bool {
	for _, supported := range supportedAlgorithms {
		if alg == supported {
			return true
		}
	}
	return false
}

// NameSpaceOf returns the namespace holding the data elements of docType.
func NameSpaceOf(docType mdoc.DocType) (mdoc.NameSpace, bool) {
	ns, ok := docTypeNameSpaces[docType]
	return ns, ok
}

func IsValidDocTypeNamespace(docType mdoc.DocType, namespace mdoc.NameSpace) bool {
	ns, ok := NameSpaceOf(docType)
	return ok && ns == namespace
}

// IsValidElementForNamespace reports whether element is defined in
// namespace. age_over_NN is accepted for the ISO namespace.
func IsValidElementForNamespace(namespace mdoc.NameSpace, element mdoc.ElementIdentifier) bool {
	if knownElements[namespace][element] {
		return true
	}
	return namespace == ISO1801351 && isAgeOver(element)
}

func isAgeOver(element mdoc.ElementIdentifier) bool {
	digits, ok := strings.CutPrefix(string(element), "age_over_")
	if !ok || len(digits) != 2 {
		return false
	}
	return digits[0] >= '0' && digits[0] <= '9' && digits[1] >= '0' && digits[1] <= '9'
}

// Credential is one document a relying party asks for.
type Credential struct {
	ID                string
	DocType           mdoc.DocType
	Namespace         mdoc.NameSpace
	ElementIdentifier []mdoc.ElementIdentifier
	// Retention is the number of days the elements are kept. Zero means
	// the elements are not retained.
	Retention       int
	LimitDisclosure LimitDisclosure
	Purpose         string
	Alg             []string
}

type CredentialOption func(*Credential)

func WithRetention(days int) CredentialOption {
	return func(c *Credential) {
		c.Retention = days
	}
}

func WithLimitDisclosure(limitDisclosure LimitDisclosure) CredentialOption {
	return func(c *Credential) {
		c.LimitDisclosure = limitDisclosure
	}
}

func WithPurpose(purpose string) CredentialOption {
	return func(c *Credential) {
		c.Purpose = purpose
	}
}

func WithAlgorithms(algs ...string) CredentialOption {
	return func(c *Credential) {
		c.Alg = algs
	}
}

// NewCredential returns a validated credential. The defaults are
// limit_disclosure "preferred" and ES256.
func NewCredential(id string, docType mdoc.DocType, namespace mdoc.NameSpace, elements []mdoc.ElementIdentifier, opts ...CredentialOption) (*Credential, error) {
	cred := &Credential{
		ID:                id,
		DocType:           docType,
		Namespace:         namespace,
		ElementIdentifier: elements,
		LimitDisclosure:   LimitDisclosurePreferred,
		Alg:               []string{"ES256"},
	}
	for _, opt := range opts {
		opt(cred)
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	return cred, nil
}

func (c *Credential) Validate() error {
	switch {
	case c.ID == "":
		return invalidf("id", "cannot be empty")
	case len(c.ElementIdentifier) == 0:
		return invalidf("elements", "must contain at least one element")
	case !IsValidDocTypeNamespace(c.DocType, c.Namespace):
		return invalidf("docType+namespace", "invalid combination: docType=%s, namespace=%s", c.DocType, c.Namespace)
	case c.LimitDisclosure != LimitDisclosureRequired && c.LimitDisclosure != LimitDisclosurePreferred:
		return invalidf("limitDisclosure", "unsupported value: %s", c.LimitDisclosure)
	case len(c.Alg) == 0:
		return invalidf("alg", "must contain at least one algorithm")
	case c.Retention < 0:
		return invalidf("retention", "must be non-negative")
	}
	for _, alg := range c.Alg {
		if !IsSupportedAlgorithm(alg) {
			return invalidf("alg", "unsupported algorithm: %s", alg)
		}
	}
	for _, element := range c.ElementIdentifier {
		if !IsValidElementForNamespace(c.Namespace, element) {
			return invalidf("elementIdentifier", "invalid element %s for namespace %s", element, c.Namespace)
		}
	}
	return nil
}

func (c *Credential) intentToRetain() bool {
	return c.Retention > 0
}

// CredentialRequirement is the set of credentials requested from a holder,
// rendered as a device request for proximity and online presentations or
// as a DCQL query for OpenID4VP.
type CredentialRequirement struct {
	CredentialType CredentialType
	Credentials    []Credential
}

// NewCredentialRequirement returns a validated mdoc requirement for creds.
func NewCredentialRequirement(creds ...*Credential) (CredentialRequirement, error) {
	req := CredentialRequirement{CredentialType: CredentialTypeMDOC}
	for _, cred := range creds {
		req.Credentials = append(req.Credentials, *cred)
	}
	if err := req.Validate(); err != nil {
		return CredentialRequirement{}, err
	}
	return req, nil
}

func (c CredentialRequirement) Validate() error {
	if c.CredentialType != CredentialTypeMDOC {
		return invalidf("credentialType", "unsupported type: %s", c.CredentialType)
	}
	if len(c.Credentials) == 0 {
		return invalidf("credentials", "must contain at least one credential")
	}
	seen := map[string]bool{}
	for i := range c.Credentials {
		cred := &c.Credentials[i]
		if seen[cred.ID] {
			return invalidf("id", "duplicate credential %s", cred.ID)
		}
		seen[cred.ID] = true
		if err := cred.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Algorithms returns the union of the credentials' algorithms in order of
// preference.
func (c CredentialRequirement) Algorithms() []string {
	wanted := map[string]bool{}
	for _, cred := range c.Credentials {
		for _, alg := range cred.Alg {
			wanted[alg] = true
		}
	}
	var algs []string
	for _, alg := range supportedAlgorithms {
		if wanted[alg] {
			algs = append(algs, alg)
		}
	}
	return algs
}

// ItemsRequests returns one items request per credential, in order.
func (c CredentialRequirement) ItemsRequests() ([]mdoc.ItemsRequest, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	requests := make([]mdoc.ItemsRequest, 0, len(c.Credentials))
	for i := range c.Credentials {
		cred := &c.Credentials[i]
		elements := mdoc.DataElements{}
		for _, id := range cred.ElementIdentifier {
			elements[id] = cred.intentToRetain()
		}
		req := mdoc.ItemsRequest{
			DocType:    cred.DocType,
			NameSpaces: map[mdoc.NameSpace]mdoc.DataElements{cred.Namespace: elements},
		}
		if cred.Purpose != "" {
			req.RequestInfo = map[string]interface{}{"purpose": cred.Purpose}
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// DeviceRequest builds an unsigned device request for the requirement.
func (c CredentialRequirement) DeviceRequest() (*mdoc.DeviceRequest, error) {
	requests, err := c.ItemsRequests()
	if err != nil {
		return nil, err
	}
	docRequests := make([]mdoc.DocRequest, 0, len(requests))
	for _, items := range requests {
		docRequest, err := mdoc.NewDocRequest(items)
		if err != nil {
			return nil, fmt.Errorf("failed to build doc request for %s: %w", items.DocType, err)
		}
		docRequests = append(docRequests, *docRequest)
	}
	return mdoc.NewDeviceRequest(docRequests...), nil
}

// DCQLQuery renders the requirement as one required credential set holding
// every credential.
func (c CredentialRequirement) DCQLQuery() DCQLQuery {
	query := DCQLQuery{Credentials: make([]CredentialQuery, 0, len(c.Credentials))}
	if len(c.Credentials) == 0 {
		return query
	}

	required := true
	set := CredentialSetQuery{Required: &required}
	ids := make([]string, 0, len(c.Credentials))
	for i := range c.Credentials {
		cred := &c.Credentials[i]
		ids = append(ids, cred.ID)
		if set.Purpose == "" {
			set.Purpose = cred.Purpose
		}

		claims := make([]ClaimQuery, 0, len(cred.ElementIdentifier))
		for _, elem := range cred.ElementIdentifier {
			claims = append(claims, ClaimQuery{
				ID:             fmt.Sprintf("%s_%s", cred.Namespace, elem),
				Path:           []interface{}{string(cred.Namespace), string(elem)},
				IntentToRetain: cred.intentToRetain(),
			})
		}
		additional := map[string]interface{}{"alg": cred.Alg}
		if cred.LimitDisclosure != "" {
			additional["limit_disclosure"] = cred.LimitDisclosure
		}
		query.Credentials = append(query.Credentials, CredentialQuery{
			ID:     cred.ID,
			Format: string(c.CredentialType),
			Meta:   &MetaConstraints{DocType: string(cred.DocType), Additional: additional},
			Claims: claims,
		})
	}
	set.Options = [][]string{ids}
	query.CredentialSets = []CredentialSetQuery{set}
	return query
}
