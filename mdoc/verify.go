package mdoc

import (
	"fmt"
	"time"

	"github.com/veraison/go-cose"
	"go.uber.org/zap"

	"github.com/kokukuma/mdoc-proximity/pkg/pki"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
)

type VerifierOption func(*Verifier)

func WithSignCurrentTime(date time.Time) VerifierOption {
	return func(s *Verifier) {
		s.signCurrentTime = func() time.Time { return date }
	}
}

func SkipVerifyCertificate() VerifierOption {
	return func(s *Verifier) {
		s.skipVerifyCertificate = true
	}
}

func SkipVerifyDeviceSigned() VerifierOption {
	return func(s *Verifier) {
		s.skipVerifyDeviceSigned = true
	}
}

func SkipVerifyIssuerAuth() VerifierOption {
	return func(s *Verifier) {
		s.skipVerifyIssuerAuth = true
	}
}

func SkipValidateCertification() VerifierOption {
	return func(s *Verifier) {
		s.skipValidateCertification = true
	}
}

func SkipSignedDateValidation() VerifierOption {
	return func(s *Verifier) {
		s.skipSignedDateValidation = true
	}
}

// WithAlgorithms restricts the issuer and device signature algorithms to
// algs, given by their COSE names ("ES256"). All algorithms go-cose
// supports are accepted by default.
func WithAlgorithms(algs ...string) VerifierOption {
	return func(s *Verifier) {
		s.algorithms = map[string]bool{}
		for _, alg := range algs {
			s.algorithms[alg] = true
		}
	}
}

func WithLogger(logger *zap.Logger) VerifierOption {
	return func(s *Verifier) {
		s.logger = logger
	}
}

// Verifier authenticates documents of a device response. It is safe for
// concurrent use.
type Verifier struct {
	validator                 *pki.Validator
	skipVerifyDeviceSigned    bool
	skipVerifyCertificate     bool
	skipVerifyIssuerAuth      bool
	skipValidateCertification bool
	skipSignedDateValidation  bool
	signCurrentTime           func() time.Time
	algorithms                map[string]bool
	logger                    *zap.Logger
}

// NewVerifier returns a Verifier that validates document signer chains with
// validator. A nil validator has no trust anchors and rejects every chain.
func NewVerifier(validator *pki.Validator, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		validator:       validator,
		signCurrentTime: time.Now,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.validator == nil {
		v.validator = pki.NewValidator()
	}
	return v
}

// VerifyDeviceResponse verifies every document of resp. The first failure
// aborts.
func (v *Verifier) VerifyDeviceResponse(resp *DeviceResponse, transcript *st.SessionTranscript) error {
	if resp.Status != StatusOK {
		return fmt.Errorf("device response status: %d", resp.Status)
	}
	if len(resp.Documents) == 0 {
		return fmt.Errorf("device response has no documents")
	}
	for i := range resp.Documents {
		if err := v.Verify(resp.Documents[i], transcript); err != nil {
			return fmt.Errorf("document %s: %w", resp.Documents[i].DocType, err)
		}
	}
	return nil
}

// Verify runs the mdoc inspection procedure on doc (ISO/IEC 18013-5 §9.3.1).
func (v *Verifier) Verify(doc Document, transcript *st.SessionTranscript) error {
	mso, err := doc.IssuerSigned.MobileSecurityObject()
	if err != nil {
		return fmt.Errorf("failed to get MobileSecurityObject: %w", err)
	}

	// Verify that the DocType in the MSO matches the relevant DocType in the Documents structure.
	if doc.DocType != mso.DocType {
		return &DocTypeMismatchError{Document: doc.DocType, MSO: mso.DocType}
	}

	// Calculate the digest value for every IssuerSignedItem returned in the DeviceResponse structure
	// and verify that these calculated digests equal the corresponding digest values in the MSO.
	if err := VerifyDigests(&doc.IssuerSigned, mso); err != nil {
		return err
	}

	// Validate the certificate included in the MSO header, then verify the
	// IssuerAuth signature with its key.
	if err := v.verifyCertificate(&doc.IssuerSigned); err != nil {
		return err
	}
	if err := v.verifyIssuerAuth(&doc.IssuerSigned); err != nil {
		return err
	}

	// Validate the elements in the ValidityInfo structure.
	if err := v.validateCertification(mso, &doc.IssuerSigned); err != nil {
		return err
	}

	// mdoc authentication
	if err := v.verifyDeviceSigned(mso, doc, transcript); err != nil {
		return err
	}

	v.logger.Debug("document verified", zap.String("docType", string(doc.DocType)))
	return nil
}

func (v *Verifier) verifyCertificate(issuerSigned *IssuerSigned) error {
	if v.skipVerifyCertificate {
		return nil
	}
	chain, err := issuerSigned.DocumentSigningCertificateChain()
	if err != nil {
		return err
	}
	result := v.validator.Validate(chain)
	if !result.Valid {
		return &UntrustedCertificateError{Cause: result.Cause}
	}
	return nil
}

func (v *Verifier) checkAlgorithm(signer string, alg cose.Algorithm) error {
	if v.algorithms != nil && !v.algorithms[alg.String()] {
		return fmt.Errorf("%w: %s signed with %s", ErrUnsupportedAlgorithm, signer, alg)
	}
	return nil
}

func (v *Verifier) verifyIssuerAuth(issuerSigned *IssuerSigned) error {
	if v.skipVerifyIssuerAuth {
		return nil
	}
	alg, err := issuerSigned.Alg()
	if err != nil {
		return fmt.Errorf("failed to get alg: %w", err)
	}
	if err := v.checkAlgorithm("issuer", alg); err != nil {
		return err
	}
	documentSigningKey, err := issuerSigned.DocumentSigningKey()
	if err != nil {
		return err
	}
	verifier, err := cose.NewVerifier(alg, documentSigningKey)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}
	if err := issuerSigned.IssuerAuth.Verify(nil, verifier); err != nil {
		return signatureError("issuer", err)
	}
	return nil
}

// validateCertification checks that
// the 'signed' date is within the validity period of the certificate in the MSO header,
// the current timestamp is equal or later than 'validFrom',
// and 'validUntil' is equal or later than the current timestamp.
func (v *Verifier) validateCertification(mso *MobileSecurityObject, issuerSigned *IssuerSigned) error {
	if v.skipValidateCertification {
		return nil
	}
	info := mso.ValidityInfo
	if !v.skipSignedDateValidation {
		certificate, err := issuerSigned.DocumentSigningCertificate()
		if err != nil {
			return err
		}
		if info.Signed.Before(certificate.NotBefore) || info.Signed.After(certificate.NotAfter) {
			return &ValidityError{Field: "signed", Time: info.Signed, Info: info}
		}
	}
	now := v.signCurrentTime()
	if now.Before(info.ValidFrom) {
		return &ValidityError{Field: "validFrom", Time: now, Info: info}
	}
	if now.After(info.ValidUntil) {
		return &ValidityError{Field: "validUntil", Time: now, Info: info}
	}
	return nil
}

func (v *Verifier) verifyDeviceSigned(mso *MobileSecurityObject, doc Document, transcript *st.SessionTranscript) error {
	if v.skipVerifyDeviceSigned {
		return nil
	}
	deviceAuth := doc.DeviceSigned.DeviceAuth
	if deviceAuth.DeviceSignature == nil {
		if len(deviceAuth.DeviceMac) > 0 {
			return ErrDeviceMacUnsupported
		}
		return ErrMissingDeviceSignature
	}

	nameSpaces, err := doc.DeviceSigned.DeviceNameSpaces()
	if err != nil {
		return err
	}
	for ns, items := range nameSpaces {
		for id := range items {
			if !mso.DeviceKeyInfo.KeyAuthorizations.Authorizes(ns, id) {
				return &UnauthorizedElementError{NameSpace: ns, Element: id}
			}
		}
	}

	payload, err := DeviceAuthenticationBytes(transcript, doc.DocType, doc.DeviceSigned.NameSpaces)
	if err != nil {
		return err
	}
	alg, err := doc.DeviceSigned.Alg()
	if err != nil {
		return fmt.Errorf("failed to get alg: %w", err)
	}
	if err := v.checkAlgorithm("device", alg); err != nil {
		return err
	}
	pubKey, err := mso.DeviceKey()
	if err != nil {
		return err
	}
	verifier, err := cose.NewVerifier(alg, pubKey)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}
	if err := verifyDetached(deviceAuth.DeviceSignature, payload, verifier); err != nil {
		return signatureError("device", err)
	}
	return nil
}
