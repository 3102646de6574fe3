// Package mdoc provides functionality for issuing, presenting and verifying
// mobile documents according to the ISO/IEC 18013-5:2021 standard. This file
// contains error handling utilities.
package mdoc

import (
	"errors"
	"fmt"
	"time"

	"github.com/kokukuma/mdoc-proximity/pkg/pki"
)

var (
	ErrMissingIssuerAuth      = errors.New("issuerAuth is missing")
	ErrMissingProtectedHeader = errors.New("protected header is missing")
	ErrMissingPayload         = errors.New("payload is missing")
	ErrMissingX5Chain         = errors.New("x5chain not found in headers")
	ErrEmptyDigest            = errors.New("digest is empty")
	ErrDeviceKeyNotAvailable  = errors.New("device key not available")
	ErrMissingDeviceSignature = errors.New("device signature is missing")
	ErrDeviceMacUnsupported   = errors.New("device MAC authentication is not supported")
	ErrMissingReaderAuth      = errors.New("readerAuth is missing")
	ErrUnsupportedAlgorithm   = errors.New("signature algorithm not accepted")

	// ErrInvalidSignature is wrapped by every signature verification
	// failure.
	ErrInvalidSignature = errors.New("invalid signature")
)

// InvalidDigestError reports a disclosed item whose digest does not match
// the MSO.
type InvalidDigestError struct {
	NameSpace NameSpace
	DigestID  DigestID
	Expected  Digest
	Actual    Digest
}

func (e *InvalidDigestError) Error() string {
	return fmt.Sprintf("digest unmatched: namespace=%s digestID=%d", e.NameSpace, e.DigestID)
}

// DigestNotFoundError reports a disclosed item without an MSO digest.
type DigestNotFoundError struct {
	NameSpace NameSpace
	DigestID  DigestID
}

func (e *DigestNotFoundError) Error() string {
	return fmt.Sprintf("digest not found: namespace=%s digestID=%d", e.NameSpace, e.DigestID)
}

type DocTypeMismatchError struct {
	Document DocType
	MSO      DocType
}

func (e *DocTypeMismatchError) Error() string {
	return fmt.Sprintf("docType unmatched: document=%s mso=%s", e.Document, e.MSO)
}

// UntrustedCertificateError reports a signer certificate chain rejected by
// the trust validator.
type UntrustedCertificateError struct {
	Cause error
}

func (e *UntrustedCertificateError) Error() string {
	return fmt.Sprintf("untrusted certificate chain: %v", e.Cause)
}

func (e *UntrustedCertificateError) Unwrap() error {
	return e.Cause
}

// ValidityError reports an MSO validity period that does not cover the
// checked time.
type ValidityError struct {
	Field string
	Time  time.Time
	Info  ValidityInfo
}

func (e *ValidityError) Error() string {
	return fmt.Sprintf("validity check failed for %s at %s: validFrom=%s validUntil=%s",
		e.Field, e.Time.Format(time.RFC3339), e.Info.ValidFrom.Format(time.RFC3339), e.Info.ValidUntil.Format(time.RFC3339))
}

// UnauthorizedElementError reports a device-signed element the MSO key
// authorizations do not cover.
type UnauthorizedElementError struct {
	NameSpace NameSpace
	Element   ElementIdentifier
}

func (e *UnauthorizedElementError) Error() string {
	return fmt.Sprintf("device key is not authorized for %s/%s", e.NameSpace, e.Element)
}

func signatureError(signer string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidSignature, signer, err)
}

// IsDigestError checks if an error is related to digest issues
func IsDigestError(err error) bool {
	var invalid *InvalidDigestError
	var notFound *DigestNotFoundError
	return errors.As(err, &invalid) || errors.As(err, &notFound) || errors.Is(err, ErrEmptyDigest)
}

func IsDocTypeError(err error) bool {
	var mismatch *DocTypeMismatchError
	return errors.As(err, &mismatch)
}

func IsSignatureError(err error) bool {
	return errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrUnsupportedAlgorithm)
}

// IsCertificateError checks if an error is related to certificate issues
func IsCertificateError(err error) bool {
	var untrusted *UntrustedCertificateError
	return errors.As(err, &untrusted) || errors.Is(err, ErrMissingX5Chain) || pki.IsTrustError(err)
}

func IsValidityError(err error) bool {
	var validity *ValidityError
	return errors.As(err, &validity)
}

// IsDeviceError checks if an error is related to device authentication
func IsDeviceError(err error) bool {
	var unauthorized *UnauthorizedElementError
	return errors.As(err, &unauthorized) ||
		errors.Is(err, ErrDeviceKeyNotAvailable) ||
		errors.Is(err, ErrMissingDeviceSignature) ||
		errors.Is(err, ErrDeviceMacUnsupported)
}
