package mdoc

import (
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
	"github.com/kokukuma/mdoc-proximity/pkg/pki"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
)

const (
	deviceAuthenticationContext = "DeviceAuthentication"
	readerAuthenticationContext = "ReaderAuthentication"
)

// DeviceAuthenticationBytes returns
// #6.24(bstr .cbor ["DeviceAuthentication", SessionTranscript, DocType, DeviceNameSpacesBytes]),
// the detached payload of the device signature (ISO/IEC 18013-5 §9.1.3.4).
func DeviceAuthenticationBytes(transcript *st.SessionTranscript, docType DocType, nameSpaces DeviceNameSpacesBytes) ([]byte, error) {
	if transcript == nil {
		return nil, errors.New("session transcript is empty")
	}
	if nameSpaces == nil {
		nameSpaces = DeviceNameSpacesBytes{}
	}
	da, err := cborutil.Marshal([]interface{}{
		deviceAuthenticationContext,
		transcript,
		docType,
		nameSpaces,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device authentication: %w", err)
	}
	return cborutil.WrapTag24(da)
}

// ReaderAuthenticationBytes returns
// #6.24(bstr .cbor ["ReaderAuthentication", SessionTranscript, ItemsRequestBytes]).
func ReaderAuthenticationBytes(transcript *st.SessionTranscript, itemsRequest ItemsRequestBytes) ([]byte, error) {
	if transcript == nil {
		return nil, errors.New("session transcript is empty")
	}
	if len(itemsRequest) == 0 {
		return nil, errors.New("items request is empty")
	}
	ra, err := cborutil.Marshal([]interface{}{
		readerAuthenticationContext,
		transcript,
		itemsRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reader authentication: %w", err)
	}
	return cborutil.WrapTag24(ra)
}

// signDetached signs payload and leaves the message payload nil.
func signDetached(signer cose.Signer, unprotected cose.UnprotectedHeader, payload []byte) (*cose.UntaggedSign1Message, error) {
	msg := &cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected:   cose.ProtectedHeader{},
			Unprotected: unprotected,
		},
		Payload: payload,
	}
	msg.Headers.Protected.SetAlgorithm(signer.Algorithm())
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	msg.Payload = nil
	return msg, nil
}

// verifyDetached verifies msg over payload without modifying msg.
func verifyDetached(msg *cose.UntaggedSign1Message, payload []byte, verifier cose.Verifier) error {
	detached := *msg
	detached.Payload = payload
	return detached.Verify(nil, verifier)
}

// NewDeviceSigned builds the DeviceSigned structure of a document with a
// device signature over DeviceAuthentication. signer holds the device key
// certified in the MSO.
func NewDeviceSigned(signer cose.Signer, transcript *st.SessionTranscript, docType DocType, nameSpaces DeviceNameSpaces) (*DeviceSigned, error) {
	if nameSpaces == nil {
		nameSpaces = DeviceNameSpaces{}
	}
	nsBytes, err := cborutil.Marshal(nameSpaces)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device name spaces: %w", err)
	}
	payload, err := DeviceAuthenticationBytes(transcript, docType, nsBytes)
	if err != nil {
		return nil, err
	}
	sig, err := signDetached(signer, cose.UnprotectedHeader{}, payload)
	if err != nil {
		return nil, err
	}
	return &DeviceSigned{
		NameSpaces: nsBytes,
		DeviceAuth: DeviceAuth{DeviceSignature: sig},
	}, nil
}

// NewReaderAuth signs the items request of req and sets req.ReaderAuth.
// chain is the reader certificate chain, leaf first.
func NewReaderAuth(signer cose.Signer, chain []*x509.Certificate, transcript *st.SessionTranscript, req *DocRequest) error {
	if len(chain) == 0 {
		return pki.ErrEmptyChain
	}
	payload, err := ReaderAuthenticationBytes(transcript, req.ItemsRequest)
	if err != nil {
		return err
	}
	sig, err := signDetached(signer, cose.UnprotectedHeader{
		cose.HeaderLabelX5Chain: x5chainHeader(chain),
	}, payload)
	if err != nil {
		return err
	}
	req.ReaderAuth = sig
	return nil
}

// VerifyReaderAuth checks the reader certificate chain and the reader
// signature of req. The trust result is returned even when the signature
// check fails, so that callers can report the reader identity.
func VerifyReaderAuth(validator *pki.Validator, transcript *st.SessionTranscript, req *DocRequest) (pki.TrustValidationResult, error) {
	if req.ReaderAuth == nil {
		return pki.TrustValidationResult{Cause: ErrMissingReaderAuth}, ErrMissingReaderAuth
	}
	chain, err := x5chain(req.ReaderAuth.Headers)
	if err != nil {
		return pki.TrustValidationResult{Cause: err}, err
	}

	result := validator.Validate(chain)
	if !result.Valid {
		return result, &UntrustedCertificateError{Cause: result.Cause}
	}

	if req.ReaderAuth.Headers.Protected == nil {
		return result, ErrMissingProtectedHeader
	}
	alg, err := req.ReaderAuth.Headers.Protected.Algorithm()
	if err != nil {
		return result, fmt.Errorf("failed to get alg: %w", err)
	}
	verifier, err := cose.NewVerifier(alg, chain.Leaf().PublicKey)
	if err != nil {
		return result, fmt.Errorf("failed to create verifier: %w", err)
	}
	payload, err := ReaderAuthenticationBytes(transcript, req.ItemsRequest)
	if err != nil {
		return result, err
	}
	if err := verifyDetached(req.ReaderAuth, payload, verifier); err != nil {
		return result, signatureError("reader", err)
	}
	return result, nil
}
