package mdoc

import (
	"crypto/ecdsa"
	"crypto/x509"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-proximity/internal/cryptoroot"
	"github.com/kokukuma/mdoc-proximity/pkg/custodian"
	"github.com/kokukuma/mdoc-proximity/pkg/pki"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
)

const (
	testDocType   DocType   = "org.iso.18013.5.1.mDL"
	testNameSpace NameSpace = "org.iso.18013.5.1"
)

type fixture struct {
	root         *cryptoroot.Authority
	dsCert       *x509.Certificate
	issuer       *Issuer
	deviceKey    *ecdsa.PublicKey
	deviceSigner cose.Signer
	transcript   *st.SessionTranscript
}

func newFixture(t *testing.T, opts ...IssuerOption) *fixture {
	t.Helper()
	keys := custodian.NewMemory()

	root, err := cryptoroot.NewRootCA("Test IACA")
	require.NoError(t, err)

	dsID, err := keys.GenerateKey(custodian.ES256)
	require.NoError(t, err)
	dsPub, err := keys.PublicKey(dsID)
	require.NoError(t, err)
	dsCert, err := root.IssueLeaf("Test DS", dsPub.(*ecdsa.PublicKey), cryptoroot.WithUsage(cryptoroot.OIDDocumentSigner))
	require.NoError(t, err)
	dsSigner, err := custodian.NewCOSESigner(keys, dsID)
	require.NoError(t, err)

	issuer, err := NewIssuer(dsSigner, []*x509.Certificate{dsCert}, opts...)
	require.NoError(t, err)

	deviceID, err := keys.GenerateKey(custodian.ES256)
	require.NoError(t, err)
	devicePub, err := keys.PublicKey(deviceID)
	require.NoError(t, err)
	deviceSigner, err := custodian.NewCOSESigner(keys, deviceID)
	require.NoError(t, err)

	return &fixture{
		root:         root,
		dsCert:       dsCert,
		issuer:       issuer,
		deviceKey:    devicePub.(*ecdsa.PublicKey),
		deviceSigner: deviceSigner,
		transcript:   newTranscript(t, "nonce"),
	}
}

func newTranscript(t *testing.T, nonce string) *st.SessionTranscript {
	t.Helper()
	transcript, err := st.BrowserHandover{
		Nonce:           []byte(nonce),
		Origin:          "https://verifier.example.com",
		RequesterIDHash: []byte("requester"),
	}.SessionTranscript()
	require.NoError(t, err)
	return transcript
}

func testElements() map[NameSpace]map[ElementIdentifier]ElementValue {
	return map[NameSpace]map[ElementIdentifier]ElementValue{
		testNameSpace: {
			"family_name": "Doe",
			"given_name":  "Jane",
			"age_over_21": true,
			"birth_date":  cbor.Tag{Number: 1004, Content: "1990-01-01"},
		},
	}
}

func (f *fixture) validator(opts ...pki.ValidatorOption) *pki.Validator {
	return pki.NewValidator(append([]pki.ValidatorOption{pki.WithTrustAnchors(f.root.Cert)}, opts...)...)
}

func (f *fixture) issue(t *testing.T) *IssuerSigned {
	t.Helper()
	issuerSigned, err := f.issuer.Issue(testDocType, f.deviceKey, testElements())
	require.NoError(t, err)
	return issuerSigned
}

func (f *fixture) document(t *testing.T) Document {
	t.Helper()
	deviceSigned, err := NewDeviceSigned(f.deviceSigner, f.transcript, testDocType, nil)
	require.NoError(t, err)
	return Document{
		DocType:      testDocType,
		IssuerSigned: *f.issue(t),
		DeviceSigned: *deviceSigned,
	}
}
