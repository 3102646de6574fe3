package server

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"io"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-proximity/document"
	"github.com/kokukuma/mdoc-proximity/internal/cryptoroot"
	"github.com/kokukuma/mdoc-proximity/mdoc"
	"github.com/kokukuma/mdoc-proximity/openid4vp"
	"github.com/kokukuma/mdoc-proximity/pkg/custodian"
	"github.com/kokukuma/mdoc-proximity/pkg/hpke"
	"github.com/kokukuma/mdoc-proximity/pkg/pki"
	"github.com/kokukuma/mdoc-proximity/proximity"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
	"github.com/kokukuma/mdoc-proximity/transport"
	"github.com/kokukuma/mdoc-proximity/transport/wstransport"
)

const (
	testDomain = "verifier.test"
	testOrigin = "https://" + testDomain
)

type holder struct {
	iaca         *cryptoroot.Authority
	issuerSigned *mdoc.IssuerSigned
	deviceSigner cose.Signer
}

func newHolder(t *testing.T) *holder {
	t.Helper()
	keys := custodian.NewMemory()
	newKey := func() (cose.Signer, *ecdsa.PublicKey) {
		id, err := keys.GenerateKey(custodian.ES256)
		require.NoError(t, err)
		pub, err := keys.PublicKey(id)
		require.NoError(t, err)
		signer, err := custodian.NewCOSESigner(keys, id)
		require.NoError(t, err)
		return signer, pub.(*ecdsa.PublicKey)
	}

	iaca, err := cryptoroot.NewRootCA("Test IACA")
	require.NoError(t, err)
	dsSigner, dsPub := newKey()
	dsCert, err := iaca.IssueLeaf("Test DS", dsPub, cryptoroot.WithUsage(cryptoroot.OIDDocumentSigner))
	require.NoError(t, err)
	issuer, err := mdoc.NewIssuer(dsSigner, []*x509.Certificate{dsCert, iaca.Cert})
	require.NoError(t, err)

	deviceSigner, devicePub := newKey()
	issuerSigned, err := issuer.Issue(document.IsoMDL, devicePub, map[mdoc.NameSpace]map[mdoc.ElementIdentifier]mdoc.ElementValue{
		document.ISO1801351: {
			document.IsoFamilyName:     "Doe",
			document.IsoGivenName:      "Jane",
			document.IsoBirthDate:      "1990-01-01",
			document.IsoDocumentNumber: "D1234567",
		},
	})
	require.NoError(t, err)

	return &holder{iaca: iaca, issuerSigned: issuerSigned, deviceSigner: deviceSigner}
}

func (h *holder) response(t *testing.T, transcript *st.SessionTranscript) []byte {
	t.Helper()
	deviceSigned, err := mdoc.NewDeviceSigned(h.deviceSigner, transcript, document.IsoMDL, nil)
	require.NoError(t, err)
	resp := &mdoc.DeviceResponse{
		Version: mdoc.DeviceResponseVersion,
		Status:  mdoc.StatusOK,
		Documents: []mdoc.Document{{
			DocType:      document.IsoMDL,
			IssuerSigned: *h.issuerSigned,
			DeviceSigned: *deviceSigned,
		}},
	}
	encoded, err := resp.Encode()
	require.NoError(t, err)
	return encoded
}

// present answers proximity requests until the reader ends the session.
func (h *holder) present(ctx context.Context, device *proximity.Device, t transport.Transport, readerRoot *x509.Certificate) error {
	if err := device.Start(ctx, t); err != nil {
		return err
	}
	validator := pki.NewValidator(pki.WithTrustAnchors(readerRoot))
	for {
		req, transcript, err := device.WaitForRequest(ctx)
		if err != nil {
			return err
		}
		resp := &mdoc.DeviceResponse{Version: mdoc.DeviceResponseVersion, Status: mdoc.StatusOK}
		for i := range req.DocRequests {
			if _, err := mdoc.VerifyReaderAuth(validator, transcript, &req.DocRequests[i]); err != nil {
				return err
			}
			items, err := req.DocRequests[i].Items()
			if err != nil {
				return err
			}
			disclosed, err := h.issuerSigned.Disclose(*items)
			if err != nil {
				return err
			}
			deviceSigned, err := mdoc.NewDeviceSigned(h.deviceSigner, transcript, items.DocType, nil)
			if err != nil {
				return err
			}
			resp.Documents = append(resp.Documents, mdoc.Document{
				DocType:      items.DocType,
				IssuerSigned: *disclosed,
				DeviceSigned: *deviceSigned,
			})
		}
		if err := device.Respond(ctx, resp); err != nil {
			return err
		}
	}
}

func newTestServer(t *testing.T, h *holder) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "iaca.pem"), cryptoroot.CertificatePEM(h.iaca.Cert), 0o644))

	srv, err := NewServer(Config{Domain: testDomain, RootCertsDir: dir}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createSession(t *testing.T, ts *httptest.Server) (CreateSessionResponse, *st.SessionTranscript, *ecdh.PublicKey) {
	t.Helper()
	var session CreateSessionResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/session", nil, &session))

	nonce, err := b64.DecodeString(session.Nonce)
	require.NoError(t, err)
	pubBytes, err := b64.DecodeString(session.PublicKey)
	require.NoError(t, err)
	pub, err := ecdh.P256().NewPublicKey(pubBytes)
	require.NoError(t, err)
	hash := sha256.Sum256(pubBytes)

	transcript, err := st.BrowserHandover{Nonce: nonce, Origin: testOrigin, RequesterIDHash: hash[:]}.SessionTranscript()
	require.NoError(t, err)
	return session, transcript, pub
}

func elementMap(elements []Element) map[mdoc.ElementIdentifier]mdoc.ElementValue {
	m := map[mdoc.ElementIdentifier]mdoc.ElementValue{}
	for _, e := range elements {
		m[e.Identifier] = e.Value
	}
	return m
}

func TestVerifyDeviceResponse(t *testing.T) {
	h := newHolder(t)
	_, ts := newTestServer(t, h)

	session, transcript, _ := createSession(t, ts)
	request, err := b64.DecodeString(session.DeviceRequest)
	require.NoError(t, err)
	deviceRequest, err := mdoc.DecodeDeviceRequest(request)
	require.NoError(t, err)
	require.Len(t, deviceRequest.DocRequests, 1)

	body := VerifyRequest{
		SessionID: session.SessionID,
		Origin:    testOrigin,
		Data:      b64.EncodeToString(h.response(t, transcript)),
	}
	var resp VerifyResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/verifyDeviceResponse", body, &resp))
	assert.Empty(t, resp.Error)
	assert.Equal(t, map[mdoc.ElementIdentifier]mdoc.ElementValue{
		document.IsoFamilyName:     "Doe",
		document.IsoGivenName:      "Jane",
		document.IsoBirthDate:      "1990-01-01",
		document.IsoDocumentNumber: "D1234567",
	}, elementMap(resp.Elements))

	// the nonce is single use
	resp = VerifyResponse{}
	require.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/verifyDeviceResponse", body, &resp))
	assert.Contains(t, resp.Error, ErrSessionNotFound.Error())
}

func TestVerifyDeviceResponseFailures(t *testing.T) {
	h := newHolder(t)
	_, ts := newTestServer(t, h)

	tests := []struct {
		name string
		body func(session CreateSessionResponse, transcript *st.SessionTranscript) VerifyRequest
		want string
	}{
		{
			name: "origin mismatch",
			body: func(session CreateSessionResponse, transcript *st.SessionTranscript) VerifyRequest {
				return VerifyRequest{SessionID: session.SessionID, Origin: "https://evil.test", Data: b64.EncodeToString(h.response(t, transcript))}
			},
			want: "failed to verify mdoc",
		},
		{
			name: "unknown session",
			body: func(session CreateSessionResponse, transcript *st.SessionTranscript) VerifyRequest {
				return VerifyRequest{SessionID: "unknown", Origin: testOrigin, Data: b64.EncodeToString(h.response(t, transcript))}
			},
			want: ErrSessionNotFound.Error(),
		},
		{
			name: "missing data",
			body: func(session CreateSessionResponse, transcript *st.SessionTranscript) VerifyRequest {
				return VerifyRequest{SessionID: session.SessionID, Origin: testOrigin}
			},
			want: "data is required",
		},
		{
			name: "not cbor",
			body: func(session CreateSessionResponse, transcript *st.SessionTranscript) VerifyRequest {
				return VerifyRequest{SessionID: session.SessionID, Origin: testOrigin, Data: b64.EncodeToString([]byte("garbage"))}
			},
			want: "failed to unmarshal device response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, transcript, _ := createSession(t, ts)
			var resp VerifyResponse
			require.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/verifyDeviceResponse", tt.body(session, transcript), &resp))
			assert.Contains(t, resp.Error, tt.want)
		})
	}
}

func TestVerifyDeviceResponseUntrustedIssuer(t *testing.T) {
	h := newHolder(t)
	srv, ts := newTestServer(t, h)
	require.NoError(t, srv.certManager.DeleteCertificate("iaca"))

	session, transcript, _ := createSession(t, ts)
	body := VerifyRequest{SessionID: session.SessionID, Origin: testOrigin, Data: b64.EncodeToString(h.response(t, transcript))}
	var resp VerifyResponse
	require.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/verifyDeviceResponse", body, &resp))
	assert.Contains(t, resp.Error, "failed to verify mdoc")
	assert.Contains(t, resp.Error, pki.ErrUntrustedRoot.Error())
}

func TestVerifyEncryptedResponse(t *testing.T) {
	h := newHolder(t)
	_, ts := newTestServer(t, h)

	session, transcript, pub := createSession(t, ts)
	envelope, err := hpke.SealEnvelope(pub, h.response(t, transcript), transcript)
	require.NoError(t, err)
	encoded, err := envelope.Encode()
	require.NoError(t, err)

	var resp VerifyResponse
	body := VerifyRequest{SessionID: session.SessionID, Origin: testOrigin, Data: b64.EncodeToString(encoded)}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/verifyEncryptedResponse", body, &resp))
	assert.Equal(t, "Doe", elementMap(resp.Elements)[document.IsoFamilyName])

	// sealed to another session's key
	other, otherTranscript, _ := createSession(t, ts)
	body.SessionID = other.SessionID
	envelope, err = hpke.SealEnvelope(pub, h.response(t, otherTranscript), otherTranscript)
	require.NoError(t, err)
	encoded, err = envelope.Encode()
	require.NoError(t, err)
	body.Data = b64.EncodeToString(encoded)
	resp = VerifyResponse{}
	require.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/verifyEncryptedResponse", body, &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestRequestObject(t *testing.T) {
	h := newHolder(t)
	srv, ts := newTestServer(t, h)
	session, _, _ := createSession(t, ts)
	assert.Equal(t, "https://"+testDomain+"/openid4vp/request/"+session.SessionID, session.RequestURI)

	resp, err := http.Get(ts.URL + "/openid4vp/request/" + session.SessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/oauth-authz-req+jwt", resp.Header.Get("Content-Type"))
	token, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	validator := pki.NewValidator(pki.WithTrustAnchors(srv.identity.root.Cert))
	ro, level, err := openid4vp.VerifyRequestObject(string(token), validator)
	require.NoError(t, err)
	assert.Equal(t, openid4vp.TrustLevelTrusted, level)
	assert.Equal(t, testDomain, ro.ClientID)
	assert.Equal(t, session.Nonce, ro.Nonce)
	assert.Equal(t, session.SessionID, ro.State)
	require.NotNil(t, ro.DCQLQuery)
	requests, err := ro.DCQLQuery.ItemsRequests()
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Len(t, requests[0].NameSpaces[document.ISO1801351], 4)

	resp404, err := http.Get(ts.URL + "/openid4vp/request/unknown")
	require.NoError(t, err)
	resp404.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
}

func TestJWKS(t *testing.T) {
	h := newHolder(t)
	srv, ts := newTestServer(t, h)

	var jwks JWKS
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/jwks.json", nil, &jwks))
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "EC", jwks.Keys[0].Kty)
	assert.Equal(t, "P-256", jwks.Keys[0].Crv)
	x, err := b64.DecodeString(jwks.Keys[0].X)
	require.NoError(t, err)
	assert.Len(t, x, 32)
	assert.Equal(t, 0, srv.identity.publicKey.X.Cmp(new(big.Int).SetBytes(x)))
}

func TestProximityOverWebsocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := newHolder(t)
	srv, ts := newTestServer(t, h)

	var engagement ReaderEngagementResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/reader/engagement", nil, &engagement))
	re, err := b64.DecodeString(engagement.Engagement)
	require.NoError(t, err)

	var pending VerifyResponse
	require.Equal(t, http.StatusAccepted, doJSON(t, http.MethodGet, ts.URL+"/reader/result/"+engagement.SessionID, nil, &pending))

	device, err := proximity.NewDevice(re)
	require.NoError(t, err)
	conn, err := wstransport.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+engagement.WebsocketPath)
	require.NoError(t, err)
	defer conn.Close()

	errc := make(chan error, 1)
	go func() { errc <- h.present(ctx, device, conn, srv.identity.root.Cert) }()

	var result VerifyResponse
	require.Eventually(t, func() bool {
		result = VerifyResponse{}
		return doJSON(t, http.MethodGet, ts.URL+"/reader/result/"+engagement.SessionID, nil, &result) == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	assert.Empty(t, result.Error)
	assert.Equal(t, map[mdoc.ElementIdentifier]mdoc.ElementValue{
		document.IsoFamilyName:     "Doe",
		document.IsoGivenName:      "Jane",
		document.IsoBirthDate:      "1990-01-01",
		document.IsoDocumentNumber: "D1234567",
	}, elementMap(result.Elements))

	// the reader ends the session after one request
	assert.Error(t, <-errc)
}

func TestReaderWebsocketUnknownSession(t *testing.T) {
	h := newHolder(t)
	_, ts := newTestServer(t, h)

	resp, err := http.Get(ts.URL + "/reader/ws/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var result VerifyResponse
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/reader/result/unknown", nil, &result))
}

func TestCertificatesAPI(t *testing.T) {
	h := newHolder(t)
	_, ts := newTestServer(t, h)

	var certs []CertInfo
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/certificates", nil, &certs))
	require.Len(t, certs, 1)
	assert.Equal(t, "iaca.pem", certs[0].Filename)
	assert.Contains(t, certs[0].Subject, "Test IACA")

	other, err := cryptoroot.NewRootCA("Other IACA")
	require.NoError(t, err)
	var added messageResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/certificates/json", map[string]string{
		"filename": "other",
		"pem_data": string(cryptoroot.CertificatePEM(other.Cert)),
	}, &added))
	require.NotNil(t, added.Info)
	assert.Equal(t, "other.pem", added.Info.Filename)

	var got struct {
		Info    *CertInfo `json:"info"`
		PEMData string    `json:"pem_data"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/certificates/other", nil, &got))
	assert.Contains(t, got.Info.Subject, "Other IACA")
	assert.Contains(t, got.PEMData, "BEGIN CERTIFICATE")

	// multipart upload
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("certificate", "uploaded.pem")
	require.NoError(t, err)
	_, err = fw.Write(cryptoroot.CertificatePEM(other.Cert))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	resp, err := http.Post(ts.URL+"/api/certificates", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	certs = nil
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/certificates", nil, &certs))
	assert.Len(t, certs, 3)

	var errResp VerifyResponse
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/api/certificates/json", map[string]string{
		"filename": "bad",
		"pem_data": "not a certificate",
	}, &errResp))
	assert.Contains(t, errResp.Error, ErrInvalidCertificate.Error())

	var msg messageResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, ts.URL+"/api/certificates/other.pem", nil, &msg))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/api/certificates/other", nil, &errResp))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodDelete, ts.URL+"/api/certificates/other", nil, &errResp))
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/certificates/reload", nil, &msg))
}

func TestReaderCertChain(t *testing.T) {
	h := newHolder(t)
	srv, ts := newTestServer(t, h)

	resp, err := http.Get(ts.URL + "/api/reader-cert-chain")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	certs, err := pki.ParseCertificatesPEM(body)
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.True(t, certs[1].Equal(srv.identity.root.Cert))
	assert.NoError(t, certs[0].VerifyHostname(testDomain))
}

func TestSessions(t *testing.T) {
	sessions := NewSessions(time.Minute)
	session, err := sessions.NewSession(nil)
	require.NoError(t, err)
	assert.Len(t, session.Nonce, NonceLength)

	got, err := sessions.GetSession(session.ID)
	require.NoError(t, err)
	assert.Same(t, session, got)

	require.NoError(t, sessions.SetResult(session.ID, VerifyResponse{Error: "x"}))
	result, err := sessions.Result(session.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", result.Error)

	_, err = sessions.TakeSession(session.ID)
	require.NoError(t, err)
	_, err = sessions.TakeSession(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, sessions.SetResult(session.ID, VerifyResponse{}), ErrSessionNotFound)

	expiring := NewSessions(time.Nanosecond)
	old, err := expiring.NewSession(nil)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = expiring.GetSession(old.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = expiring.NewSession(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, expiring.Len())
}

func TestPemFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "root", want: "root.pem"},
		{in: "root.pem", want: "root.pem"},
		{in: "../../etc/passwd", want: "passwd.pem"},
		{in: ".hidden", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := pemFilename(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestConfigRequest(t *testing.T) {
	h := newHolder(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "iaca.pem"), cryptoroot.CertificatePEM(h.iaca.Cert), 0o644))

	_, err := NewServer(Config{Domain: testDomain, RootCertsDir: dir, Request: document.CredentialRequirement{
		CredentialType: "dc+sd-jwt",
		Credentials:    []document.Credential{{ID: "mdl"}},
	}}, nil)
	assert.Error(t, err)

	mdl, err := document.NewCredential("mdl", document.IsoMDL, document.ISO1801351,
		[]mdoc.ElementIdentifier{document.IsoFamilyName}, document.WithAlgorithms("ES384"))
	require.NoError(t, err)
	request, err := document.NewCredentialRequirement(mdl)
	require.NoError(t, err)
	srv, err := NewServer(Config{Domain: testDomain, RootCertsDir: dir, Request: request}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	session, transcript, _ := createSession(t, ts)
	deviceRequest, err := b64.DecodeString(session.DeviceRequest)
	require.NoError(t, err)
	decoded, err := mdoc.DecodeDeviceRequest(deviceRequest)
	require.NoError(t, err)
	items, err := decoded.DocRequests[0].Items()
	require.NoError(t, err)
	assert.Equal(t, mdoc.DataElements{document.IsoFamilyName: false}, items.NameSpaces[document.ISO1801351])

	// the holder signs with ES256
	body := VerifyRequest{SessionID: session.SessionID, Origin: testOrigin, Data: b64.EncodeToString(h.response(t, transcript))}
	var resp VerifyResponse
	require.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/verifyDeviceResponse", body, &resp))
	assert.Contains(t, resp.Error, mdoc.ErrUnsupportedAlgorithm.Error())
}
