package server

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/kokukuma/mdoc-proximity/mdoc"
	"github.com/kokukuma/mdoc-proximity/pkg/hpke"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
	"go.uber.org/zap"
)

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
	// PublicKey is the uncompressed P-256 key responses are encrypted to.
	PublicKey string `json:"public_key"`
	// DeviceRequest is the CBOR device request, base64url.
	DeviceRequest string `json:"device_request"`
	RequestURI    string `json:"request_uri"`
}

type VerifyRequest struct {
	SessionID string `json:"session_id"`
	Origin    string `json:"origin"`
	// Data is the base64url CBOR DeviceResponse, or the CBOR HPKE envelope
	// for /verifyEncryptedResponse.
	Data string `json:"data"`
}

type VerifyResponse struct {
	Elements []Element `json:"elements,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type Element struct {
	DocType    mdoc.DocType           `json:"doctype"`
	NameSpace  mdoc.NameSpace         `json:"namespace"`
	Identifier mdoc.ElementIdentifier `json:"identifier"`
	Value      mdoc.ElementValue      `json:"value"`
}

func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.NewSession(nil)
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to create session: %w", err), http.StatusInternalServerError)
		return
	}
	request, err := s.request.Encode()
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to encode device request: %w", err), http.StatusInternalServerError)
		return
	}

	s.logger.Debug("session created", zap.String("session_id", session.ID))
	s.jsonResponse(w, CreateSessionResponse{
		SessionID:     session.ID,
		Nonce:         session.Nonce.String(),
		PublicKey:     b64.EncodeToString(session.PrivateKey.PublicKey().Bytes()),
		DeviceRequest: b64.EncodeToString(request),
		RequestURI:    s.requestURI(session.ID),
	}, http.StatusOK)
}

func (s *Server) browserTranscript(session *Session, origin string) (*st.SessionTranscript, error) {
	return st.BrowserHandover{
		Nonce:           session.Nonce,
		Origin:          origin,
		RequesterIDHash: session.PublicKeyHash(),
	}.SessionTranscript()
}

// takeVerifyRequest parses the body and consumes its session.
func (s *Server) takeVerifyRequest(r *http.Request) (*VerifyRequest, *Session, []byte, error) {
	var req VerifyRequest
	if err := parseJSON(r, &req); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse request: %w", err)
	}
	if req.Data == "" {
		return nil, nil, nil, errors.New("data is required")
	}
	data, err := b64.DecodeString(req.Data)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to decode data: %w", err)
	}
	session, err := s.sessions.TakeSession(req.SessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	return &req, session, data, nil
}

func (s *Server) VerifyDeviceResponse(w http.ResponseWriter, r *http.Request) {
	req, session, data, err := s.takeVerifyRequest(r)
	if err != nil {
		s.jsonErrorResponse(w, err, http.StatusBadRequest)
		return
	}
	transcript, err := s.browserTranscript(session, req.Origin)
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to get session transcript: %w", err), http.StatusBadRequest)
		return
	}
	s.verifyAndRespond(w, data, transcript)
}

func (s *Server) VerifyEncryptedResponse(w http.ResponseWriter, r *http.Request) {
	req, session, data, err := s.takeVerifyRequest(r)
	if err != nil {
		s.jsonErrorResponse(w, err, http.StatusBadRequest)
		return
	}
	transcript, err := s.browserTranscript(session, req.Origin)
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to get session transcript: %w", err), http.StatusBadRequest)
		return
	}

	envelope, err := hpke.DecodeEnvelope(data)
	if err != nil {
		s.jsonErrorResponse(w, err, http.StatusBadRequest)
		return
	}
	plaintext, err := envelope.Open(session.PrivateKey, transcript)
	if err != nil {
		s.jsonErrorResponse(w, err, http.StatusBadRequest)
		return
	}
	s.verifyAndRespond(w, plaintext, transcript)
}

func (s *Server) verifyAndRespond(w http.ResponseWriter, data []byte, transcript *st.SessionTranscript) {
	devResp, err := mdoc.DecodeDeviceResponse(data)
	if err != nil {
		s.jsonErrorResponse(w, err, http.StatusBadRequest)
		return
	}
	s.debugDump("device response", devResp)

	verifier := s.newVerifier()
	if err := verifier.VerifyDeviceResponse(devResp, transcript); err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to verify mdoc: %w", err), http.StatusBadRequest)
		return
	}

	elements, err := collectElements(devResp.Documents)
	if err != nil {
		s.jsonErrorResponse(w, err, http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, VerifyResponse{Elements: elements}, http.StatusOK)
}

func collectElements(docs []mdoc.Document) ([]Element, error) {
	var elements []Element
	for _, doc := range docs {
		nameSpaces, err := doc.IssuerSigned.Elements()
		if err != nil {
			return nil, err
		}
		for ns, values := range nameSpaces {
			for id, value := range values {
				elements = append(elements, Element{
					DocType:    doc.DocType,
					NameSpace:  ns,
					Identifier: id,
					Value:      jsonValue(value),
				})
			}
		}
	}
	sortElements(elements)
	return elements, nil
}

// jsonValue converts CBOR decoded maps, which may have non-string keys, to
// values encoding/json accepts.
func jsonValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))
		for k, e := range v {
			m[fmt.Sprint(k)] = jsonValue(e)
		}
		return m
	case []interface{}:
		l := make([]interface{}, len(v))
		for i, e := range v {
			l[i] = jsonValue(e)
		}
		return l
	case cbor.Tag:
		return jsonValue(v.Content)
	default:
		return v
	}
}

func sortElements(elements []Element) {
	sort.Slice(elements, func(i, j int) bool {
		a, b := elements[i], elements[j]
		if a.DocType != b.DocType {
			return a.DocType < b.DocType
		}
		if a.NameSpace != b.NameSpace {
			return a.NameSpace < b.NameSpace
		}
		return a.Identifier < b.Identifier
	})
}
