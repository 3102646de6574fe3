package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/gorilla/mux"
	"github.com/kokukuma/mdoc-proximity/openid4vp"
	"go.uber.org/zap"
)

const requestObjectLifetime = 5 * time.Minute

func (s *Server) requestURI(sessionID string) string {
	return fmt.Sprintf("https://%s/openid4vp/request/%s", s.cfg.Domain, sessionID)
}

func (s *Server) newRequestObject(session *Session, now time.Time) *openid4vp.RequestObject {
	query := s.cfg.Request.DCQLQuery()
	return &openid4vp.RequestObject{
		AuthorizationRequest: openid4vp.AuthorizationRequest{
			ClientID:       s.cfg.Domain,
			ClientIDScheme: openid4vp.ClientIDSchemeX509SanDNS,
			ResponseType:   openid4vp.ResponseTypeVPToken,
			ResponseMode:   openid4vp.ResponseModeDCAPI,
			Nonce:          session.Nonce.String(),
			State:          session.ID,
			DCQLQuery:      &query,
		},
		StandardClaims: jwt.StandardClaims{
			Issuer:    s.cfg.Domain,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(requestObjectLifetime).Unix(),
		},
	}
}

// RequestObject serves the signed authorization request of a session.
func (s *Server) RequestObject(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionid"]
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		s.jsonErrorResponse(w, err, http.StatusNotFound)
		return
	}

	token, err := openid4vp.SignRequestObject(
		s.newRequestObject(session, time.Now()),
		s.identity.custodian, s.identity.keyID, s.identity.chain)
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to sign request object: %w", err), http.StatusInternalServerError)
		return
	}

	s.logger.Debug("request object issued", zap.String("session_id", sessionID))
	w.Header().Set("Content-Type", "application/oauth-authz-req+jwt")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(token))
}
