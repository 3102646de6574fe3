package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kokukuma/mdoc-proximity/proximity"
	"github.com/kokukuma/mdoc-proximity/transport/wstransport"
	"go.uber.org/zap"
)

type ReaderEngagementResponse struct {
	SessionID string `json:"session_id"`
	// Engagement is the CBOR reader engagement, base64url, for the QR code.
	Engagement  string `json:"engagement"`
	ServiceUUID string `json:"service_uuid"`
	// WebsocketPath carries the proximity session in place of BLE.
	WebsocketPath string `json:"websocket_path"`
}

func (s *Server) ReaderEngagement(w http.ResponseWriter, r *http.Request) {
	reader, err := proximity.NewReader(
		proximity.WithVerifier(s.newVerifier()),
		proximity.WithReaderAuth(s.identity.signer, s.identity.chain),
		proximity.WithReaderLogger(s.logger.Named("reader")),
	)
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to create reader: %w", err), http.StatusInternalServerError)
		return
	}
	session, err := s.sessions.NewSession(reader)
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to create session: %w", err), http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, ReaderEngagementResponse{
		SessionID:     session.ID,
		Engagement:    b64.EncodeToString(reader.Engagement()),
		ServiceUUID:   reader.ServiceID().String(),
		WebsocketPath: "/reader/ws/" + session.ID,
	}, http.StatusOK)
}

// ReaderWebsocket runs one proximity session on the upgraded connection and
// stores its outcome for ReaderResult.
func (s *Server) ReaderWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionid"]
	session, err := s.sessions.GetSession(sessionID)
	if err != nil || session.Reader == nil {
		http.Error(w, ErrSessionNotFound.Error(), http.StatusNotFound)
		return
	}

	conn, err := wstransport.Upgrade(w, r, wstransport.WithLogger(s.logger.Named("ws")))
	if err != nil {
		s.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	result := s.runProximity(ctx, session.Reader, conn)
	if err := s.sessions.SetResult(sessionID, result); err != nil {
		s.logger.Warn("failed to store result", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *Server) runProximity(ctx context.Context, reader *proximity.Reader, conn *wstransport.Conn) VerifyResponse {
	if err := reader.Accept(ctx, conn); err != nil {
		return VerifyResponse{Error: fmt.Sprintf("failed to accept device engagement: %v", err)}
	}
	request, err := s.cfg.Request.DeviceRequest()
	if err != nil {
		reader.Close(ctx)
		return VerifyResponse{Error: err.Error()}
	}
	result, err := reader.Request(ctx, request)
	if err != nil {
		return VerifyResponse{Error: fmt.Sprintf("failed to retrieve mdoc: %v", err)}
	}
	s.debugDump("proximity device response", result.Response)
	if err := reader.Close(ctx); err != nil {
		s.logger.Info("failed to close proximity session", zap.Error(err))
	}

	elements, err := collectElements(result.Response.Documents)
	if err != nil {
		return VerifyResponse{Error: err.Error()}
	}
	return VerifyResponse{Elements: elements}
}

// ReaderResult answers 202 while the proximity session is still running.
func (s *Server) ReaderResult(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionid"]
	result, err := s.sessions.Result(sessionID)
	if err != nil {
		s.jsonErrorResponse(w, err, http.StatusNotFound)
		return
	}
	if result == nil {
		s.jsonResponse(w, VerifyResponse{}, http.StatusAccepted)
		return
	}
	s.jsonResponse(w, result, http.StatusOK)
}
