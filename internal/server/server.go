// Package server is an mdoc reader service: it verifies device responses
// delivered online, runs proximity sessions over websocket and manages the
// trusted issuer certificates.
package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/mux"
	"github.com/kokukuma/mdoc-proximity/mdoc"
	"go.uber.org/zap"
)

var b64 = base64.RawURLEncoding

type Server struct {
	cfg         Config
	logger      *zap.Logger
	sessions    *Sessions
	certManager *CertManager
	identity    *readerIdentity
	request     *mdoc.DeviceRequest
}

func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	certManager, err := NewCertManager(cfg.RootCertsDir, logger.Named("certs"))
	if err != nil {
		return nil, err
	}
	identity, err := newReaderIdentity(cfg)
	if err != nil {
		return nil, err
	}
	request, err := cfg.Request.DeviceRequest()
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:         cfg,
		logger:      logger,
		sessions:    NewSessions(cfg.SessionTTL),
		certManager: certManager,
		identity:    identity,
		request:     request,
	}, nil
}

// newVerifier checks issuers against the current trusted certificates and
// signatures against the configured algorithms.
func (s *Server) newVerifier() *mdoc.Verifier {
	return mdoc.NewVerifier(s.certManager.Validator(),
		mdoc.WithLogger(s.logger),
		mdoc.WithAlgorithms(s.cfg.Request.Algorithms()...),
	)
}

// Router registers every route. CORS is left to the caller.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/session", s.CreateSession).Methods("POST", "OPTIONS")
	r.HandleFunc("/verifyDeviceResponse", s.VerifyDeviceResponse).Methods("POST", "OPTIONS")
	r.HandleFunc("/verifyEncryptedResponse", s.VerifyEncryptedResponse).Methods("POST", "OPTIONS")

	r.HandleFunc("/openid4vp/request/{sessionid}", s.RequestObject).Methods("GET", "OPTIONS")
	r.HandleFunc("/jwks.json", s.JWKS).Methods("GET", "OPTIONS")

	r.HandleFunc("/reader/engagement", s.ReaderEngagement).Methods("GET", "OPTIONS")
	r.HandleFunc("/reader/ws/{sessionid}", s.ReaderWebsocket).Methods("GET")
	r.HandleFunc("/reader/result/{sessionid}", s.ReaderResult).Methods("GET", "OPTIONS")

	certRouter := r.PathPrefix("/api/certificates").Subrouter()
	certRouter.HandleFunc("", s.ListCertificatesHandler).Methods("GET", "OPTIONS")
	certRouter.HandleFunc("", s.AddCertificateHandler).Methods("POST", "OPTIONS")
	certRouter.HandleFunc("/json", s.AddCertificateJSONHandler).Methods("POST", "OPTIONS")
	certRouter.HandleFunc("/reload", s.ReloadCertificatesHandler).Methods("POST", "OPTIONS")
	certRouter.HandleFunc("/{filename}", s.GetCertificateHandler).Methods("GET", "OPTIONS")
	certRouter.HandleFunc("/{filename}", s.DeleteCertificateHandler).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/api/reader-cert-chain", s.ReaderCertChainHandler).Methods("GET", "OPTIONS")

	return r
}

// debugDump logs a spew dump of v at debug level.
func (s *Server) debugDump(msg string, v interface{}) {
	if ce := s.logger.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(zap.String("dump", spew.Sdump(v)))
	}
}

func parseJSON(r *http.Request, v interface{}) error {
	if r == nil || r.Body == nil {
		return errors.New("no request given")
	}

	defer r.Body.Close()
	defer io.Copy(io.Discard, r.Body)

	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) jsonResponse(w http.ResponseWriter, d interface{}, c int) {
	dj, err := json.Marshal(d)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		http.Error(w, "Error creating JSON response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(c)
	fmt.Fprintf(w, "%s", dj)
}

func (s *Server) jsonErrorResponse(w http.ResponseWriter, e error, c int) {
	s.logger.Info("request failed", zap.Int("status", c), zap.Error(e))
	s.jsonResponse(w, VerifyResponse{Error: e.Error()}, c)
}
