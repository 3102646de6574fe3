package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/kokukuma/mdoc-proximity/internal/cryptoroot"
	"go.uber.org/zap"
)

type messageResponse struct {
	Message string    `json:"message"`
	Info    *CertInfo `json:"info,omitempty"`
}

func (s *Server) ListCertificatesHandler(w http.ResponseWriter, r *http.Request) {
	certs, err := s.certManager.ListCertificates()
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to list certificates: %w", err), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, certs, http.StatusOK)
}

func (s *Server) GetCertificateHandler(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	info, pemData, err := s.certManager.GetCertificate(filename)
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to get certificate: %w", err), http.StatusNotFound)
		return
	}

	response := struct {
		Info    *CertInfo `json:"info"`
		PEMData string    `json:"pem_data"`
	}{
		Info:    info,
		PEMData: string(pemData),
	}
	s.jsonResponse(w, response, http.StatusOK)
}

// AddCertificateHandler accepts a multipart upload in the "certificate"
// field, keeping the uploaded filename.
func (s *Server) AddCertificateHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to parse form: %w", err), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("certificate")
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to get certificate file: %w", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	certData, err := io.ReadAll(file)
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to read certificate data: %w", err), http.StatusInternalServerError)
		return
	}
	s.addCertificate(w, fileHeader.Filename, certData)
}

func (s *Server) AddCertificateJSONHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
		PEMData  string `json:"pem_data"`
	}
	if err := parseJSON(r, &req); err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to parse request: %w", err), http.StatusBadRequest)
		return
	}
	if req.PEMData == "" {
		s.jsonErrorResponse(w, errors.New("certificate data is required"), http.StatusBadRequest)
		return
	}
	s.addCertificate(w, req.Filename, []byte(req.PEMData))
}

func (s *Server) addCertificate(w http.ResponseWriter, filename string, certData []byte) {
	info, err := s.certManager.AddCertificate(filename, certData)
	if err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to add certificate: %w", err), http.StatusBadRequest)
		return
	}
	s.logger.Info("root certificate added", zap.String("file", info.Filename), zap.String("subject", info.Subject))
	s.jsonResponse(w, messageResponse{Message: "Certificate added successfully", Info: info}, http.StatusOK)
}

func (s *Server) DeleteCertificateHandler(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	if err := s.certManager.DeleteCertificate(filename); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		s.jsonErrorResponse(w, fmt.Errorf("failed to delete certificate: %w", err), status)
		return
	}
	s.logger.Info("root certificate deleted", zap.String("file", filename))
	s.jsonResponse(w, messageResponse{Message: "Certificate deleted successfully"}, http.StatusOK)
}

func (s *Server) ReloadCertificatesHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.certManager.ReloadCertificates(); err != nil {
		s.jsonErrorResponse(w, fmt.Errorf("failed to reload certificates: %w", err), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, messageResponse{Message: "Certificates reloaded successfully"}, http.StatusOK)
}

// ReaderCertChainHandler returns the reader certificate chain as PEM, for
// holders that need to trust this reader.
func (s *Server) ReaderCertChainHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	for _, cert := range s.identity.chain {
		w.Write(cryptoroot.CertificatePEM(cert))
	}
}
