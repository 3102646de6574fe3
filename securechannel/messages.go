package securechannel

import (
	"crypto/ecdh"
	"fmt"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
	"github.com/kokukuma/mdoc-proximity/pkg/cosekey"
)

// SessionData status codes (ISO/IEC 18013-5 Table 20).
const (
	StatusSessionEncryptionError uint = 10
	StatusCBORDecodingError      uint = 11
	StatusSessionTermination     uint = 20
)

// SessionEstablishment is the first message from the reader.
type SessionEstablishment struct {
	EReaderKey cborutil.TaggedCBOR `json:"eReaderKey"`
	Data       []byte              `json:"data"`
}

// ReaderKey decodes the reader ephemeral key.
func (m *SessionEstablishment) ReaderKey() (*ecdh.PublicKey, error) {
	key, err := cosekey.Decode(m.EReaderKey)
	if err != nil {
		return nil, err
	}
	return key.ECDH()
}

func NewSessionEstablishment(eReaderKey *ecdh.PublicKey, data []byte) (*SessionEstablishment, error) {
	key, err := cosekey.FromECDH(eReaderKey)
	if err != nil {
		return nil, err
	}
	encoded, err := key.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode reader key: %w", err)
	}
	return &SessionEstablishment{EReaderKey: encoded, Data: data}, nil
}

func (m *SessionEstablishment) Encode() ([]byte, error) {
	return cborutil.Marshal(m)
}

func DecodeSessionEstablishment(data []byte) (*SessionEstablishment, error) {
	var m SessionEstablishment
	if err := cborutil.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(m.EReaderKey) == 0 || len(m.Data) == 0 {
		return nil, fmt.Errorf("%w: eReaderKey and data are required", ErrMalformedMessage)
	}
	return &m, nil
}

// SessionData carries encrypted data, a status, or both.
type SessionData struct {
	Data   []byte `json:"data,omitempty"`
	Status *uint  `json:"status,omitempty"`
}

func NewSessionData(data []byte) *SessionData {
	return &SessionData{Data: data}
}

func NewStatus(status uint) *SessionData {
	return &SessionData{Status: &status}
}

// Terminates reports whether the message ends the session.
func (m *SessionData) Terminates() bool {
	return m.Status != nil
}

func (m *SessionData) Encode() ([]byte, error) {
	return cborutil.Marshal(m)
}

func DecodeSessionData(data []byte) (*SessionData, error) {
	var m SessionData
	if err := cborutil.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Data == nil && m.Status == nil {
		return nil, fmt.Errorf("%w: empty session data", ErrMalformedMessage)
	}
	return &m, nil
}
