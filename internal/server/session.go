package server

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kokukuma/mdoc-proximity/proximity"
)

const NonceLength = 32

var ErrSessionNotFound = errors.New("session not found")

type Nonce []byte

func CreateNonce() (Nonce, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

func (n Nonce) String() string {
	return base64.RawURLEncoding.EncodeToString(n)
}

// Session holds the state of one verification. Online sessions use Nonce
// and PrivateKey; proximity sessions use Reader.
type Session struct {
	ID         string
	Nonce      Nonce
	PrivateKey *ecdh.PrivateKey
	Reader     *proximity.Reader
	CreatedAt  time.Time

	result *VerifyResponse
}

func (s *Session) PublicKeyHash() []byte {
	hash := sha256.Sum256(s.PrivateKey.PublicKey().Bytes())
	return hash[:]
}

func newSession(reader *proximity.Reader) (*Session, error) {
	nonce, err := CreateNonce()
	if err != nil {
		return nil, err
	}
	privKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generateKey: %w", err)
	}
	return &Session{
		ID:         uuid.New().String(),
		Nonce:      nonce,
		PrivateKey: privKey,
		Reader:     reader,
		CreatedAt:  time.Now(),
	}, nil
}

// Sessions is an in-memory session store. Expired sessions are dropped
// whenever a new one is added.
type Sessions struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*Session
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// NewSession stores a new session. reader is nil for online sessions.
func (s *Sessions) NewSession(reader *proximity.Reader) (*Session, error) {
	session, err := newSession(reader)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expire(session.CreatedAt)
	s.sessions[session.ID] = session
	return session, nil
}

func (s *Sessions) expire(now time.Time) {
	for id, session := range s.sessions {
		if now.Sub(session.CreatedAt) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

func (s *Sessions) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || time.Since(session.CreatedAt) > s.ttl {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// TakeSession removes and returns the session, so its nonce is used once.
func (s *Sessions) TakeSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || time.Since(session.CreatedAt) > s.ttl {
		return nil, ErrSessionNotFound
	}
	delete(s.sessions, id)
	return session, nil
}

func (s *Sessions) SetResult(id string, vr VerifyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.result = &vr
	return nil
}

// Result returns the stored result, or nil while the session is running.
func (s *Sessions) Result(id string) (*VerifyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.result, nil
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
