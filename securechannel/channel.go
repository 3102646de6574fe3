// Package securechannel implements mdoc session encryption: directional
// AES-256-GCM keys derived from the session transcript, with per-direction
// message counters in the nonce.
package securechannel

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

type Role int

const (
	RoleReader Role = iota
	RoleDevice
)

func (r Role) String() string {
	if r == RoleDevice {
		return "device"
	}
	return "reader"
}

// Direction names the sender and receiver of a message.
type Direction int

const (
	ReaderToDevice Direction = iota
	DeviceToReader
)

func (d Direction) String() string {
	if d == DeviceToReader {
		return "device-to-reader"
	}
	return "reader-to-device"
}

// identifier is the fixed nonce prefix of each direction.
func (d Direction) identifier() [8]byte {
	var id [8]byte
	if d == DeviceToReader {
		id[7] = 1
	}
	return id
}

// Encryptor is the primitive used by the session layer.
type Encryptor interface {
	Encrypt(plaintext []byte, dir Direction) ([]byte, error)
	Decrypt(ciphertext []byte, dir Direction) ([]byte, error)
	ResetMessageCounter()
}

type Option func(*SecureChannel)

func WithLogger(logger *zap.Logger) Option {
	return func(c *SecureChannel) {
		c.logger = logger
	}
}

// SecureChannel owns the keys and counters of one session. It is safe for
// concurrent use.
type SecureChannel struct {
	mu         sync.Mutex
	role       Role
	keys       *SessionKeys
	counters   [2]uint32
	terminated bool
	closed     bool
	logger     *zap.Logger
}

var _ Encryptor = (*SecureChannel)(nil)

// New returns a channel for role. keys may be nil; the channel then needs
// Rekey before use.
func New(role Role, keys *SessionKeys, opts ...Option) *SecureChannel {
	c := &SecureChannel{
		role:   role,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if keys != nil {
		c.keys = keys.clone()
	}
	return c
}

func (c *SecureChannel) Role() Role {
	return c.role
}

func (c *SecureChannel) key(dir Direction) []byte {
	if dir == DeviceToReader {
		return c.keys.SKDevice
	}
	return c.keys.SKReader
}

// next advances the counter of dir and returns the nonce for it.
func (c *SecureChannel) next(dir Direction) ([]byte, uint32, error) {
	if c.closed || c.terminated {
		return nil, 0, ErrSessionTerminated
	}
	if c.keys == nil {
		return nil, 0, ErrNotEstablished
	}
	if dir != ReaderToDevice && dir != DeviceToReader {
		return nil, 0, fmt.Errorf("unknown direction %d", dir)
	}
	if c.counters[dir] == math.MaxUint32 {
		return nil, 0, ErrCounterExhausted
	}
	c.counters[dir]++

	id := dir.identifier()
	nonce := make([]byte, 12)
	copy(nonce, id[:])
	binary.BigEndian.PutUint32(nonce[8:], c.counters[dir])
	return nonce, c.counters[dir], nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext with the key and next counter of dir.
func (c *SecureChannel) Encrypt(plaintext []byte, dir Direction) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, _, err := c.next(dir)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(c.key(dir))
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext with the key and next counter of dir. A failure
// terminates the channel.
func (c *SecureChannel) Decrypt(ciphertext []byte, dir Direction) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, counter, err := c.next(dir)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(c.key(dir))
	if err != nil {
		c.terminate()
		return nil, &DecryptionError{Direction: dir, Counter: counter, Err: err}
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		c.terminate()
		return nil, &DecryptionError{Direction: dir, Counter: counter, Err: err}
	}
	return plaintext, nil
}

func (c *SecureChannel) terminate() {
	c.terminated = true
	c.keys.Wipe()
	c.keys = nil
	c.logger.Debug("secure channel terminated", zap.Stringer("role", c.role))
}

// EncryptMessage encrypts in the sending direction of the channel's role.
func (c *SecureChannel) EncryptMessage(plaintext []byte) ([]byte, error) {
	if c.role == RoleDevice {
		return c.Encrypt(plaintext, DeviceToReader)
	}
	return c.Encrypt(plaintext, ReaderToDevice)
}

// DecryptMessage decrypts in the receiving direction of the channel's role.
func (c *SecureChannel) DecryptMessage(ciphertext []byte) ([]byte, error) {
	if c.role == RoleDevice {
		return c.Decrypt(ciphertext, ReaderToDevice)
	}
	return c.Decrypt(ciphertext, DeviceToReader)
}

// ResetMessageCounter starts a new session on this channel: both counters
// return to their initial value and the previous session's keys are
// dropped. Rekey installs the keys of the new session.
func (c *SecureChannel) ResetMessageCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters = [2]uint32{}
	c.keys.Wipe()
	c.keys = nil
	c.terminated = false
}

// Rekey installs session keys and resets the counters.
func (c *SecureChannel) Rekey(keys *SessionKeys) error {
	if keys == nil || len(keys.SKReader) != keySize || len(keys.SKDevice) != keySize {
		return fmt.Errorf("%w: session keys must be %d bytes", ErrInvalidKey, keySize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionTerminated
	}
	c.keys.Wipe()
	c.keys = keys.clone()
	c.counters = [2]uint32{}
	c.terminated = false
	return nil
}

// Terminated reports whether the channel refuses further messages.
func (c *SecureChannel) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.terminated
}

// Close wipes the keys. The channel cannot be used afterwards.
func (c *SecureChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.keys.Wipe()
	c.keys = nil
	c.counters = [2]uint32{}
	c.closed = true
}
