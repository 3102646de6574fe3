// Package engagement builds and parses the device and reader engagement
// messages (ISO/IEC 18013-5 §8.2.1) that carry each party's ephemeral key
// and retrieval methods.
package engagement

import (
	"bytes"
	"crypto/ecdh"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
	"github.com/kokukuma/mdoc-proximity/pkg/cosekey"
)

const (
	Version = "1.0"

	// CipherSuite1 is ECDH P-256 + HKDF-SHA256 + AES-256-GCM.
	CipherSuite1 = 1

	RetrievalTypeBLE    = 2
	RetrievalVersionBLE = 1
)

var (
	ErrNoRetrievalMethod = errors.New("no retrieval method")
	ErrInvalidKey        = cosekey.ErrInvalidKey
)

type (
	UnsupportedCurveError   = cosekey.UnsupportedCurveError
	UnsupportedKeyTypeError = cosekey.UnsupportedKeyTypeError
)

// serviceNamespace seeds the BLE service UUIDs derived from ephemeral keys.
var serviceNamespace = uuid.MustParse("8f3b0a6e-5d7c-4e1a-9b2f-6c1d2e3f4a5b")

// CounterResetter is implemented by the secure channel. A reader engagement
// always starts a new session, so carried-over counters are reset first.
type CounterResetter interface {
	ResetMessageCounter()
}

// Security is the EngagementSecurity of one party.
type Security struct {
	_           struct{} `cbor:",toarray"`
	CipherSuite int
	KeyBytes    cborutil.TaggedCBOR
}

// PublicKey decodes and validates the ephemeral key.
func (s Security) PublicKey() (*ecdh.PublicKey, error) {
	if s.CipherSuite != CipherSuite1 {
		return nil, &UnsupportedCurveError{Curve: fmt.Sprintf("cipher suite %d", s.CipherSuite)}
	}
	key, err := cosekey.Decode(s.KeyBytes)
	if err != nil {
		return nil, err
	}
	crv, err := key.Curve()
	if err != nil {
		return nil, err
	}
	if crv != cosekey.P256 {
		return nil, &UnsupportedCurveError{Curve: crv}
	}
	return key.ECDH()
}

// TaggedKeyBytes is the #6.24 COSE_Key encoding placed in the session
// transcript (EDeviceKeyBytes / EReaderKeyBytes).
func (s Security) TaggedKeyBytes() ([]byte, error) {
	return s.KeyBytes.Tagged()
}

func checkKey(pub *ecdh.PublicKey) error {
	if pub == nil {
		return ErrInvalidKey
	}
	if pub.Curve() != ecdh.P256() {
		return &UnsupportedCurveError{Curve: fmt.Sprintf("%v", pub.Curve())}
	}
	return nil
}

func newSecurity(pub *ecdh.PublicKey) (Security, error) {
	if err := checkKey(pub); err != nil {
		return Security{}, err
	}
	key, err := cosekey.FromECDH(pub)
	if err != nil {
		return Security{}, err
	}
	encoded, err := key.Encode()
	if err != nil {
		return Security{}, fmt.Errorf("failed to encode COSE_Key: %w", err)
	}
	return Security{CipherSuite: CipherSuite1, KeyBytes: encoded}, nil
}

// BLEOptions per ISO/IEC 18013-5 §8.2.2.1.
type BLEOptions struct {
	PeripheralServerMode bool   `cbor:"0,keyasint"`
	CentralClientMode    bool   `cbor:"1,keyasint"`
	PeripheralServerUUID []byte `cbor:"10,keyasint,omitempty"`
	CentralClientUUID    []byte `cbor:"11,keyasint,omitempty"`
}

type RetrievalMethod struct {
	_       struct{} `cbor:",toarray"`
	Type    uint
	Version uint
	Options BLEOptions
}

// ServiceUUID returns the advertised BLE service UUID.
func (m RetrievalMethod) ServiceUUID() (uuid.UUID, error) {
	raw := m.Options.CentralClientUUID
	if m.Options.PeripheralServerMode {
		raw = m.Options.PeripheralServerUUID
	}
	return uuid.FromBytes(raw)
}

// serviceUUID is deterministic for a given key and unique per session
// because engagement keys are ephemeral.
func serviceUUID(pub *ecdh.PublicKey) []byte {
	id := uuid.NewSHA1(serviceNamespace, pub.Bytes())
	return id[:]
}

func centralClientMethod(pub *ecdh.PublicKey) RetrievalMethod {
	return RetrievalMethod{
		Type:    RetrievalTypeBLE,
		Version: RetrievalVersionBLE,
		Options: BLEOptions{CentralClientMode: true, CentralClientUUID: serviceUUID(pub)},
	}
}

func peripheralServerMethod(pub *ecdh.PublicKey) RetrievalMethod {
	return RetrievalMethod{
		Type:    RetrievalTypeBLE,
		Version: RetrievalVersionBLE,
		Options: BLEOptions{PeripheralServerMode: true, PeripheralServerUUID: serviceUUID(pub)},
	}
}

type wireEngagement struct {
	Version          string            `cbor:"0,keyasint"`
	Security         Security          `cbor:"1,keyasint"`
	RetrievalMethods []RetrievalMethod `cbor:"2,keyasint,omitempty"`
}

// engagement is the shared immutable body of both engagement kinds.
type engagement struct {
	wire    wireEngagement
	encoded []byte
	key     *ecdh.PublicKey
}

func newEngagement(pub *ecdh.PublicKey, method RetrievalMethod) (engagement, error) {
	sec, err := newSecurity(pub)
	if err != nil {
		return engagement{}, err
	}
	wire := wireEngagement{
		Version:          Version,
		Security:         sec,
		RetrievalMethods: []RetrievalMethod{method},
	}
	encoded, err := cborutil.Marshal(wire)
	if err != nil {
		return engagement{}, fmt.Errorf("failed to encode engagement: %w", err)
	}
	return engagement{wire: wire, encoded: encoded, key: pub}, nil
}

func parseEngagement(data []byte) (engagement, error) {
	var wire wireEngagement
	if err := cborutil.Unmarshal(data, &wire); err != nil {
		return engagement{}, fmt.Errorf("failed to unmarshal engagement: %w", err)
	}
	if len(wire.RetrievalMethods) == 0 {
		return engagement{}, ErrNoRetrievalMethod
	}
	key, err := wire.Security.PublicKey()
	if err != nil {
		return engagement{}, err
	}
	return engagement{wire: wire, encoded: bytes.Clone(data), key: key}, nil
}

// Encode returns the canonical encoding. The result is a copy.
func (e engagement) Encode() []byte {
	return bytes.Clone(e.encoded)
}

// Tagged returns #6.24(bstr .cbor Engagement).
func (e engagement) Tagged() ([]byte, error) {
	return cborutil.WrapTag24(e.encoded)
}

func (e engagement) Version() string {
	return e.wire.Version
}

// Security returns a copy of the engagement security.
func (e engagement) Security() Security {
	sec := e.wire.Security
	sec.KeyBytes = bytes.Clone(sec.KeyBytes)
	return sec
}

func (e engagement) PublicKey() *ecdh.PublicKey {
	return e.key
}

// RetrievalMethods returns deep copies of the advertised methods.
func (e engagement) RetrievalMethods() []RetrievalMethod {
	methods := make([]RetrievalMethod, len(e.wire.RetrievalMethods))
	for i, m := range e.wire.RetrievalMethods {
		m.Options.PeripheralServerUUID = bytes.Clone(m.Options.PeripheralServerUUID)
		m.Options.CentralClientUUID = bytes.Clone(m.Options.CentralClientUUID)
		methods[i] = m
	}
	return methods
}
