package custodian

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kokukuma/mdoc-proximity/pkg/hash"
)

type memoryKey struct {
	alg  Algorithm
	priv *ecdsa.PrivateKey
}

// Memory is an in-process KeyCustodian. Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	keys map[KeyID]memoryKey
}

var _ KeyCustodian = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{keys: make(map[KeyID]memoryKey)}
}

func curveFor(alg Algorithm) (elliptic.Curve, string, error) {
	switch alg {
	case ES256:
		return elliptic.P256(), hash.SHA256, nil
	case ES384:
		return elliptic.P384(), hash.SHA384, nil
	case ES512:
		return elliptic.P521(), hash.SHA512, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

func (m *Memory) GenerateKey(alg Algorithm) (KeyID, error) {
	curve, _, err := curveFor(alg)
	if err != nil {
		return "", err
	}
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return m.store(alg, priv), nil
}

// Import hands an existing key to the custodian, e.g. a document signer
// key loaded from PEM. The caller must drop its own reference.
func (m *Memory) Import(alg Algorithm, priv *ecdsa.PrivateKey) (KeyID, error) {
	curve, _, err := curveFor(alg)
	if err != nil {
		return "", err
	}
	if priv == nil || priv.Curve != curve {
		return "", fmt.Errorf("%w: key does not match %s", ErrUnsupportedAlgorithm, alg)
	}
	return m.store(alg, priv), nil
}

func (m *Memory) store(alg Algorithm, priv *ecdsa.PrivateKey) KeyID {
	id := KeyID(uuid.NewString())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[id] = memoryKey{alg: alg, priv: priv}
	return id
}

func (m *Memory) get(id KeyID) (memoryKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[id]
	if !ok {
		return memoryKey{}, keyNotFound(id)
	}
	return k, nil
}

func (m *Memory) PublicKey(id KeyID) (crypto.PublicKey, error) {
	k, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return &k.priv.PublicKey, nil
}

func (m *Memory) Algorithm(id KeyID) (Algorithm, error) {
	k, err := m.get(id)
	if err != nil {
		return "", err
	}
	return k.alg, nil
}

func (m *Memory) Sign(id KeyID, payload []byte) ([]byte, error) {
	k, err := m.get(id)
	if err != nil {
		return nil, err
	}
	_, hashAlg, err := curveFor(k.alg)
	if err != nil {
		return nil, err
	}
	digest, err := hash.Digest(payload, hashAlg)
	if err != nil {
		return nil, err
	}

	r, s, err := ecdsa.Sign(rand.Reader, k.priv, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	size := (k.priv.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*size)
	r.FillBytes(sig[:size])
	s.FillBytes(sig[size:])
	return sig, nil
}

func (m *Memory) DeleteKey(id KeyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[id]; !ok {
		return keyNotFound(id)
	}
	delete(m.keys, id)
	return nil
}
