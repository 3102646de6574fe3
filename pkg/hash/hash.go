package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

const (
	SHA256 = "SHA-256"
	SHA384 = "SHA-384"
	SHA512 = "SHA-512"
)

// New returns a hasher for the digest algorithm names used in the MSO.
func New(alg string) (hash.Hash, error) {
	switch alg {
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", alg)
	}
}

func Digest(message []byte, alg string) ([]byte, error) {
	hasher, err := New(alg)
	if err != nil {
		return nil, err
	}
	if _, err := hasher.Write(message); err != nil {
		return nil, fmt.Errorf("failed to write to hasher: %w", err)
	}
	return hasher.Sum(nil), nil
}

func SHA256Sum(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}
