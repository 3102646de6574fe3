// Package custodian defines the key custodian contract: private keys are
// created, used and destroyed behind an opaque KeyID and never leave it.
package custodian

import (
	"crypto"
	"errors"
	"fmt"
)

type Algorithm string

const (
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
)

type KeyID string

var (
	ErrKeyNotFound          = errors.New("key not found")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// KeyCustodian performs raw private-key operations by identifier. The
// algorithm is always chosen by the caller.
type KeyCustodian interface {
	GenerateKey(alg Algorithm) (KeyID, error)
	PublicKey(id KeyID) (crypto.PublicKey, error)
	// Sign hashes payload with the hash bound to the key's algorithm and
	// returns the signature in the fixed-length r||s form used by COSE.
	Sign(id KeyID, payload []byte) ([]byte, error)
	DeleteKey(id KeyID) error
}

func keyNotFound(id KeyID) error {
	return fmt.Errorf("%w: %s", ErrKeyNotFound, id)
}
