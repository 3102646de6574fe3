// Package transport defines the send/receive contract a proximity session
// uses to exchange engagement and session messages with its peer.
package transport

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// GATT characteristics of the mdoc BLE service (ISO/IEC 18013-5 §8.3.3.1.1.4).
var (
	CharacteristicState         = uuid.MustParse("00000001-A123-48CE-896B-4C76973373E6")
	CharacteristicClient2Server = uuid.MustParse("00000002-A123-48CE-896B-4C76973373E6")
	CharacteristicServer2Client = uuid.MustParse("00000003-A123-48CE-896B-4C76973373E6")
)

// KnownCharacteristic reports whether id is one of the mdoc service
// characteristics.
func KnownCharacteristic(id uuid.UUID) bool {
	return id == CharacteristicState || id == CharacteristicClient2Server || id == CharacteristicServer2Client
}

// State values written to CharacteristicState.
const (
	StateStart byte = 0x01
	StateEnd   byte = 0x02
)

var (
	ErrClosed         = errors.New("transport closed")
	ErrNotInitialized = errors.New("transport not initialized")
	ErrUnknownService = errors.New("unknown service")

	ErrUnknownCharacteristic = errors.New("unknown characteristic")
)

// Transport moves whole messages between the two parties of a session.
// Fragmentation and reassembly are the implementation's responsibility.
type Transport interface {
	// Init opens serviceID. Write and Read fail for any other service.
	Init(ctx context.Context, serviceID uuid.UUID) error
	Write(ctx context.Context, serviceID, characteristicID uuid.UUID, data []byte) error
	// Read blocks until a message arrives on characteristicID, ctx is done
	// or the transport closes.
	Read(ctx context.Context, serviceID, characteristicID uuid.UUID) ([]byte, error)
	Close() error
}
