// Package proximity runs the reader and device sides of an ISO/IEC 18013-5
// proximity presentation over a transport.Transport.
//
// The reader shows its engagement first (for example as a QR code). The
// device answers on the transport with its own engagement, then the reader
// sends an encrypted device request in SessionEstablishment and the device
// replies with an encrypted device response in SessionData. The mdoc acts
// as GATT client: it writes to Client2Server and the reader writes to
// Server2Client.
package proximity

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kokukuma/mdoc-proximity/engagement"
	"github.com/kokukuma/mdoc-proximity/securechannel"
	"github.com/kokukuma/mdoc-proximity/transport"
)

var (
	ErrNotStarted          = errors.New("session not started")
	ErrSessionEnded        = errors.New("session ended")
	ErrUnexpectedState     = errors.New("unexpected state")
	ErrUnexpectedReaderKey = errors.New("reader key does not match the engagement")
)

// StatusError reports a status sent by the peer in SessionData.
type StatusError struct {
	Status uint
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer ended the session with status %d", e.Status)
}

func IsStatusError(err error) bool {
	var target *StatusError
	return errors.As(err, &target)
}

func generateKey() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	return priv, nil
}

func serviceID(methods []engagement.RetrievalMethod) (uuid.UUID, error) {
	for _, m := range methods {
		if m.Type == engagement.RetrievalTypeBLE {
			return m.ServiceUUID()
		}
	}
	return uuid.Nil, engagement.ErrNoRetrievalMethod
}

// sendStatus writes a SessionData status. Errors are ignored: the session
// is being torn down.
func sendStatus(ctx context.Context, t transport.Transport, service, characteristic uuid.UUID, status uint) {
	msg, err := securechannel.NewStatus(status).Encode()
	if err != nil {
		return
	}
	_ = t.Write(ctx, service, characteristic, msg)
}

// readSessionData reads a SessionData message, turning a bare status into a
// *StatusError.
func readSessionData(ctx context.Context, t transport.Transport, service, characteristic uuid.UUID) (*securechannel.SessionData, error) {
	b, err := t.Read(ctx, service, characteristic)
	if err != nil {
		return nil, fmt.Errorf("failed to read session data: %w", err)
	}
	msg, err := securechannel.DecodeSessionData(b)
	if err != nil {
		return nil, err
	}
	if msg.Data == nil && msg.Status != nil {
		return nil, &StatusError{Status: *msg.Status}
	}
	return msg, nil
}
