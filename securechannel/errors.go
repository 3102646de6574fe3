package securechannel

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionTerminated is returned by every operation of a channel that
	// was closed or failed to decrypt a message.
	ErrSessionTerminated = errors.New("session terminated")
	ErrCounterExhausted  = errors.New("message counter exhausted")
	ErrNotEstablished    = errors.New("session keys not established")
	ErrMalformedMessage  = errors.New("malformed session message")
	ErrInvalidKey        = errors.New("invalid ephemeral key")
)

// DecryptionError reports an authentication failure of a session message.
type DecryptionError struct {
	Direction Direction
	Counter   uint32
	Err       error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("failed to decrypt %s message %d: %v", e.Direction, e.Counter, e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

func IsDecryptionError(err error) bool {
	var target *DecryptionError
	return errors.As(err, &target)
}
