// Package session_transcript binds a session to the engagement that opened
// it. Every signature and key derivation of a session covers the transcript.
package session_transcript

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
)

var cborNull = []byte{0xf6}

var ErrMalformedTranscript = errors.New("malformed session transcript")

// Handover is one of the handover variants of this package.
type Handover interface {
	// Value returns the CBOR encoding of the handover element.
	Value() ([]byte, error)
	SessionTranscript() (*SessionTranscript, error)
	isHandover()
}

// SessionTranscript is
// [DeviceEngagementBytes, EReaderKeyBytes, Handover].
// Online presentations carry null for both engagement elements.
type SessionTranscript struct {
	deviceEngagement cbor.RawMessage
	eReaderKey       cbor.RawMessage
	handover         cbor.RawMessage
	encoded          []byte
}

// New assembles a transcript from already encoded elements. nil
// engagement elements are encoded as null.
func New(deviceEngagementBytes, eReaderKeyBytes, handover []byte) (*SessionTranscript, error) {
	if len(handover) == 0 {
		return nil, fmt.Errorf("%w: handover is required", ErrMalformedTranscript)
	}
	st := &SessionTranscript{
		deviceEngagement: orNull(deviceEngagementBytes),
		eReaderKey:       orNull(eReaderKeyBytes),
		handover:         bytes.Clone(handover),
	}
	encoded, err := cborutil.Marshal([]cbor.RawMessage{st.deviceEngagement, st.eReaderKey, st.handover})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	st.encoded = encoded
	return st, nil
}

func orNull(b []byte) cbor.RawMessage {
	if len(b) == 0 {
		return bytes.Clone(cborNull)
	}
	return bytes.Clone(b)
}

func ParseSessionTranscript(data []byte) (*SessionTranscript, error) {
	var elems []cbor.RawMessage
	if err := cborutil.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTranscript, err)
	}
	if len(elems) != 3 {
		return nil, fmt.Errorf("%w: expected 3 elements, got %d", ErrMalformedTranscript, len(elems))
	}
	return &SessionTranscript{
		deviceEngagement: elems[0],
		eReaderKey:       elems[1],
		handover:         elems[2],
		encoded:          bytes.Clone(data),
	}, nil
}

// Bytes returns the transcript encoding. The result is a copy.
func (st *SessionTranscript) Bytes() []byte {
	return bytes.Clone(st.encoded)
}

// Tagged returns #6.24(bstr .cbor SessionTranscript), the input of the
// session key salt.
func (st *SessionTranscript) Tagged() ([]byte, error) {
	return cborutil.WrapTag24(st.encoded)
}

func (st *SessionTranscript) DeviceEngagementBytes() []byte {
	return bytes.Clone(st.deviceEngagement)
}

func (st *SessionTranscript) EReaderKeyBytes() []byte {
	return bytes.Clone(st.eReaderKey)
}

func (st *SessionTranscript) HandoverBytes() []byte {
	return bytes.Clone(st.handover)
}

func (st *SessionTranscript) Equal(other *SessionTranscript) bool {
	if st == nil || other == nil {
		return st == other
	}
	return bytes.Equal(st.encoded, other.encoded)
}

// MarshalCBOR embeds the transcript as-is in signing structures.
func (st SessionTranscript) MarshalCBOR() ([]byte, error) {
	if len(st.encoded) == 0 {
		return nil, ErrMalformedTranscript
	}
	return st.encoded, nil
}

func (st *SessionTranscript) UnmarshalCBOR(data []byte) error {
	parsed, err := ParseSessionTranscript(data)
	if err != nil {
		return err
	}
	*st = *parsed
	return nil
}

// online builds a transcript for presentations without engagement.
func online(h Handover) (*SessionTranscript, error) {
	value, err := h.Value()
	if err != nil {
		return nil, err
	}
	return New(nil, nil, value)
}
