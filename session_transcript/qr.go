package session_transcript

import (
	"errors"
	"fmt"

	"github.com/kokukuma/mdoc-proximity/engagement"
	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
	"github.com/kokukuma/mdoc-proximity/pkg/hash"
)

var ErrMissingEngagement = errors.New("engagement is required")

// QRHandover binds a proximity session that started from a scanned
// engagement.
type QRHandover struct {
	Device *engagement.DeviceEngagement
	Reader *engagement.ReaderEngagement
}

func (QRHandover) isHandover() {}

// Value is the SHA-256 of the reader engagement encoding, as a bstr.
func (h QRHandover) Value() ([]byte, error) {
	if h.Reader == nil {
		return nil, ErrMissingEngagement
	}
	v, err := cborutil.Marshal(hash.SHA256Sum(h.Reader.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover: %w", err)
	}
	return v, nil
}

func (h QRHandover) SessionTranscript() (*SessionTranscript, error) {
	return proximity(h, h.Device, h.Reader)
}

// NFCHandover carries the Handover Select message and, for negotiated
// handover, the Handover Request message.
type NFCHandover struct {
	Device  *engagement.DeviceEngagement
	Reader  *engagement.ReaderEngagement
	Select  []byte
	Request []byte
}

func (NFCHandover) isHandover() {}

func (h NFCHandover) Value() ([]byte, error) {
	if len(h.Select) == 0 {
		return nil, fmt.Errorf("handover select message cannot be empty")
	}
	var request interface{}
	if len(h.Request) > 0 {
		request = h.Request
	}
	v, err := cborutil.Marshal([]interface{}{h.Select, request})
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover: %w", err)
	}
	return v, nil
}

func (h NFCHandover) SessionTranscript() (*SessionTranscript, error) {
	return proximity(h, h.Device, h.Reader)
}

func proximity(h Handover, de *engagement.DeviceEngagement, re *engagement.ReaderEngagement) (*SessionTranscript, error) {
	if de == nil || re == nil {
		return nil, ErrMissingEngagement
	}
	deviceEngagement, err := de.Tagged()
	if err != nil {
		return nil, fmt.Errorf("failed to encode device engagement: %w", err)
	}
	eReaderKey, err := re.EReaderKeyBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode reader key: %w", err)
	}
	value, err := h.Value()
	if err != nil {
		return nil, err
	}
	return New(deviceEngagement, eReaderKey, value)
}
