package engagement

import "crypto/ecdh"

// ReaderEngagement is the verifier's engagement. The reader acts as BLE
// peripheral server.
type ReaderEngagement struct {
	engagement
}

// CreateReaderEngagement resets the counters of reset before building the
// engagement; reset may be nil when no channel exists yet. An invalid key
// leaves reset untouched.
func CreateReaderEngagement(readerPublicKey *ecdh.PublicKey, reset CounterResetter) (*ReaderEngagement, error) {
	if err := checkKey(readerPublicKey); err != nil {
		return nil, err
	}
	if reset != nil {
		reset.ResetMessageCounter()
	}
	e, err := newEngagement(readerPublicKey, peripheralServerMethod(readerPublicKey))
	if err != nil {
		return nil, err
	}
	return &ReaderEngagement{engagement: e}, nil
}

func ParseReaderEngagement(data []byte) (*ReaderEngagement, error) {
	e, err := parseEngagement(data)
	if err != nil {
		return nil, err
	}
	return &ReaderEngagement{engagement: e}, nil
}

// EReaderKeyBytes returns #6.24(COSE_Key) of the reader ephemeral key as it
// appears in the session transcript.
func (r *ReaderEngagement) EReaderKeyBytes() ([]byte, error) {
	return r.Security().TaggedKeyBytes()
}
