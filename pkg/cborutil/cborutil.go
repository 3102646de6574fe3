// Package cborutil holds the deterministic CBOR encoding shared by every
// structure that is hashed or signed.
package cborutil

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// TagEncodedCBOR is the tag for "encoded CBOR data item" (#6.24).
const TagEncodedCBOR = 24

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339
	opts.TimeTag = cbor.EncTagRequired

	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborutil: invalid encoding options: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cborutil: invalid decoding options: %v", err))
	}
}

// Marshal encodes v with core deterministic encoding.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal rejects duplicate map keys.
func Unmarshal(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}

// WrapTag24 returns the encoding of #6.24(bstr .cbor content).
func WrapTag24(content []byte) ([]byte, error) {
	if content == nil {
		content = []byte{}
	}
	return encMode.Marshal(cbor.Tag{Number: TagEncodedCBOR, Content: content})
}

// UnwrapTag24 returns the embedded bytes of #6.24(bstr).
func UnwrapTag24(data []byte) ([]byte, error) {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tagged data: %w", err)
	}
	if tag.Number != TagEncodedCBOR {
		return nil, fmt.Errorf("unexpected tag number: %d", tag.Number)
	}
	var content []byte
	if err := decMode.Unmarshal(tag.Content, &content); err != nil {
		return nil, fmt.Errorf("unexpected tag 24 content: %w", err)
	}
	return content, nil
}

// TaggedCBOR is an embedded CBOR data item carried as #6.24(bstr).
// The value holds the inner encoding; the tag is added on marshal.
type TaggedCBOR []byte

func (t TaggedCBOR) MarshalCBOR() ([]byte, error) {
	return WrapTag24(t)
}

func (t *TaggedCBOR) UnmarshalCBOR(data []byte) error {
	content, err := UnwrapTag24(data)
	if err != nil {
		return err
	}
	*t = content
	return nil
}

// Tagged returns the full #6.24 encoding.
func (t TaggedCBOR) Tagged() ([]byte, error) {
	return WrapTag24(t)
}
