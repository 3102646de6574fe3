package cborutil

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTag24(t *testing.T) {
	inner, err := Marshal(map[string]int{"a": 1})
	require.NoError(t, err)

	wrapped, err := WrapTag24(inner)
	require.NoError(t, err)
	// 0xd8 0x18 is tag 24
	assert.Equal(t, []byte{0xd8, 0x18}, wrapped[:2])

	got, err := UnwrapTag24(wrapped)
	require.NoError(t, err)
	assert.Equal(t, inner, got)
}

func TestUnwrapTag24WrongTag(t *testing.T) {
	b, err := cbor.Marshal(cbor.Tag{Number: 25, Content: []byte{0x01}})
	require.NoError(t, err)

	_, err = UnwrapTag24(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected tag number")
}

func TestTaggedCBORField(t *testing.T) {
	type wrapper struct {
		Item TaggedCBOR `cbor:"item"`
	}
	in := wrapper{Item: TaggedCBOR{0xa0}}

	b, err := Marshal(in)
	require.NoError(t, err)

	var out wrapper
	require.NoError(t, Unmarshal(b, &out))
	assert.Equal(t, in.Item, out.Item)
}

func TestMarshalDeterministic(t *testing.T) {
	m := map[string]interface{}{"z": 1, "a": 2, "m": []byte{1}}
	first, err := Marshal(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMarshalTimeIsTdate(t *testing.T) {
	b, err := Marshal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	// tag 0 followed by a text string
	assert.Equal(t, byte(0xc0), b[0])

	var got time.Time
	require.NoError(t, Unmarshal(b, &got))
	assert.True(t, got.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestUnmarshalRejectsDuplicateKeys(t *testing.T) {
	// {"a": 1, "a": 2}
	data := []byte{0xa2, 0x61, 0x61, 0x01, 0x61, 0x61, 0x02}
	var m map[string]int
	require.Error(t, Unmarshal(data, &m))
}
