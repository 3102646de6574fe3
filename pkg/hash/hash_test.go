package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	msg := []byte("mdoc")
	s256 := sha256.Sum256(msg)
	s384 := sha512.Sum384(msg)
	s512 := sha512.Sum512(msg)

	tests := []struct {
		alg     string
		want    []byte
		wantErr bool
	}{
		{alg: SHA256, want: s256[:]},
		{alg: SHA384, want: s384[:]},
		{alg: SHA512, want: s512[:]},
		{alg: "MD5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			got, err := Digest(msg, tt.alg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported digest algorithm")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSHA256Sum(t *testing.T) {
	want := sha256.Sum256([]byte("reader"))
	assert.Equal(t, want[:], SHA256Sum([]byte("reader")))
}
