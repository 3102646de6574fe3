package securechannel

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokukuma/mdoc-proximity/engagement"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
)

type session struct {
	readerPriv *ecdh.PrivateKey
	devicePriv *ecdh.PrivateKey
	transcript *st.SessionTranscript
}

func newSession(t *testing.T) *session {
	t.Helper()
	readerPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	devicePriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	de, err := engagement.CreateDeviceEngagement(devicePriv.PublicKey())
	require.NoError(t, err)
	re, err := engagement.CreateReaderEngagement(readerPriv.PublicKey(), nil)
	require.NoError(t, err)
	transcript, err := st.QRHandover{Device: de, Reader: re}.SessionTranscript()
	require.NoError(t, err)

	return &session{readerPriv: readerPriv, devicePriv: devicePriv, transcript: transcript}
}

func (s *session) channels(t *testing.T) (*SecureChannel, *SecureChannel, *SessionKeys) {
	t.Helper()
	readerKeys, err := DeriveSessionKeys(s.readerPriv, s.devicePriv.PublicKey(), s.transcript)
	require.NoError(t, err)
	deviceKeys, err := DeriveSessionKeys(s.devicePriv, s.readerPriv.PublicKey(), s.transcript)
	require.NoError(t, err)
	return New(RoleReader, readerKeys), New(RoleDevice, deviceKeys), readerKeys
}

func TestDeriveSessionKeys(t *testing.T) {
	s := newSession(t)

	readerKeys, err := DeriveSessionKeys(s.readerPriv, s.devicePriv.PublicKey(), s.transcript)
	require.NoError(t, err)
	deviceKeys, err := DeriveSessionKeys(s.devicePriv, s.readerPriv.PublicKey(), s.transcript)
	require.NoError(t, err)

	assert.Len(t, readerKeys.SKReader, 32)
	assert.Len(t, readerKeys.SKDevice, 32)
	assert.Equal(t, readerKeys.SKReader, deviceKeys.SKReader)
	assert.Equal(t, readerKeys.SKDevice, deviceKeys.SKDevice)
	assert.NotEqual(t, readerKeys.SKReader, readerKeys.SKDevice)

	other := newSession(t)
	otherKeys, err := DeriveSessionKeys(s.readerPriv, s.devicePriv.PublicKey(), other.transcript)
	require.NoError(t, err)
	assert.NotEqual(t, readerKeys.SKReader, otherKeys.SKReader)

	_, err = DeriveSessionKeys(nil, s.devicePriv.PublicKey(), s.transcript)
	assert.ErrorIs(t, err, ErrInvalidKey)

	p384, err := ecdh.P384().GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = DeriveSessionKeys(s.readerPriv, p384.PublicKey(), s.transcript)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEncryptDecrypt(t *testing.T) {
	reader, device, _ := newSession(t).channels(t)

	for i := 0; i < 3; i++ {
		request := []byte("device request")
		ct, err := reader.EncryptMessage(request)
		require.NoError(t, err)
		pt, err := device.DecryptMessage(ct)
		require.NoError(t, err)
		assert.Equal(t, request, pt)

		response := []byte("device response")
		ct, err = device.EncryptMessage(response)
		require.NoError(t, err)
		pt, err = reader.DecryptMessage(ct)
		require.NoError(t, err)
		assert.Equal(t, response, pt)
	}
}

func TestCounterAdvances(t *testing.T) {
	reader, _, _ := newSession(t).channels(t)

	first, err := reader.Encrypt([]byte("same"), ReaderToDevice)
	require.NoError(t, err)
	second, err := reader.Encrypt([]byte("same"), ReaderToDevice)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptFailureTerminates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ct []byte) ([]byte, Direction)
	}{
		{
			name: "wrong direction",
			mutate: func(ct []byte) ([]byte, Direction) {
				return ct, DeviceToReader
			},
		},
		{
			name: "tampered",
			mutate: func(ct []byte) ([]byte, Direction) {
				tampered := bytes.Clone(ct)
				tampered[0] ^= 0x01
				return tampered, ReaderToDevice
			},
		},
		{
			name: "truncated",
			mutate: func(ct []byte) ([]byte, Direction) {
				return ct[:4], ReaderToDevice
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, device, _ := newSession(t).channels(t)

			ct, err := reader.Encrypt([]byte("payload"), ReaderToDevice)
			require.NoError(t, err)

			ct, dir := tt.mutate(ct)
			_, err = device.Decrypt(ct, dir)
			require.Error(t, err)
			assert.True(t, IsDecryptionError(err))
			assert.True(t, device.Terminated())

			_, err = device.EncryptMessage([]byte("more"))
			assert.ErrorIs(t, err, ErrSessionTerminated)
		})
	}
}

func TestOutOfOrderMessageFails(t *testing.T) {
	reader, device, _ := newSession(t).channels(t)

	_, err := reader.EncryptMessage([]byte("first"))
	require.NoError(t, err)
	second, err := reader.EncryptMessage([]byte("second"))
	require.NoError(t, err)

	_, err = device.DecryptMessage(second)
	assert.True(t, IsDecryptionError(err))
}

func TestResetMessageCounter(t *testing.T) {
	reader, _, keys := newSession(t).channels(t)

	first, err := reader.Encrypt([]byte("payload"), ReaderToDevice)
	require.NoError(t, err)
	_, err = reader.Encrypt([]byte("payload"), ReaderToDevice)
	require.NoError(t, err)

	reader.ResetMessageCounter()
	_, err = reader.Encrypt([]byte("payload"), ReaderToDevice)
	assert.ErrorIs(t, err, ErrNotEstablished)

	require.NoError(t, reader.Rekey(keys))
	again, err := reader.Encrypt([]byte("payload"), ReaderToDevice)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestResetIsPerChannel(t *testing.T) {
	s := newSession(t)
	a, _, keys := s.channels(t)
	b := New(RoleReader, keys)

	_, err := a.Encrypt([]byte("x"), ReaderToDevice)
	require.NoError(t, err)
	_, err = b.Encrypt([]byte("x"), ReaderToDevice)
	require.NoError(t, err)

	a.ResetMessageCounter()

	second, err := b.Encrypt([]byte("x"), ReaderToDevice)
	require.NoError(t, err)

	fresh := New(RoleReader, keys)
	_, err = fresh.Encrypt([]byte("x"), ReaderToDevice)
	require.NoError(t, err)
	want, err := fresh.Encrypt([]byte("x"), ReaderToDevice)
	require.NoError(t, err)
	assert.Equal(t, want, second)
}

func TestCounterExhausted(t *testing.T) {
	reader, _, _ := newSession(t).channels(t)
	reader.counters[ReaderToDevice] = math.MaxUint32

	_, err := reader.Encrypt([]byte("x"), ReaderToDevice)
	assert.ErrorIs(t, err, ErrCounterExhausted)
}

func TestClose(t *testing.T) {
	reader, _, keys := newSession(t).channels(t)
	reader.Close()

	_, err := reader.EncryptMessage([]byte("x"))
	assert.ErrorIs(t, err, ErrSessionTerminated)
	assert.ErrorIs(t, reader.Rekey(keys), ErrSessionTerminated)
	assert.Nil(t, reader.keys)
}

func TestNewCopiesKeys(t *testing.T) {
	_, _, keys := newSession(t).channels(t)
	c := New(RoleReader, keys)
	keys.Wipe()

	assert.NotEqual(t, make([]byte, 32), c.keys.SKReader)
}

func TestConcurrentEncrypt(t *testing.T) {
	reader, device, _ := newSession(t).channels(t)

	const n = 32
	var wg sync.WaitGroup
	results := make(chan []byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct, err := reader.Encrypt([]byte("payload"), ReaderToDevice)
			assert.NoError(t, err)
			results <- ct
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for ct := range results {
		assert.False(t, seen[string(ct)])
		seen[string(ct)] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, uint32(n), reader.counters[ReaderToDevice])
	assert.Equal(t, uint32(0), device.counters[ReaderToDevice])
}
