package proximity

import (
	"context"
	"crypto/ecdh"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kokukuma/mdoc-proximity/engagement"
	"github.com/kokukuma/mdoc-proximity/mdoc"
	"github.com/kokukuma/mdoc-proximity/securechannel"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
	"github.com/kokukuma/mdoc-proximity/transport"
)

type DeviceOption func(*Device)

func WithDeviceLogger(logger *zap.Logger) DeviceOption {
	return func(d *Device) {
		d.logger = logger
	}
}

// Device is the holder side of a proximity session started from a scanned
// reader engagement.
type Device struct {
	logger *zap.Logger

	mu          sync.Mutex
	reader      *engagement.ReaderEngagement
	priv        *ecdh.PrivateKey
	engagement  *engagement.DeviceEngagement
	service     uuid.UUID
	transcript  *st.SessionTranscript
	channel     *securechannel.SecureChannel
	transport   transport.Transport
	established bool
}

func NewDevice(readerEngagement []byte, opts ...DeviceOption) (*Device, error) {
	d := &Device{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	re, err := engagement.ParseReaderEngagement(readerEngagement)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reader engagement: %w", err)
	}
	service, err := serviceID(re.RetrievalMethods())
	if err != nil {
		return nil, err
	}
	priv, err := generateKey()
	if err != nil {
		return nil, err
	}
	de, err := engagement.CreateDeviceEngagement(priv.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to create device engagement: %w", err)
	}

	transcript, err := st.QRHandover{Device: de, Reader: re}.SessionTranscript()
	if err != nil {
		return nil, err
	}
	keys, err := securechannel.DeriveSessionKeys(priv, re.PublicKey(), transcript)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe()

	d.reader = re
	d.priv = priv
	d.engagement = de
	d.service = service
	d.transcript = transcript
	d.channel = securechannel.New(securechannel.RoleDevice, keys, securechannel.WithLogger(d.logger))
	return d, nil
}

func (d *Device) SessionTranscript() *st.SessionTranscript {
	return d.transcript
}

// Start sends the device engagement to the reader on t.
func (d *Device) Start(ctx context.Context, t transport.Transport) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.channel.Terminated() {
		return ErrSessionEnded
	}
	if err := t.Init(ctx, d.service); err != nil {
		return fmt.Errorf("failed to init transport: %w", err)
	}
	if err := t.Write(ctx, d.service, transport.CharacteristicState, []byte{transport.StateStart}); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := t.Write(ctx, d.service, transport.CharacteristicClient2Server, d.engagement.Encode()); err != nil {
		return fmt.Errorf("failed to send device engagement: %w", err)
	}
	d.transport = t
	return nil
}

// WaitForRequest blocks until the reader sends a device request and returns
// it with the session transcript it is bound to.
func (d *Device) WaitForRequest(ctx context.Context) (*mdoc.DeviceRequest, *st.SessionTranscript, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport == nil {
		return nil, nil, ErrNotStarted
	}
	if d.channel.Terminated() {
		return nil, nil, ErrSessionEnded
	}

	var ciphertext []byte
	if d.established {
		msg, err := readSessionData(ctx, d.transport, d.service, transport.CharacteristicServer2Client)
		if err != nil {
			if IsStatusError(err) {
				d.channel.Close()
				return nil, nil, err
			}
			return nil, nil, d.fail(ctx, securechannel.StatusCBORDecodingError, err)
		}
		ciphertext = msg.Data
	} else {
		b, err := d.transport.Read(ctx, d.service, transport.CharacteristicServer2Client)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read session establishment: %w", err)
		}
		se, err := securechannel.DecodeSessionEstablishment(b)
		if err != nil {
			return nil, nil, d.fail(ctx, securechannel.StatusCBORDecodingError, err)
		}
		readerKey, err := se.ReaderKey()
		if err != nil {
			return nil, nil, d.fail(ctx, securechannel.StatusSessionEncryptionError, err)
		}
		if !readerKey.Equal(d.reader.PublicKey()) {
			return nil, nil, d.fail(ctx, securechannel.StatusSessionEncryptionError, ErrUnexpectedReaderKey)
		}
		ciphertext = se.Data
		d.established = true
	}

	plaintext, err := d.channel.DecryptMessage(ciphertext)
	if err != nil {
		return nil, nil, d.fail(ctx, securechannel.StatusSessionEncryptionError, err)
	}
	req, err := mdoc.DecodeDeviceRequest(plaintext)
	if err != nil {
		return nil, nil, d.fail(ctx, securechannel.StatusCBORDecodingError, err)
	}
	return req, d.transcript, nil
}

// Respond encrypts resp and sends it to the reader.
func (d *Device) Respond(ctx context.Context, resp *mdoc.DeviceResponse) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport == nil || !d.established {
		return ErrNotStarted
	}
	encoded, err := resp.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode device response: %w", err)
	}
	ciphertext, err := d.channel.EncryptMessage(encoded)
	if err != nil {
		return d.fail(ctx, securechannel.StatusSessionEncryptionError, err)
	}
	msg, err := securechannel.NewSessionData(ciphertext).Encode()
	if err != nil {
		return d.fail(ctx, securechannel.StatusSessionTermination, err)
	}
	if err := d.transport.Write(ctx, d.service, transport.CharacteristicClient2Server, msg); err != nil {
		return d.fail(ctx, securechannel.StatusSessionTermination, fmt.Errorf("failed to send response: %w", err))
	}
	return nil
}

// Close ends the session with status 20 and wipes the session keys.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport != nil && !d.channel.Terminated() {
		sendStatus(ctx, d.transport, d.service, transport.CharacteristicClient2Server, securechannel.StatusSessionTermination)
		_ = d.transport.Write(ctx, d.service, transport.CharacteristicState, []byte{transport.StateEnd})
	}
	d.channel.Close()
	return nil
}

func (d *Device) fail(ctx context.Context, status uint, err error) error {
	d.logger.Warn("terminating session", zap.Uint("status", status), zap.Error(err))
	sendStatus(ctx, d.transport, d.service, transport.CharacteristicClient2Server, status)
	d.channel.Close()
	return err
}
