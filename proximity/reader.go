package proximity

import (
	"context"
	"crypto/ecdh"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/veraison/go-cose"
	"go.uber.org/zap"

	"github.com/kokukuma/mdoc-proximity/engagement"
	"github.com/kokukuma/mdoc-proximity/mdoc"
	"github.com/kokukuma/mdoc-proximity/securechannel"
	st "github.com/kokukuma/mdoc-proximity/session_transcript"
	"github.com/kokukuma/mdoc-proximity/transport"
)

type ReaderOption func(*Reader)

// WithVerifier sets the device response verifier. Without it the reader has
// no trusted issuers and rejects every response.
func WithVerifier(v *mdoc.Verifier) ReaderOption {
	return func(r *Reader) {
		r.verifier = v
	}
}

// WithReaderAuth signs every doc request with signer. chain is the reader
// certificate chain, leaf first.
func WithReaderAuth(signer cose.Signer, chain []*x509.Certificate) ReaderOption {
	return func(r *Reader) {
		r.signer = signer
		r.chain = chain
	}
}

func WithReaderLogger(logger *zap.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

// Result is a verified device response.
type Result struct {
	Response *mdoc.DeviceResponse
	Elements map[mdoc.DocType]map[mdoc.NameSpace]map[mdoc.ElementIdentifier]mdoc.ElementValue
}

// Reader is the verifier side of a proximity session. A Reader runs one
// session at a time; Renew starts a fresh one.
type Reader struct {
	verifier *mdoc.Verifier
	signer   cose.Signer
	chain    []*x509.Certificate
	logger   *zap.Logger

	mu          sync.Mutex
	priv        *ecdh.PrivateKey
	engagement  *engagement.ReaderEngagement
	channel     *securechannel.SecureChannel
	transport   transport.Transport
	service     uuid.UUID
	transcript  *st.SessionTranscript
	established bool
	spent       bool
}

func NewReader(opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.verifier == nil {
		r.verifier = mdoc.NewVerifier(nil, mdoc.WithLogger(r.logger))
	}
	r.channel = securechannel.New(securechannel.RoleReader, nil, securechannel.WithLogger(r.logger))
	if err := r.renew(); err != nil {
		return nil, err
	}
	return r, nil
}

// Renew discards the current session and creates a new engagement with a
// fresh ephemeral key.
func (r *Reader) Renew() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renew()
}

func (r *Reader) renew() error {
	priv, err := generateKey()
	if err != nil {
		return err
	}
	re, err := engagement.CreateReaderEngagement(priv.PublicKey(), r.channel)
	if err != nil {
		return fmt.Errorf("failed to create reader engagement: %w", err)
	}
	service, err := serviceID(re.RetrievalMethods())
	if err != nil {
		return err
	}
	r.priv = priv
	r.engagement = re
	r.service = service
	r.transport = nil
	r.transcript = nil
	r.established = false
	r.spent = false
	return nil
}

// Engagement returns the encoded reader engagement to present to the device.
func (r *Reader) Engagement() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engagement.Encode()
}

func (r *Reader) ServiceID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.service
}

// SessionTranscript returns the transcript of the accepted session, or nil.
func (r *Reader) SessionTranscript() *st.SessionTranscript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript
}

// Accept waits for the device engagement on t and derives the session keys.
func (r *Reader) Accept(ctx context.Context, t transport.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.spent {
		return ErrSessionEnded
	}
	if err := t.Init(ctx, r.service); err != nil {
		return fmt.Errorf("failed to init transport: %w", err)
	}
	state, err := t.Read(ctx, r.service, transport.CharacteristicState)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(state) != 1 || state[0] != transport.StateStart {
		return fmt.Errorf("%w: %x", ErrUnexpectedState, state)
	}

	b, err := t.Read(ctx, r.service, transport.CharacteristicClient2Server)
	if err != nil {
		return fmt.Errorf("failed to read device engagement: %w", err)
	}
	de, err := engagement.ParseDeviceEngagement(b)
	if err != nil {
		return fmt.Errorf("failed to parse device engagement: %w", err)
	}

	transcript, err := st.QRHandover{Device: de, Reader: r.engagement}.SessionTranscript()
	if err != nil {
		return err
	}
	keys, err := securechannel.DeriveSessionKeys(r.priv, de.PublicKey(), transcript)
	if err != nil {
		return err
	}
	defer keys.Wipe()
	if err := r.channel.Rekey(keys); err != nil {
		return err
	}

	r.transport = t
	r.transcript = transcript
	r.logger.Debug("device engagement accepted", zap.Stringer("service", r.service))
	return nil
}

// Request sends req to the device and returns the verified response. Any
// failure tears the session down; call Renew before engaging again.
func (r *Reader) Request(ctx context.Context, req *mdoc.DeviceRequest) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport == nil || r.transcript == nil {
		return nil, ErrNotStarted
	}

	if r.signer != nil {
		for i := range req.DocRequests {
			if err := mdoc.NewReaderAuth(r.signer, r.chain, r.transcript, &req.DocRequests[i]); err != nil {
				return nil, fmt.Errorf("failed to sign doc request: %w", err)
			}
		}
	}
	encoded, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode device request: %w", err)
	}
	ciphertext, err := r.channel.EncryptMessage(encoded)
	if err != nil {
		return nil, r.fail(ctx, securechannel.StatusSessionEncryptionError, err)
	}

	var msg []byte
	if r.established {
		msg, err = securechannel.NewSessionData(ciphertext).Encode()
	} else {
		var se *securechannel.SessionEstablishment
		se, err = securechannel.NewSessionEstablishment(r.priv.PublicKey(), ciphertext)
		if err == nil {
			msg, err = se.Encode()
		}
	}
	if err != nil {
		return nil, r.fail(ctx, securechannel.StatusSessionTermination, err)
	}
	if err := r.transport.Write(ctx, r.service, transport.CharacteristicServer2Client, msg); err != nil {
		return nil, r.fail(ctx, securechannel.StatusSessionTermination, fmt.Errorf("failed to send request: %w", err))
	}
	r.established = true

	resp, err := readSessionData(ctx, r.transport, r.service, transport.CharacteristicClient2Server)
	if err != nil {
		if IsStatusError(err) {
			r.teardown()
			return nil, err
		}
		return nil, r.fail(ctx, securechannel.StatusCBORDecodingError, err)
	}

	plaintext, err := r.channel.DecryptMessage(resp.Data)
	if err != nil {
		return nil, r.fail(ctx, securechannel.StatusSessionEncryptionError, err)
	}
	deviceResponse, err := mdoc.DecodeDeviceResponse(plaintext)
	if err != nil {
		return nil, r.fail(ctx, securechannel.StatusCBORDecodingError, err)
	}
	if err := r.verifier.VerifyDeviceResponse(deviceResponse, r.transcript); err != nil {
		return nil, r.fail(ctx, securechannel.StatusSessionTermination, err)
	}

	result := &Result{
		Response: deviceResponse,
		Elements: map[mdoc.DocType]map[mdoc.NameSpace]map[mdoc.ElementIdentifier]mdoc.ElementValue{},
	}
	for _, doc := range deviceResponse.Documents {
		elements, err := doc.IssuerSigned.Elements()
		if err != nil {
			return nil, r.fail(ctx, securechannel.StatusSessionTermination, err)
		}
		result.Elements[doc.DocType] = elements
	}
	r.logger.Debug("device response verified", zap.Int("documents", len(deviceResponse.Documents)))
	return result, nil
}

// Close ends the session with status 20 (session termination).
func (r *Reader) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport != nil {
		sendStatus(ctx, r.transport, r.service, transport.CharacteristicServer2Client, securechannel.StatusSessionTermination)
	}
	r.teardown()
	return nil
}

func (r *Reader) fail(ctx context.Context, status uint, err error) error {
	r.logger.Warn("terminating session", zap.Uint("status", status), zap.Error(err))
	sendStatus(ctx, r.transport, r.service, transport.CharacteristicServer2Client, status)
	r.teardown()
	return err
}

func (r *Reader) teardown() {
	r.channel.ResetMessageCounter()
	r.spent = true
	r.transport = nil
	r.transcript = nil
	r.established = false
}
