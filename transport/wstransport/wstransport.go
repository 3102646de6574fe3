// Package wstransport carries a proximity session over a websocket. Each
// message is split into chunks framed as
//
//	flag (1 byte) || characteristic UUID (16 bytes) || chunk
//
// where flag is 0x01 when more chunks follow and 0x00 on the last chunk,
// mirroring the BLE characteristic write format of ISO/IEC 18013-5.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kokukuma/mdoc-proximity/transport"
)

const (
	DefaultChunkSize  = 512
	DefaultMaxMessage = 4 << 20

	flagLast byte = 0x00
	flagMore byte = 0x01

	headerSize   = 1 + 16
	closeTimeout = time.Second
	queueSize    = 16
)

var ErrMessageTooLarge = errors.New("message too large")

type Option func(*Conn)

func WithChunkSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func WithMaxMessageSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.maxMessage = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// Conn implements transport.Transport over a websocket connection.
type Conn struct {
	ws         *websocket.Conn
	chunkSize  int
	maxMessage int
	logger     *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	service *uuid.UUID
	inbox   map[uuid.UUID]chan []byte
	partial map[uuid.UUID][]byte

	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Transport = (*Conn)(nil)

// New wraps ws and starts reading from it.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:         ws,
		chunkSize:  DefaultChunkSize,
		maxMessage: DefaultMaxMessage,
		logger:     zap.NewNop(),
		inbox:      map[uuid.UUID]chan []byte{},
		partial:    map[uuid.UUID][]byte{},
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	ws.SetReadLimit(int64(c.chunkSize + headerSize))
	go c.readLoop()
	return c
}

func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return New(ws, opts...), nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func Upgrade(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade: %w", err)
	}
	return New(ws, opts...), nil
}

func (c *Conn) Init(ctx context.Context, serviceID uuid.UUID) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.service = &serviceID
	return nil
}

func (c *Conn) check(serviceID, characteristicID uuid.UUID) error {
	if !transport.KnownCharacteristic(characteristicID) {
		return transport.ErrUnknownCharacteristic
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.service == nil {
		return transport.ErrNotInitialized
	}
	if *c.service != serviceID {
		return transport.ErrUnknownService
	}
	return nil
}

func (c *Conn) queue(characteristicID uuid.UUID) chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.inbox[characteristicID]
	if !ok {
		q = make(chan []byte, queueSize)
		c.inbox[characteristicID] = q
	}
	return q
}

func (c *Conn) Write(ctx context.Context, serviceID, characteristicID uuid.UUID, data []byte) error {
	if err := c.check(serviceID, characteristicID); err != nil {
		return err
	}
	if len(data) > c.maxMessage {
		return ErrMessageTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	for offset := 0; ; offset += c.chunkSize {
		end := offset + c.chunkSize
		flag := flagMore
		if end >= len(data) {
			end = len(data)
			flag = flagLast
		}
		frame := make([]byte, 0, headerSize+end-offset)
		frame = append(frame, flag)
		frame = append(frame, characteristicID[:]...)
		frame = append(frame, data[offset:end]...)
		if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			select {
			case <-c.done:
				return transport.ErrClosed
			default:
			}
			return fmt.Errorf("failed to write frame: %w", err)
		}
		if flag == flagLast {
			return nil
		}
	}
}

func (c *Conn) Read(ctx context.Context, serviceID, characteristicID uuid.UUID) ([]byte, error) {
	if err := c.check(serviceID, characteristicID); err != nil {
		return nil, err
	}
	q := c.queue(characteristicID)
	select {
	case msg := <-q:
		return msg, nil
	default:
	}
	select {
	case msg := <-q:
		return msg, nil
	case <-c.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeTimeout))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer c.Close()
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read stopped", zap.Error(err))
			}
			return
		}
		if err := c.handleFrame(frame); err != nil {
			c.logger.Warn("dropping connection", zap.Error(err))
			return
		}
	}
}

func (c *Conn) handleFrame(frame []byte) error {
	if len(frame) < headerSize {
		return fmt.Errorf("short frame: %d bytes", len(frame))
	}
	flag := frame[0]
	if flag != flagLast && flag != flagMore {
		return fmt.Errorf("invalid continuation flag: %#x", flag)
	}
	characteristicID, err := uuid.FromBytes(frame[1:headerSize])
	if err != nil {
		return fmt.Errorf("invalid characteristic: %w", err)
	}
	if !transport.KnownCharacteristic(characteristicID) {
		return fmt.Errorf("%w: %s", transport.ErrUnknownCharacteristic, characteristicID)
	}

	c.mu.Lock()
	buf := append(c.partial[characteristicID], frame[headerSize:]...)
	if len(buf) > c.maxMessage {
		c.mu.Unlock()
		return ErrMessageTooLarge
	}
	if flag == flagMore {
		c.partial[characteristicID] = buf
		c.mu.Unlock()
		return nil
	}
	delete(c.partial, characteristicID)
	c.mu.Unlock()

	select {
	case c.queue(characteristicID) <- buf:
		return nil
	case <-c.done:
		return transport.ErrClosed
	}
}
