package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const pipeQueueSize = 16

type pipe struct {
	once sync.Once
	done chan struct{}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

type pipeEnd struct {
	pipe *pipe
	peer *pipeEnd

	mu      sync.Mutex
	service *uuid.UUID
	inbox   map[uuid.UUID]chan []byte
}

// Pipe returns two connected in-memory transports. Closing either end
// closes both.
func Pipe() (Transport, Transport) {
	p := &pipe{done: make(chan struct{})}
	a := &pipeEnd{pipe: p, inbox: map[uuid.UUID]chan []byte{}}
	b := &pipeEnd{pipe: p, inbox: map[uuid.UUID]chan []byte{}}
	a.peer, b.peer = b, a
	return a, b
}

func (e *pipeEnd) Init(ctx context.Context, serviceID uuid.UUID) error {
	select {
	case <-e.pipe.done:
		return ErrClosed
	default:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.service = &serviceID
	return nil
}

func (e *pipeEnd) check(serviceID, characteristicID uuid.UUID) error {
	if !KnownCharacteristic(characteristicID) {
		return ErrUnknownCharacteristic
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.service == nil {
		return ErrNotInitialized
	}
	if *e.service != serviceID {
		return ErrUnknownService
	}
	return nil
}

func (e *pipeEnd) queue(characteristicID uuid.UUID) chan []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.inbox[characteristicID]
	if !ok {
		q = make(chan []byte, pipeQueueSize)
		e.inbox[characteristicID] = q
	}
	return q
}

func (e *pipeEnd) Write(ctx context.Context, serviceID, characteristicID uuid.UUID, data []byte) error {
	if err := e.check(serviceID, characteristicID); err != nil {
		return err
	}
	select {
	case <-e.pipe.done:
		return ErrClosed
	default:
	}
	msg := append([]byte(nil), data...)
	select {
	case <-e.pipe.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case e.peer.queue(characteristicID) <- msg:
		return nil
	}
}

func (e *pipeEnd) Read(ctx context.Context, serviceID, characteristicID uuid.UUID) ([]byte, error) {
	if err := e.check(serviceID, characteristicID); err != nil {
		return nil, err
	}
	q := e.queue(characteristicID)
	select {
	case msg := <-q:
		return msg, nil
	default:
	}
	select {
	case msg := <-q:
		return msg, nil
	case <-e.pipe.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *pipeEnd) Close() error {
	e.pipe.close()
	return nil
}
