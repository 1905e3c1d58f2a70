package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

const (
	defaultSendBuffer = 64
	maxSuppressedKeys = 256
)

var (
	ErrSessionClosed = errors.New("realtime: session closed")
	ErrBackpressure  = errors.New("realtime: session send buffer full")
)

// Session is one live connection of a user. Outbound frames are queued on a
// bounded channel drained by the transport's write loop. The channel is
// never closed; writers watch Done instead.
type Session struct {
	ID     string
	UserID string

	send chan []byte
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	suppressed map[string]struct{}
}

func newSession(userID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Outbound yields frames queued for this session.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close marks the session closed. Queued frames are abandoned.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// enqueue queues payload without blocking. A slow consumer whose buffer is
// full gets closed so it recovers through history instead of stalling fan-out.
func (s *Session) enqueue(payload []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.Close()
		return ErrBackpressure
	}
}

// Suppress records an idempotency key the client already rendered
// optimistically. The next message.created carrying it is not sent here.
func (s *Session) Suppress(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppressed == nil || len(s.suppressed) >= maxSuppressedKeys {
		s.suppressed = make(map[string]struct{})
	}
	s.suppressed[key] = struct{}{}
}

func (s *Session) consumeSuppressed(key string) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.suppressed[key]; ok {
		delete(s.suppressed, key)
		return true
	}
	return false
}
