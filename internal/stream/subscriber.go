package stream

import (
	"bytes"
	"sync"
)

// subscriberBuffer bounds how many rendered frames a single connection may
// lag behind before new frames are dropped for it.
const subscriberBuffer = 32

// Subscriber is one live SSE connection of one user. The handler owns the
// read side (Frames); the hub owns the write side.
type Subscriber struct {
	userID string
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func NewSubscriber(userID string) *Subscriber {
	return &Subscriber{
		userID: userID,
		frames: make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}
}

func (s *Subscriber) UserID() string { return s.userID }

// Frames is the channel of pre-rendered SSE frames to write to the wire.
func (s *Subscriber) Frames() <-chan []byte { return s.frames }

// Done is closed when the hub detaches the subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Close is idempotent and safe from either side.
func (s *Subscriber) Close() {
	s.once.Do(func() { close(s.done) })
}

// offer is a non-blocking send; false means the buffer is full or the
// subscriber is already closed.
func (s *Subscriber) offer(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// Frame renders a single SSE frame. Multi-line data is split onto one
// "data:" line per line, per the SSE grammar.
func Frame(event string, data []byte) []byte {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Heartbeat is the comment frame written on idle connections so proxies do
// not reap them.
var Heartbeat = []byte(": keepalive\n\n")
