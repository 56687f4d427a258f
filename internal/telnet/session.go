package telnet

import (
	"net"
	"sync"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/interpreter"
	"github.com/google/uuid"
)

// writeTimeout bounds each write so a client that stops reading cannot stall
// the sampling sink that broadcasts to every session.
const writeTimeout = 5 * time.Second

type session struct {
	id      uuid.UUID
	conn    net.Conn
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newSession(conn net.Conn, timeout time.Duration) *session {
	return &session{id: uuid.New(), conn: conn, timeout: timeout}
}

func (s *session) ID() string {
	return s.id.String()
}

func (s *session) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	_, err := s.conn.Write([]byte(line + interpreter.LineEnding))
	return err
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
