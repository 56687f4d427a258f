package telnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/interpreter"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tracker is told when sessions come and go.
type Tracker interface {
	SessionOpened()
	SessionClosed()
}

// Server accepts command sessions over TCP. Every session gets its own line
// buffer; command execution is serialized by the dispatcher.
type Server struct {
	addr       string
	dispatcher *interpreter.Dispatcher
	tracker    Tracker
	logger     *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

func NewServer(addr string, dispatcher *interpreter.Dispatcher, tracker Tracker, logger *zap.Logger) *Server {
	return &Server{
		addr:       addr,
		dispatcher: dispatcher,
		tracker:    tracker,
		logger:     logger,
		sessions:   make(map[uuid.UUID]*session),
	}
}

// Start binds the listener and accepts sessions until ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = lis
	s.logger.Info("Command server listening", zap.String("address", lis.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Error("Accept failed", zap.Error(err))
			continue
		}
		sess := newSession(conn, writeTimeout)
		s.add(sess)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.remove(sess)
			s.serve(ctx, sess)
		}()
	}
}

func (s *Server) serve(ctx context.Context, sess *session) {
	logger := s.logger.With(zap.String("session", sess.ID()), zap.String("remote", sess.conn.RemoteAddr().String()))
	logger.Info("Session opened")
	defer logger.Info("Session closed")

	conn := s.dispatcher.Attach(sess)
	buf := make([]byte, 512)
	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			if ferr := conn.Feed(ctx, buf[:n]); ferr != nil {
				if !errors.Is(ferr, interpreter.ErrSessionClosed) {
					logger.Warn("Session write failed", zap.Error(ferr))
				}
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) add(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	if s.tracker != nil {
		s.tracker.SessionOpened()
	}
}

func (s *Server) remove(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.Close()
	if s.tracker != nil {
		s.tracker.SessionClosed()
	}
}

func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Write streams a reading to every open session.
func (s *Server) Write(_ context.Context, r sampling.Reading) error {
	line := r.String()

	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	var errs []error
	for _, sess := range sessions {
		if err := sess.WriteLine(line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop closes the listener and every session and waits for them to finish.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()

	s.mu.RLock()
	for _, sess := range s.sessions {
		sess.Close()
	}
	s.mu.RUnlock()

	s.wg.Wait()
	return err
}
