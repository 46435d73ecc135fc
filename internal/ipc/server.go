package ipc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StatusFunc supplies the daemon's current status.
type StatusFunc func() Status

// Server answers control requests on a Unix socket.
type Server struct {
	socketPath string
	status     StatusFunc
	log        *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	done     chan struct{}
	once     sync.Once
}

// NewServer creates a control server. status must be non-nil.
func NewServer(socketPath string, status StatusFunc, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		status:     status,
		log:        log,
		done:       make(chan struct{}),
	}
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	// Remove a stale socket from a previous run.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("control socket listening", "path", s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			return
		}

		var resp Response
		switch req.Type {
		case TypePing:
			resp = Response{Type: TypePing}
		case TypeStatus:
			st := s.status()
			resp = Response{Type: TypeStatus, Status: &st}
		default:
			resp = Response{Type: req.Type, Error: fmt.Sprintf("unknown request type %q", req.Type)}
		}

		if err := writeFrame(conn, resp); err != nil {
			s.log.Debug("write response failed", "err", err)
			return
		}
	}
}

// Close stops the server and removes the socket.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
	return err
}
