package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Handler serves one accepted connection after its TLS handshake completes.
// The server closes conn when Handler returns.
type Handler func(ctx context.Context, conn *tls.Conn)

// ServerOptions controls a Server.
type ServerOptions struct {
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
	// OnError receives accept and handshake failures. When nil they are logged.
	OnError func(err error)
}

// Server accepts inbound TCP sessions and upgrades them to TLS.
type Server struct {
	listener net.Listener
	options  ServerOptions
	handler  Handler

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// Listen starts a TCP listener and TLS accept loop.
func Listen(address string, options ServerOptions, handler Handler) (*Server, error) {
	if options.TLSConfig == nil {
		return nil, errors.New("network: server requires a TLS config")
	}
	if handler == nil {
		return nil, errors.New("network: server requires a handler")
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = DefaultDialTimeout
	}
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		listener: listener,
		options:  options,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the listening TCP port.
func (s *Server) Port() int {
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

// Close stops accepting, closes open sessions and waits for handlers.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.cancel()
		closeErr = s.listener.Close()

		s.connsMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connsMu.Unlock()

		s.wg.Wait()
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		s.track(conn, true)
		s.wg.Add(1)
		go s.handleInboundConn(conn)
	}
}

func (s *Server) handleInboundConn(raw net.Conn) {
	defer s.wg.Done()
	defer s.track(raw, false)

	conn := tls.Server(raw, s.options.TLSConfig)
	defer func() {
		_ = conn.Close()
	}()

	handshakeCtx, cancel := context.WithTimeout(s.ctx, s.options.HandshakeTimeout)
	err := conn.HandshakeContext(handshakeCtx)
	cancel()
	if err != nil {
		s.reportError(fmt.Errorf("tls handshake with %s: %w", raw.RemoteAddr(), err))
		return
	}

	s.handler(s.ctx, conn)
}

func (s *Server) track(conn net.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		if s.ctx.Err() != nil {
			_ = conn.Close()
		}
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) reportError(err error) {
	if err == nil {
		return
	}

	// Accept loop shutdown produces expected net.ErrClosed errors.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	if s.options.OnError != nil {
		s.options.OnError(err)
		return
	}
	log.Warn().Err(err).Str("component", "network-server").Str("address", s.listener.Addr().String()).Msg("inbound connection failed")
}
