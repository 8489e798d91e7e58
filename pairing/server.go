package pairing

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"tvremote/network"
)

// ServerOptions configures the television side of pairing.
type ServerOptions struct {
	Certificate    tls.Certificate
	ServerName     string
	ServiceName    string
	Codec          network.Codec
	MessageTimeout time.Duration
	SecretTimeout  time.Duration

	// ShowSecret displays the code the user must type on the remote.
	ShowSecret func(code string)
	// OnPaired receives the client certificate after a successful exchange.
	OnPaired func(clientCert *x509.Certificate, clientName string)
	// OnFailed receives the reason a session ended without pairing.
	OnFailed func(err error)
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.ServiceName == "" {
		o.ServiceName = DefaultServiceName
	}
	if o.Codec == nil {
		o.Codec = network.JSON
	}
	if o.MessageTimeout <= 0 {
		o.MessageTimeout = DefaultMessageTimeout
	}
	if o.SecretTimeout <= 0 {
		o.SecretTimeout = DefaultSecretTimeout
	}
	return o
}

// Server answers pairing requests on behalf of a television.
type Server struct {
	opts     ServerOptions
	listener *network.Server
	cert     *x509.Certificate
}

// Listen starts a pairing server on address.
func Listen(address string, options ServerOptions) (*Server, error) {
	opts := options.withDefaults()
	cert, err := leafOf(opts.Certificate)
	if err != nil {
		return nil, err
	}

	server := &Server{opts: opts, cert: cert}
	listener, err := network.Listen(address, network.ServerOptions{
		TLSConfig: network.ServerConfig(opts.Certificate, nil),
	}, server.serve)
	if err != nil {
		return nil, err
	}
	server.listener = listener
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops the server and aborts sessions in progress.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) serve(ctx context.Context, conn *tls.Conn) {
	logger := log.With().Str("component", "pairing-server").Str("remote", remoteAddr(conn)).Logger()

	clientCert, clientName, err := s.handle(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("pairing session ended without pairing")
		if s.opts.OnFailed != nil {
			s.opts.OnFailed(err)
		}
		return
	}

	logger.Info().Str("client", clientName).Msg("paired with remote")
	if s.opts.OnPaired != nil {
		s.opts.OnPaired(clientCert, clientName)
	}
}

func (s *Server) handle(conn *tls.Conn) (*x509.Certificate, string, error) {
	clientCert, err := network.PeerCertificate(conn)
	if err != nil {
		return nil, "", err
	}

	request, err := s.read(conn, TypePairingRequest, s.opts.MessageTimeout)
	if err != nil {
		return nil, "", err
	}
	if request.ServiceName != s.opts.ServiceName {
		_ = s.write(conn, errorMessage(TypePairingRequestAck, StatusGenericError))
		return nil, "", fmt.Errorf("pairing: unknown service %q", request.ServiceName)
	}
	ack := newMessage(TypePairingRequestAck)
	ack.ServerName = s.opts.ServerName
	if err := s.write(conn, ack); err != nil {
		return nil, "", err
	}

	if _, err := s.read(conn, TypeOptions, s.opts.MessageTimeout); err != nil {
		return nil, "", err
	}
	options := newMessage(TypeOptions)
	options.InputEncodings = []Encoding{DefaultEncoding()}
	options.OutputEncodings = []Encoding{DefaultEncoding()}
	options.PreferredRole = RoleDisplay
	if err := s.write(conn, options); err != nil {
		return nil, "", err
	}

	configuration, err := s.read(conn, TypeConfiguration, s.opts.MessageTimeout)
	if err != nil {
		return nil, "", err
	}
	if configuration.Encoding == nil || !configuration.Encoding.valid() ||
		*configuration.Encoding != DefaultEncoding() || configuration.ClientRole != RoleInput {
		_ = s.write(conn, errorMessage(TypeConfigurationAck, StatusBadConfiguration))
		return nil, "", &StatusError{Type: TypeConfiguration, Status: StatusBadConfiguration}
	}
	encoding := *configuration.Encoding
	if err := s.write(conn, newMessage(TypeConfigurationAck)); err != nil {
		return nil, "", err
	}

	nonce := make([]byte, encoding.nonceBytes())
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", fmt.Errorf("generate pairing nonce: %w", err)
	}
	gamma, err := computeGamma(clientCert, s.cert, nonce)
	if err != nil {
		return nil, "", err
	}
	if s.opts.ShowSecret != nil {
		s.opts.ShowSecret(displayCode(encoding, gamma, nonce))
	}

	secret, err := s.read(conn, TypeSecret, s.opts.SecretTimeout)
	if err != nil {
		return nil, "", err
	}
	if !gammaMatches(gamma, secret.Secret) {
		_ = s.write(conn, errorMessage(TypeSecretAck, StatusBadSecret))
		return nil, "", ErrSecretMismatch
	}

	secretAck := newMessage(TypeSecretAck)
	secretAck.Secret = gamma
	if err := s.write(conn, secretAck); err != nil {
		return nil, "", err
	}
	return clientCert, request.ClientName, nil
}

func (s *Server) read(conn net.Conn, msgType string, timeout time.Duration) (Message, error) {
	var msg Message
	if err := network.ReadMessage(conn, s.opts.Codec, timeout, &msg); err != nil {
		return Message{}, fmt.Errorf("read %s: %w", msgType, err)
	}
	if err := expect(msg, msgType); err != nil {
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			_ = s.write(conn, errorMessage(msgType, StatusGenericError))
		}
		return Message{}, err
	}
	return msg, nil
}

func (s *Server) write(conn net.Conn, msg Message) error {
	if err := network.WriteMessage(conn, s.opts.Codec, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}
