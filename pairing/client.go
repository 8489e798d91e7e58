// Package pairing establishes trust between the remote and a television by
// having the user confirm a short code shown on the screen.
package pairing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"tvremote/models"
	"tvremote/network"
)

const (
	// DefaultSecretTimeout bounds how long the user has to enter the code.
	DefaultSecretTimeout = 60 * time.Second
	// DefaultMessageTimeout bounds each protocol read.
	DefaultMessageTimeout = 10 * time.Second
	// DefaultServiceName identifies the remote-control service during pairing.
	DefaultServiceName = "_anymote._tcp"
)

// Options configures one pairing attempt.
type Options struct {
	Certificate    tls.Certificate
	ClientName     string
	ServiceName    string
	Codec          network.Codec
	DialTimeout    time.Duration
	MessageTimeout time.Duration
	SecretTimeout  time.Duration
	// OnStateChange observes every transition, terminal states included.
	OnStateChange func(State)

	dial func(ctx context.Context, address string, opts network.DialOptions) (*tls.Conn, error)
}

func (o Options) withDefaults() Options {
	if o.ServiceName == "" {
		o.ServiceName = DefaultServiceName
	}
	if o.Codec == nil {
		o.Codec = network.JSON
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = network.DefaultDialTimeout
	}
	if o.MessageTimeout <= 0 {
		o.MessageTimeout = DefaultMessageTimeout
	}
	if o.SecretTimeout <= 0 {
		o.SecretTimeout = DefaultSecretTimeout
	}
	if o.dial == nil {
		o.dial = network.DialPairing
	}
	return o
}

// Session is one pairing attempt against one television.
type Session struct {
	device models.Device
	opts   Options
	prompt SecretPrompt

	state    State
	encoding Encoding

	conn       *tls.Conn
	localCert  *x509.Certificate
	serverCert *x509.Certificate
}

// NewSession prepares a pairing attempt. prompt is invoked once the code is on screen.
func NewSession(device models.Device, opts Options, prompt SecretPrompt) *Session {
	return &Session{
		device: device,
		opts:   opts.withDefaults(),
		prompt: prompt,
		state:  StateConnecting,
	}
}

// Pair runs a pairing attempt to completion and returns the television's certificate.
func Pair(ctx context.Context, device models.Device, opts Options, prompt SecretPrompt) (*x509.Certificate, error) {
	return NewSession(device, opts, prompt).Run(ctx)
}

// State returns the current state. Not safe for use concurrently with Run.
func (s *Session) State() State {
	return s.state
}

// Run executes the protocol. Cancelling ctx aborts any pending dial, read or
// secret wait and yields a ReasonCancelled failure.
func (s *Session) Run(ctx context.Context) (*x509.Certificate, error) {
	logger := log.With().Str("device", s.device.Name).Str("component", "pairing").Logger()

	cert, err := s.run(ctx)
	if err != nil {
		failure := s.toFailure(ctx, err)
		s.transition(failure.Reason.state())
		logger.Warn().Err(failure.Err).Str("reason", failure.Reason.String()).Msg("pairing failed")
		return nil, failure
	}

	s.transition(StateSuccess)
	logger.Info().Msg("pairing succeeded")
	return cert, nil
}

func (s *Session) run(ctx context.Context) (*x509.Certificate, error) {
	s.transition(StateConnecting)

	localCert, err := leafOf(s.opts.Certificate)
	if err != nil {
		return nil, &Failure{Reason: ReasonConnection, Err: err}
	}
	s.localCert = localCert

	conn, err := s.opts.dial(ctx, s.device.PairingAddress(), network.DialOptions{
		Certificate: s.opts.Certificate,
		DialTimeout: s.opts.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	s.conn = conn
	defer func() {
		_ = conn.Close()
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	serverCert, err := network.PeerCertificate(conn)
	if err != nil {
		return nil, err
	}
	s.serverCert = serverCert

	if err := s.negotiate(); err != nil {
		return nil, err
	}
	s.transition(StateRoleNegotiated)

	secret, err := s.requestSecret(ctx)
	if err != nil {
		return nil, err
	}

	s.transition(StateVerifying)
	if err := s.verify(secret); err != nil {
		return nil, err
	}
	return serverCert, nil
}

func (s *Session) negotiate() error {
	request := newMessage(TypePairingRequest)
	request.ServiceName = s.opts.ServiceName
	request.ClientName = s.opts.ClientName
	ack, err := s.exchange(request, TypePairingRequestAck)
	if err != nil {
		return err
	}
	log.Debug().Str("device", s.device.Name).Str("server_name", ack.ServerName).Msg("pairing request acknowledged")

	offer := newMessage(TypeOptions)
	offer.InputEncodings = []Encoding{DefaultEncoding()}
	offer.OutputEncodings = []Encoding{DefaultEncoding()}
	offer.PreferredRole = RoleInput
	serverOptions, err := s.exchange(offer, TypeOptions)
	if err != nil {
		return err
	}

	encoding := DefaultEncoding()
	if !containsEncoding(serverOptions.OutputEncodings, encoding) {
		return &StatusError{Type: TypeOptions, Status: StatusBadConfiguration}
	}
	s.encoding = encoding

	configuration := newMessage(TypeConfiguration)
	configuration.Encoding = &encoding
	configuration.ClientRole = RoleInput
	_, err = s.exchange(configuration, TypeConfigurationAck)
	return err
}

func (s *Session) requestSecret(ctx context.Context) (string, error) {
	if s.prompt == nil {
		return "", ErrNoSecret
	}

	s.transition(StateSecretRequested)
	responder := newSecretResponder()
	s.prompt(responder)
	return responder.wait(ctx, s.opts.SecretTimeout)
}

func (s *Session) verify(secret string) error {
	raw, err := s.encoding.DecodeSecret(secret)
	if err != nil {
		return err
	}
	check, nonce := splitCode(s.encoding, raw)

	gamma, err := computeGamma(s.localCert, s.serverCert, nonce)
	if err != nil {
		return err
	}
	if !checkMatches(gamma, check) {
		return ErrSecretMismatch
	}

	message := newMessage(TypeSecret)
	message.Secret = gamma
	ack, err := s.exchange(message, TypeSecretAck)
	if err != nil {
		return err
	}
	if !gammaMatches(gamma, ack.Secret) {
		return ErrSecretMismatch
	}
	return nil
}

func (s *Session) exchange(out Message, wantType string) (Message, error) {
	if err := network.WriteMessage(s.conn, s.opts.Codec, out); err != nil {
		return Message{}, fmt.Errorf("send %s: %w", out.Type, err)
	}

	var in Message
	if err := network.ReadMessage(s.conn, s.opts.Codec, s.opts.MessageTimeout, &in); err != nil {
		return Message{}, fmt.Errorf("read %s: %w", wantType, err)
	}
	if err := expect(in, wantType); err != nil {
		return Message{}, err
	}
	return in, nil
}

func (s *Session) transition(next State) {
	s.state = next
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(next)
	}
}

func (s *Session) toFailure(ctx context.Context, err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	if ctx.Err() != nil || errors.Is(err, ErrNoSecret) {
		return &Failure{Reason: ReasonCancelled, Err: err}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status == StatusBadSecret {
		return &Failure{Reason: ReasonSecret, Err: err}
	}
	if errors.Is(err, ErrSecretMismatch) {
		return &Failure{Reason: ReasonSecret, Err: err}
	}
	return &Failure{Reason: ReasonConnection, Err: err}
}

func leafOf(certificate tls.Certificate) (*x509.Certificate, error) {
	if certificate.Leaf != nil {
		return certificate.Leaf, nil
	}
	if len(certificate.Certificate) == 0 {
		return nil, errors.New("pairing: no local certificate")
	}
	return x509.ParseCertificate(certificate.Certificate[0])
}

// remoteAddr is used only for logging on the device side.
func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
