// Package remote connects to a television, keeps the command channel alive
// and reports its lifecycle to listeners.
package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tvremote/models"
	"tvremote/network"
	"tvremote/pairing"
	"tvremote/storage"
)

const (
	// DefaultMaxAttempts bounds command-channel handshakes per connect attempt.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay separates consecutive handshakes.
	DefaultRetryDelay = time.Second
)

// State is the supervisor's connection status.
type State int

const (
	StateIdle State = iota
	StatePairing
	StateConnecting
	StateConnected
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePairing:
		return "pairing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TrustStore is the subset of trust.Store the supervisor needs.
type TrustStore interface {
	KeyMaterial() (tls.Certificate, error)
	TrustMaterial() *x509.CertPool
	IsTrusted(deviceName string) bool
	RecordTrustedPeer(cert *x509.Certificate, deviceName string) (string, error)
}

type securityEventLogger interface {
	LogSecurityEvent(eventType, deviceName, severity string, details map[string]any)
}

type pairFunc func(ctx context.Context, device models.Device, prompt pairing.SecretPrompt) (*x509.Certificate, error)

type dialFunc func(ctx context.Context, device models.Device) (net.Conn, error)

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	ClientName  string
	MaxAttempts int
	RetryDelay  time.Duration
	DialTimeout time.Duration

	// Pairing carries codec, service name and secret timeout for pairing runs.
	// Certificate and ClientName are filled in per attempt.
	Pairing pairing.Options
	// Channel configures command channels; OnLost is owned by the supervisor.
	Channel ChannelOptions

	pair pairFunc
	dial dialFunc
}

func (o SupervisorOptions) withDefaults() SupervisorOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = network.DefaultDialTimeout
	}
	if o.Channel.ClientName == "" {
		o.Channel.ClientName = o.ClientName
	}
	return o
}

// Supervisor drives pairing, connection retries and liveness for one target
// television at a time.
type Supervisor struct {
	trust TrustStore
	opts  SupervisorOptions

	mu         sync.Mutex
	listeners  []registration
	listenerID uint64
	target     *models.Device
	state      State
	attempt    int
	generation uint64
	cancel     context.CancelFunc
	session    *Session
}

// NewSupervisor returns an idle supervisor.
func NewSupervisor(trust TrustStore, options SupervisorOptions) *Supervisor {
	s := &Supervisor{
		trust: trust,
		opts:  options.withDefaults(),
		state: StateIdle,
	}
	if s.opts.pair == nil {
		s.opts.pair = s.pairWithDevice
	}
	if s.opts.dial == nil {
		s.opts.dial = s.dialCommand
	}
	return s
}

// AddListener registers l for notifications and returns a func that
// unregisters it. Calling the returned func more than once is a no-op.
func (s *Supervisor) AddListener(l Listener) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenerID++
	id := s.listenerID
	s.listeners = append(s.listeners, registration{id: id, listener: l})
	return func() {
		s.removeListener(id)
	}
}

func (s *Supervisor) removeListener(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// State returns the current status.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the handshake counter of the current attempt.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// CurrentDevice returns the target television, if any.
func (s *Supervisor) CurrentDevice() (models.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return models.Device{}, false
	}
	return *s.target, true
}

// Session returns the live session, or nil.
func (s *Supervisor) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Connect targets device. It returns true when device is already connected;
// otherwise any attempt in flight is cancelled and a new one starts in the
// background, reporting through listeners.
func (s *Supervisor) Connect(device models.Device) bool {
	s.mu.Lock()
	if s.session != nil && s.target != nil && s.target.Equal(device) {
		s.mu.Unlock()
		return true
	}

	old := s.resetLocked()
	target := device
	s.target = &target
	s.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	gen := s.generation
	s.mu.Unlock()

	closeQuietly(old)
	go s.runAttempt(ctx, gen, device)
	return false
}

// Reconnect starts a fresh attempt against the current target.
func (s *Supervisor) Reconnect() bool {
	s.mu.Lock()
	if s.target == nil {
		s.mu.Unlock()
		return false
	}
	device := *s.target
	old := s.resetLocked()
	s.state = StateIdle
	s.mu.Unlock()

	closeQuietly(old)
	s.Connect(device)
	return true
}

// Cancel abandons the attempt in flight. No notification is delivered for it.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.generation++
	if s.state == StatePairing || s.state == StateConnecting {
		s.state = StateIdle
	}
}

// Disconnect tears down the live session in the background. Listeners get
// OnDisconnected when a session was actually closed.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	session := s.resetLocked()
	if session != nil {
		s.state = StateDisconnected
	} else if s.state != StateFailed {
		s.state = StateIdle
	}
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	if session == nil {
		return
	}
	go func() {
		if session.channel.Disconnect() {
			for _, l := range listeners {
				l.OnDisconnected()
			}
		}
	}()
}

// resetLocked cancels any attempt, detaches the session and invalidates
// callbacks from both.
func (s *Supervisor) resetLocked() *Session {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.attempt = 0
	session := s.session
	s.session = nil
	return session
}

func closeQuietly(session *Session) {
	if session != nil {
		go session.channel.Disconnect()
	}
}

func (s *Supervisor) snapshotLocked() []Listener {
	listeners := make([]Listener, 0, len(s.listeners))
	for _, r := range s.listeners {
		listeners = append(listeners, r.listener)
	}
	return listeners
}

// current reports whether gen is still the live attempt and returns listeners.
func (s *Supervisor) current(gen uint64) ([]Listener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, false
	}
	return s.snapshotLocked(), true
}

func (s *Supervisor) setState(gen uint64, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.state = state
	}
}

func (s *Supervisor) setAttempt(gen uint64, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.attempt = attempt
	}
}

func (s *Supervisor) runAttempt(ctx context.Context, gen uint64, device models.Device) {
	logger := log.With().Str("device", device.Name).Str("component", "supervisor").Logger()

	pairedNow := false
	if !s.trust.IsTrusted(device.Name) {
		if err := s.pair(ctx, gen, device, logger); err != nil {
			s.fail(ctx, gen, device, err, logger)
			return
		}
		pairedNow = true
	}

	conn, err := s.connectWithRetry(ctx, gen, device, logger)
	if err != nil && network.NeedsPairing(err) && !pairedNow && ctx.Err() == nil {
		logger.Info().Msg("television no longer trusts this remote, pairing again")
		if pairErr := s.pair(ctx, gen, device, logger); pairErr != nil {
			s.fail(ctx, gen, device, pairErr, logger)
			return
		}
		conn, err = s.connectWithRetry(ctx, gen, device, logger)
	}
	if err != nil {
		s.fail(ctx, gen, device, err, logger)
		return
	}

	s.established(ctx, gen, device, conn, logger)
}

func (s *Supervisor) pair(ctx context.Context, gen uint64, device models.Device, logger zerolog.Logger) error {
	s.setState(gen, StatePairing)
	logger.Info().Msg("pairing with television")

	cert, err := s.opts.pair(ctx, device, func(responder pairing.SecretResponder) {
		listeners, ok := s.current(gen)
		if !ok {
			responder.Cancel()
			return
		}
		for _, l := range listeners {
			l.OnPairingCodeRequired(responder)
		}
	})
	if err != nil {
		if !pairing.IsCancelled(err) {
			s.logSecurityEvent(storage.EventPairingFailed, device.Name, storage.SecuritySeverityWarning, map[string]any{
				"error": err.Error(),
			})
		}
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if _, err := s.trust.RecordTrustedPeer(cert, device.Name); err != nil {
		return fmt.Errorf("record trusted television: %w", err)
	}
	s.setState(gen, StateConnecting)
	return nil
}

func (s *Supervisor) connectWithRetry(ctx context.Context, gen uint64, device models.Device, logger zerolog.Logger) (net.Conn, error) {
	s.setState(gen, StateConnecting)

	// WithMaxRetries treats zero as unlimited.
	var retries backoff.BackOff = &backoff.StopBackOff{}
	if s.opts.MaxAttempts > 1 {
		retries = backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryDelay), uint64(s.opts.MaxAttempts-1))
	}
	policy := backoff.WithContext(retries, ctx)

	var (
		conn    net.Conn
		attempt int
	)
	operation := func() error {
		attempt++
		s.setAttempt(gen, attempt)

		c, err := s.opts.dial(ctx, device)
		if err != nil {
			if network.NeedsPairing(err) {
				s.logSecurityEvent(storage.EventHandshakeRejected, device.Name, storage.SecuritySeverityWarning, map[string]any{
					"attempt": attempt,
					"error":   err.Error(),
				})
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("command channel handshake failed")
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if ctx.Err() != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Supervisor) established(ctx context.Context, gen uint64, device models.Device, conn net.Conn, logger zerolog.Logger) {
	channelOpts := s.opts.Channel
	channelOpts.OnLost = func(err error) {
		s.lost(gen, err)
	}

	s.mu.Lock()
	if gen != s.generation || ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	session := newSession(device, NewChannel(conn, channelOpts))
	s.session = session
	s.state = StateConnected
	s.cancel = nil
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	logger.Info().Msg("connected")
	for _, l := range listeners {
		l.OnConnected(session)
	}
}

func (s *Supervisor) fail(ctx context.Context, gen uint64, device models.Device, err error, logger zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.cancel = nil
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	logger.Warn().Err(err).Msg("connection attempt failed")
	for _, l := range listeners {
		l.OnConnectionFailed()
	}
}

func (s *Supervisor) lost(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.state = StateDisconnected
	hadTarget := s.target != nil
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	log.Warn().Err(err).Msg("connection lost")
	if !hadTarget {
		return
	}
	for _, l := range listeners {
		l.OnDisconnected()
	}
}

func (s *Supervisor) logSecurityEvent(eventType, deviceName, severity string, details map[string]any) {
	if logger, ok := s.trust.(securityEventLogger); ok {
		logger.LogSecurityEvent(eventType, deviceName, severity, details)
	}
}

func (s *Supervisor) pairWithDevice(ctx context.Context, device models.Device, prompt pairing.SecretPrompt) (*x509.Certificate, error) {
	certificate, err := s.trust.KeyMaterial()
	if err != nil {
		return nil, err
	}

	opts := s.opts.Pairing
	opts.Certificate = certificate
	opts.ClientName = s.opts.ClientName
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = s.opts.DialTimeout
	}
	return pairing.Pair(ctx, device, opts, prompt)
}

func (s *Supervisor) dialCommand(ctx context.Context, device models.Device) (net.Conn, error) {
	certificate, err := s.trust.KeyMaterial()
	if err != nil {
		return nil, err
	}
	return network.DialCommand(ctx, device.CommandAddress(), network.DialOptions{
		Certificate: certificate,
		Roots:       s.trust.TrustMaterial(),
		DialTimeout: s.opts.DialTimeout,
	})
}

// ErrNotConnected is returned by helpers that need a live session.
var ErrNotConnected = errors.New("remote: not connected")

// Send queues cmd on the live session.
func (s *Supervisor) Send(cmd Command) error {
	session := s.Session()
	if session == nil {
		return ErrNotConnected
	}
	return session.Send(cmd)
}
