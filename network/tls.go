package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	// DefaultDialTimeout bounds TCP connect plus TLS handshake.
	DefaultDialTimeout = 10 * time.Second
	// DefaultKeepAlivePeriod is the TCP keep-alive probe period.
	DefaultKeepAlivePeriod = 30 * time.Second
)

// HandshakeKind classifies a failed command-channel handshake.
type HandshakeKind int

const (
	// HandshakeGeneric is any failure other than a trust rejection.
	HandshakeGeneric HandshakeKind = iota
	// HandshakeNeedsPairing means one side does not trust the other's certificate.
	HandshakeNeedsPairing
)

func (k HandshakeKind) String() string {
	if k == HandshakeNeedsPairing {
		return "needs_pairing"
	}
	return "generic"
}

// HandshakeError wraps a dial or TLS handshake failure with its classification.
type HandshakeError struct {
	Kind HandshakeKind
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("network: handshake failed (%s): %v", e.Kind, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// NeedsPairing reports whether err is a handshake trust rejection.
func NeedsPairing(err error) bool {
	var handshakeErr *HandshakeError
	return errors.As(err, &handshakeErr) && handshakeErr.Kind == HandshakeNeedsPairing
}

// ClassifyHandshakeError wraps err as a HandshakeError.
//
// Unknown-authority failures on our side and TLS alerts sent by the peer (it
// rejected our certificate) classify as NeedsPairing.
func ClassifyHandshakeError(err error) *HandshakeError {
	if err == nil {
		return nil
	}
	var existing *HandshakeError
	if errors.As(err, &existing) {
		return existing
	}
	return &HandshakeError{Kind: classify(err), Err: err}
}

func classify(err error) HandshakeKind {
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return HandshakeNeedsPairing
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return HandshakeNeedsPairing
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" {
		return HandshakeNeedsPairing
	}
	return HandshakeGeneric
}

// DialOptions controls outbound TLS connections.
type DialOptions struct {
	Certificate tls.Certificate
	// Roots holds trusted peer certificates. Nil accepts any peer certificate.
	Roots           *x509.CertPool
	DialTimeout     time.Duration
	KeepAlivePeriod time.Duration
}

func (o DialOptions) withDefaults() DialOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.KeepAlivePeriod <= 0 {
		o.KeepAlivePeriod = DefaultKeepAlivePeriod
	}
	return o
}

// DialPairing opens the bootstrap TLS connection to a pairing endpoint. The
// server certificate is accepted without prior trust.
func DialPairing(ctx context.Context, address string, options DialOptions) (*tls.Conn, error) {
	opts := options.withDefaults()
	opts.Roots = nil
	return dialTLS(ctx, address, opts, &tls.Config{
		Certificates:       []tls.Certificate{opts.Certificate},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	})
}

// DialCommand opens the mutually authenticated command-channel connection.
//
// TLS 1.2 is pinned so a peer rejecting our certificate fails the handshake
// itself rather than the first read. Failures are returned as *HandshakeError.
func DialCommand(ctx context.Context, address string, options DialOptions) (*tls.Conn, error) {
	opts := options.withDefaults()
	if opts.Roots == nil {
		return nil, &HandshakeError{Kind: HandshakeNeedsPairing, Err: errors.New("no trusted certificates")}
	}

	conn, err := dialTLS(ctx, address, opts, &tls.Config{
		Certificates:       []tls.Certificate{opts.Certificate},
		InsecureSkipVerify: true,
		VerifyConnection:   verifyPeerAgainst(func() *x509.CertPool { return opts.Roots }, x509.ExtKeyUsageServerAuth),
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS12,
	})
	if err != nil {
		return nil, ClassifyHandshakeError(err)
	}
	return conn, nil
}

func dialTLS(ctx context.Context, address string, opts DialOptions, config *tls.Config) (*tls.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: opts.KeepAlivePeriod,
		},
		Config: config,
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}

	tlsConn := conn.(*tls.Conn)
	if tcpConn, ok := tlsConn.NetConn().(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return tlsConn, nil
}

// ServerConfig builds the device-side TLS config. A nil clientRoots accepts
// any client certificate (pairing); otherwise the client must chain to the
// pool returned at handshake time.
func ServerConfig(certificate tls.Certificate, clientRoots func() *x509.CertPool) *tls.Config {
	config := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	if clientRoots != nil {
		config.VerifyConnection = verifyPeerAgainst(clientRoots, x509.ExtKeyUsageClientAuth)
	}
	return config
}

// verifyPeerAgainst checks the peer chain against a pool without host name checks.
func verifyPeerAgainst(roots func() *x509.CertPool, usage x509.ExtKeyUsage) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("network: peer presented no certificate")
		}

		intermediates := x509.NewCertPool()
		for _, cert := range cs.PeerCertificates[1:] {
			intermediates.AddCert(cert)
		}

		_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
			Roots:         roots(),
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{usage},
		})
		return err
	}
}

// PeerCertificate returns the leaf certificate presented by the remote side.
func PeerCertificate(conn *tls.Conn) (*x509.Certificate, error) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("network: peer presented no certificate")
	}
	return state.PeerCertificates[0], nil
}
